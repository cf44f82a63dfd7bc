// Package dbsink implements the SQL output side of the rule engine's
// DBLOAD/DBTRANSFER actions: batched, multi-row INSERTs, grounded on
// DBOutputStream's send_sync/send_batch. Most sinks are single-table,
// matching a DBLOAD/DBTRANSFER action's one "DB ... INTO table" clause;
// DBOutputStream's multiplex mode (routing by the leading CSV field) is
// also available for a sink shared across several record types.
package dbsink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TableSpec names a target table and the column order CSV records are
// inserted into, mirroring the "USING schema" clause of a DBLOAD/
// DBTRANSFER rule.
type TableSpec struct {
	Name    string
	Columns []string
}

// Sink batches CSV-encoded records for insertion. In the common,
// non-multiplexed case every record goes to a single table as-is. In
// multiplexed mode (DBOutputStream's set_multiplex_group) records are
// grouped by the value of their leading comma-delimited field before the
// rest of the record is inserted, letting several record kinds share one
// pooled connection and batcher.
type Sink struct {
	pool      *pgxpool.Pool
	batchSize int

	multiplex bool
	single    TableSpec
	tables    map[string]TableSpec
}

const defaultBatchSize = 1000

// New returns a single-table sink: every record in a SendBatch call is
// inserted into spec as-is, the mode every DBLOAD/DBTRANSFER destination
// uses.
func New(pool *pgxpool.Pool, spec TableSpec) *Sink {
	return &Sink{pool: pool, batchSize: defaultBatchSize, single: spec}
}

// NewMultiplexed returns a sink that routes each record to a table by the
// value of its leading CSV field, stripping that field before insertion.
func NewMultiplexed(pool *pgxpool.Pool, tables map[string]TableSpec) *Sink {
	return &Sink{pool: pool, batchSize: defaultBatchSize, multiplex: true, tables: tables}
}

func (s *Sink) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// SendBatch groups records by destination table (trivial in the single-
// table case) and issues one multi-row INSERT per batchSize chunk per
// table, retrying a failed chunk once; a chunk that fails twice is
// dropped and the first such error is returned.
func (s *Sink) SendBatch(ctx context.Context, records []string) error {
	grouped := make(map[string][][]string)
	if s.multiplex {
		for _, rec := range records {
			key, fields, err := splitRecord(rec)
			if err != nil {
				return err
			}
			grouped[key] = append(grouped[key], fields)
		}
	} else {
		rows := make([][]string, len(records))
		for i, rec := range records {
			rows[i] = strings.Split(rec, ",")
		}
		grouped[""] = rows
	}

	var firstErr error
	for key, rows := range grouped {
		spec, ok := s.tableFor(key)
		if !ok {
			continue // no destination configured for this record kind; drop silently like an un-multiplexed stream would.
		}
		for i := 0; i < len(rows); i += s.batchSize {
			end := i + s.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			err := s.insertBatch(ctx, spec, rows[i:end])
			if err != nil {
				// retry the chunk once on a fresh Exec before giving up on it
				err = s.insertBatch(ctx, spec, rows[i:end])
			}
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("dbsink: insert into %s: %w", spec.Name, err)
			}
		}
	}
	return firstErr
}

func (s *Sink) tableFor(key string) (TableSpec, bool) {
	if !s.multiplex {
		return s.single, true
	}
	spec, ok := s.tables[key]
	return spec, ok
}

func (s *Sink) insertBatch(ctx context.Context, spec TableSpec, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", spec.Name, strings.Join(spec.Columns, ", "))

	args := make([]interface{}, 0, len(rows)*len(spec.Columns))
	argN := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range spec.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", argN)
			argN++
			if j < len(row) && row[j] != "" && row[j] != "NA" {
				args = append(args, row[j])
			} else {
				// empty/NA fields become NULL, matching the VALUES-tuple
				// formatting the original SQL sink used before switching
				// to parameterized queries.
				args = append(args, nil)
			}
		}
		b.WriteByte(')')
	}

	_, err := s.pool.Exec(ctx, b.String(), args...)
	return err
}

// splitRecord separates the leading routing key from the remaining
// fields of one multiplexed CSV record.
func splitRecord(rec string) (string, []string, error) {
	fields := strings.Split(rec, ",")
	if len(fields) < 2 {
		return "", nil, fmt.Errorf("dbsink: malformed multiplexed record %q", rec)
	}
	return fields[0], fields[1:], nil
}
