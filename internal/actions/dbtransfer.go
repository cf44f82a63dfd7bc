package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ursprung-go/collection-system/internal/actionstate"
	"github.com/ursprung-go/collection-system/internal/event"
)

// Querier is the minimal source-database surface DBTRANSFER needs: run a
// query and get back rows already rendered as CSV, the first column
// being the state attribute. A thin wrapper around pgx lives at the
// call site that wires this interface up to a concrete connection.
type Querier interface {
	Query(ctx context.Context, query string) ([]string, error)
}

// DBTransferAction runs an incremental query against a source database
// and forwards newly seen rows to a sink, persisting the row's leading
// state-attribute value as a watermark so re-firing only pulls new rows.
//
// "DBTRANSFER query/stateAttribute FROMDSN dsn INTO dest"
type DBTransferAction struct {
	spec      string
	query     string
	stateAttr string
	dsn       string
	dest      Destination
	sink      Sink
	state     actionstateBackendWithRuleID
	source    Querier

	mtx       sync.Mutex
	watermark string
	haveState bool
}

// actionstateBackendWithRuleID pairs an actionstate.Backend with the
// ruleID it stores state under, so DBTransferAction doesn't have to
// thread ruleID through every call.
type actionstateBackendWithRuleID struct {
	backend actionstate.Backend
	ruleID  string
}

func newDBTransferAction(spec, ruleID string, deps Deps) (Action, error) {
	body := strings.TrimPrefix(spec, dbTransferRule+" ")
	fromPos := strings.Index(body, " FROMDSN ")
	if fromPos < 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing FROMDSN)", spec)
	}
	queryStateField := strings.TrimSpace(body[:fromPos])
	slashPos := strings.LastIndex(queryStateField, "/")
	if slashPos < 0 {
		return nil, fmt.Errorf("actions: %q missing query/stateAttribute separator", spec)
	}
	query := queryStateField[:slashPos]
	stateAttr := queryStateField[slashPos+1:]

	rest := body[fromPos+len(" FROMDSN "):]
	intoPos := strings.Index(rest, " INTO ")
	if intoPos < 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing INTO)", spec)
	}
	dsn := strings.TrimSpace(rest[:intoPos])
	destStr := strings.TrimSpace(rest[intoPos+len(" INTO "):])

	dest, err := ParseDestination(destStr)
	if err != nil {
		return nil, fmt.Errorf("actions: DBTRANSFER %w", err)
	}
	sink, err := deps.OpenSink(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: DBTRANSFER could not open sink: %w", err)
	}
	stateBackend, err := deps.OpenState(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: DBTRANSFER could not open state backend: %w", err)
	}

	a := &DBTransferAction{
		spec:      spec,
		query:     query,
		stateAttr: stateAttr,
		dsn:       dsn,
		dest:      dest,
		sink:      sink,
		state: actionstateBackendWithRuleID{
			backend: stateBackend,
			ruleID:  ruleID,
		},
	}
	if deps.DialSource != nil {
		source, err := deps.DialSource(dsn)
		if err != nil {
			return nil, fmt.Errorf("actions: DBTRANSFER could not dial source %s: %w", dsn, err)
		}
		a.source = source
	}
	return a, nil
}

// SetQuerier overrides the source-database connection DialSource dialed,
// for tests that want to inject a fake Querier directly.
func (a *DBTransferAction) SetQuerier(q Querier) { a.source = q }

func (a *DBTransferAction) Execute(ctx context.Context, ev event.Event) error {
	a.mtx.Lock()
	if !a.haveState {
		state, ok, err := a.state.backend.LookupState(ctx, a.state.ruleID, "")
		if err != nil {
			a.mtx.Unlock()
			return fmt.Errorf("actions: DBTRANSFER: restoring state: %w", err)
		}
		if ok {
			a.watermark = state
		} else if err := a.state.backend.InsertState(ctx, a.state.ruleID, "", ""); err != nil {
			a.mtx.Unlock()
			return fmt.Errorf("actions: DBTRANSFER: initializing state: %w", err)
		}
		a.haveState = true
	}
	watermark := a.watermark
	a.mtx.Unlock()

	if a.source == nil {
		return fmt.Errorf("actions: DBTRANSFER: no source database connection configured for %s", a)
	}

	query := a.query + " where " + a.stateAttr + " is not null"
	if watermark != "" {
		query += " and " + a.stateAttr + " > '" + watermark + "'"
	}
	query += " order by " + a.stateAttr + " desc"

	rows, err := a.source.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("actions: DBTRANSFER: querying source: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	newWatermark := firstField(rows[0])
	if err := a.state.backend.UpdateState(ctx, a.state.ruleID, newWatermark, ""); err != nil {
		return fmt.Errorf("actions: DBTRANSFER: updating watermark: %w", err)
	}
	a.mtx.Lock()
	a.watermark = newWatermark
	a.mtx.Unlock()

	return a.sink.SendBatch(ctx, rows)
}

func firstField(row string) string {
	if i := strings.IndexByte(row, ','); i >= 0 {
		return row[:i]
	}
	return row
}

func (a *DBTransferAction) Type() string           { return dbTransferRule }
func (a *DBTransferAction) NumConsumerThreads() int { return 1 }
func (a *DBTransferAction) String() string          { return a.spec }
