package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ursprung-go/collection-system/internal/actions"
)

// pgxQuerier is the pgx-backed actions.Querier DBTRANSFER runs its
// incremental FROMDSN queries through, rendering each result row as a
// comma-joined CSV record the same way every other sink input does.
type pgxQuerier struct {
	pool *pgxpool.Pool
}

func (q *pgxQuerier) Query(ctx context.Context, query string) ([]string, error) {
	rows, err := q.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		fields := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				fields[i] = ""
				continue
			}
			fields[i] = fmt.Sprint(v)
		}
		out = append(out, strings.Join(fields, ","))
	}
	return out, rows.Err()
}

// sourcePool caches FROMDSN connections by DSN, since several DBTRANSFER
// rules can legitimately point at the same source database.
type sourcePool struct {
	mtx   sync.Mutex
	pools map[string]*pgxpool.Pool
}

func newSourcePool() *sourcePool {
	return &sourcePool{pools: make(map[string]*pgxpool.Pool)}
}

func (sp *sourcePool) dial(dsn string) (actions.Querier, error) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	if pool, ok := sp.pools[dsn]; ok {
		return &pgxQuerier{pool: pool}, nil
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("provconsumer: connecting to source %s: %w", dsn, err)
	}
	sp.pools[dsn] = pool
	return &pgxQuerier{pool: pool}, nil
}

func (sp *sourcePool) Close() {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	for _, pool := range sp.pools {
		pool.Close()
	}
}
