package actionstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rulestateSchema is the table DBBackend expects to exist, taken directly
// from the DBStateBackend header comment:
//
//	CREATE table rulestate(
//	  id varchar(32) not null,
//	  actionname varchar(32),
//	  target varchar(128) not null,
//	  state varchar(64),
//	  primary key(id,target)
//	);
const rulestateTable = "rulestate"

// DBBackend stores action state in a shared Postgres table so that
// multiple consumer processes (or restarts of the same one) agree on
// progress. actionName is recorded alongside the rule id purely for
// operator visibility; lookups key only on (id, target).
type DBBackend struct {
	dsn        string
	actionName string
	pool       *pgxpool.Pool
}

func NewDBBackend(dsn, actionName string) *DBBackend {
	return &DBBackend{dsn: dsn, actionName: actionName}
}

func (d *DBBackend) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return fmt.Errorf("actionstate: connect: %w", err)
	}
	d.pool = pool
	return nil
}

func (d *DBBackend) Disconnect() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

func (d *DBBackend) InsertState(ctx context.Context, ruleID, state, target string) error {
	_, err := d.pool.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (id, actionname, target, state) VALUES ($1, $2, $3, $4)", rulestateTable),
		ruleID, d.actionName, target, state)
	return err
}

func (d *DBBackend) UpdateState(ctx context.Context, ruleID, state, target string) error {
	tag, err := d.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET state = $1, actionname = $2 WHERE id = $3 AND target = $4", rulestateTable),
		state, d.actionName, ruleID, target)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return d.InsertState(ctx, ruleID, state, target)
	}
	return nil
}

func (d *DBBackend) LookupState(ctx context.Context, ruleID, target string) (string, bool, error) {
	var state string
	err := d.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT state FROM %s WHERE id = $1 AND target = $2", rulestateTable),
		ruleID, target).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}
