// Package actionstate persists the per-rule, per-target progress markers
// actions use to avoid redoing work across restarts: DBTRANSFER's last
// imported row, LOGLOAD's last-read log offset. There are two backends, a
// flat file for single-host deployments and a shared DB table for
// multi-host ones, chosen in config the same way the rule engine's action
// state was picked in the original system.
package actionstate

import "context"

// Backend stores and retrieves state keyed by (ruleID, target). target
// disambiguates rules that fan out over more than one file or query (e.g.
// a TRACK rule matching several paths via a regex).
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect() error
	InsertState(ctx context.Context, ruleID, state, target string) error
	UpdateState(ctx context.Context, ruleID, state, target string) error
	// LookupState returns ("", false) if no state is on record yet.
	LookupState(ctx context.Context, ruleID, target string) (string, bool, error)
}
