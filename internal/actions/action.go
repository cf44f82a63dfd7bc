// Package actions implements the rule engine's action catalog: DBLOAD,
// DBTRANSFER, LOGLOAD, TRACK and CAPTURESOUT. Each action type owns its
// own consumer worker pool sized per the defaults in the scheduling
// model; matched events are handed off through a bounded queue of 1024
// events per action, so a slow action blocks the rule evaluation loop
// only once its queue is full.
package actions

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ursprung-go/collection-system/internal/actionstate"
	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/pipeline"
)

// Sink accepts batches of already-formatted CSV records, the common
// output shape every action other than TRACK produces. internal/dbsink
// and the flat-file sink both implement it.
type Sink interface {
	SendBatch(ctx context.Context, records []string) error
}

// Action is the interface every rule action implements. Execute runs
// once per matched event; actions that batch internally (LOGLOAD tailing
// a file, DBTRANSFER querying a source table) do their own batching
// inside Execute and call Sink.SendBatch themselves.
type Action interface {
	Execute(ctx context.Context, ev event.Event) error
	Type() string
	NumConsumerThreads() int
	String() string
}

// action names, matched against the leading token of a rule's action spec.
const (
	dbLoadRule       = "DBLOAD"
	dbTransferRule   = "DBTRANSFER"
	logLoadRule      = "LOGLOAD"
	trackRule        = "TRACK"
	captureStdoutRule = "CAPTURESOUT"
)

// ProvdClient is the subset of internal/provdclient's client that
// StdoutCaptureAction needs. Declaring it here (rather than importing
// provdclient directly) keeps internal/actions free of a dependency on
// the provd wire protocol package.
type ProvdClient interface {
	TraceProcess(ctx context.Context, pid int, matchRegex string) (<-chan string, error)
	StopTrace(ctx context.Context, pid int) error
}

// Deps supplies the factories actions need to resolve the destination
// and state-backend clauses of an action spec into live objects. Callers
// (cmd/provconsumer) wire these to concrete internal/dbsink,
// internal/actionstate and internal/provdclient implementations.
type Deps struct {
	OpenSink   func(dst Destination) (Sink, error)
	OpenState  func(dst Destination) (actionstate.Backend, error)
	DialSource func(dsn string) (Querier, error)
	DialProvd  func(host string) (ProvdClient, error)
	Log        *logger.Logger
}

// Parse dispatches on the leading token of an action spec and builds the
// matching Action, mirroring Action::parse_action.
func Parse(spec, ruleID string, deps Deps) (Action, error) {
	trimmed := strings.TrimSpace(spec)
	word := firstWord(trimmed)
	switch word {
	case dbLoadRule:
		return newDBLoadAction(trimmed, ruleID, deps)
	case dbTransferRule:
		return newDBTransferAction(trimmed, ruleID, deps)
	case logLoadRule:
		return newLogLoadAction(trimmed, ruleID, deps)
	case trackRule:
		return newTrackAction(trimmed, ruleID, deps)
	case captureStdoutRule:
		return newStdoutCaptureAction(trimmed, ruleID, deps)
	default:
		return nil, fmt.Errorf("actions: no action type matched for %q", spec)
	}
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// runningAction pairs a parsed Action with the bounded queue and worker
// pool feeding it, grounded on Action::run_consumer/start_action_consumers.
type runningAction struct {
	action Action
	queue  *pipeline.Queue[event.Event]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startAction(ctx context.Context, a Action, log *logger.Logger) *runningAction {
	actionCtx, cancel := context.WithCancel(ctx)
	ra := &runningAction{
		action: a,
		queue:  pipeline.NewQueue[event.Event](1024),
		cancel: cancel,
	}
	n := a.NumConsumerThreads()
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		ra.wg.Add(1)
		go func() {
			defer ra.wg.Done()
			for {
				ev, ok := ra.queue.Pop(actionCtx)
				if !ok {
					return
				}
				if err := a.Execute(actionCtx, ev); err != nil && log != nil {
					log.Error("action execution failed",
						logger.KV("action", a.String()),
						logger.KVErr(err))
				}
			}
		}()
	}
	return ra
}

func (ra *runningAction) stop() {
	ra.cancel()
	ra.wg.Wait()
}

// Dispatcher implements pipeline.ActionRunner: it parses each rule's
// action specs on first use, starting one runningAction (with its own
// worker pool) per distinct (ruleID, spec) pair, and fans matched events
// out to them. Run returns as soon as each event is queued; it blocks
// while an action's queue is full.
type Dispatcher struct {
	deps Deps

	mtx     sync.Mutex
	actions map[string]*runningAction
}

func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps, actions: make(map[string]*runningAction)}
}

// Run implements pipeline.ActionRunner.
func (d *Dispatcher) Run(ctx context.Context, specs []string, ev event.Event) error {
	var firstErr error
	for _, spec := range specs {
		ra, err := d.getOrStart(ctx, spec)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ra.queue.Push(ctx, ev)
	}
	return firstErr
}

func (d *Dispatcher) getOrStart(ctx context.Context, spec string) (*runningAction, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if ra, ok := d.actions[spec]; ok {
		return ra, nil
	}
	a, err := Parse(spec, ruleIDFor(spec), d.deps)
	if err != nil {
		return nil, err
	}
	ra := startAction(ctx, a, d.deps.Log)
	d.actions[spec] = ra
	return ra, nil
}

// ruleIDFor derives a stable state-backend key from an action spec's own
// text, since the Dispatcher only ever sees specs, not the Rule they
// came from. Two rules sharing the identical action spec intentionally
// share state under this scheme.
func ruleIDFor(spec string) string {
	sum := md5.Sum([]byte(spec))
	return hex.EncodeToString(sum[:])
}

// Close stops every running action's worker pool.
func (d *Dispatcher) Close() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, ra := range d.actions {
		ra.stop()
	}
}
