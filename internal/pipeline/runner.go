package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"

	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/rules"
)

// DefaultBatchSize and DefaultBatchTimeout match the original consumer's
// batch_size default of 10000 and its BATCH_TIMEOUT of 5 seconds.
const (
	DefaultBatchSize    = 10000
	DefaultBatchTimeout = 5 * time.Second
)

// Source receives one event at a time from an input transport (Kafka, a
// spool directory, auditd itself). Recv returns OK with a valid event,
// Retry on a transient failure the runner should log and keep going past,
// NoRetry or EOF to signal the runner should stop.
type Source interface {
	Recv(ctx context.Context) (event.Event, Outcome)
}

// Sink delivers a completed batch to an output transport or storage layer.
type Sink interface {
	SendBatch(ctx context.Context, batch []event.Event) Outcome
}

// ActionRunner executes the actions attached to a matched rule against the
// event that triggered it. It is implemented by internal/actions.
type ActionRunner interface {
	Run(ctx context.Context, specs []string, ev event.Event) error
}

// Runner drives the receive/evaluate/send loop described for AbstractConsumer:
// accumulate a batch from Source, evaluate it against the rule engine (if
// one is configured), hand the batch to Sink, then repeat.
type Runner struct {
	Source       Source
	Sink         Sink
	Engine       *rules.Engine
	Actions      ActionRunner
	Log          *logger.Logger
	BatchSize    int
	BatchTimeout time.Duration

	mtx     sync.Mutex
	running bool
}

// Run drives the loop until ctx is canceled or the source signals NoRetry
// or EOF. It always returns nil; action errors are logged, not returned.
func (r *Runner) Run(ctx context.Context) error {
	r.mtx.Lock()
	r.running = true
	r.mtx.Unlock()
	defer func() {
		r.mtx.Lock()
		r.running = false
		r.mtx.Unlock()
	}()

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchTimeout := r.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	for ctx.Err() == nil {
		batch, stop := r.collectBatch(ctx, batchSize, batchTimeout)
		if len(batch) > 0 {
			r.logInfo("submitting batch", logger.KV("size", len(batch)))
			if outcome := r.Sink.SendBatch(ctx, batch); outcome != OK {
				r.logError("problems sending batch, events may be lost", logger.KV("outcome", outcome.String()))
			}
		}
		if stop {
			return nil
		}
	}
	return nil
}

// Stopped reports whether Run has returned.
func (r *Runner) Stopped() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return !r.running
}

// collectBatch accumulates events until batchSize is reached, batchTimeout
// elapses with at least one event buffered, or the source tells us to stop.
// The stop return mirrors ERROR_NO_RETRY/ERROR_EOF terminating the
// original consumer's outer loop.
func (r *Runner) collectBatch(ctx context.Context, batchSize int, batchTimeout time.Duration) ([]event.Event, bool) {
	var batch []event.Event
	start := time.Now()
	for ctx.Err() == nil {
		ev, outcome := r.Source.Recv(ctx)
		switch outcome {
		case OK:
			batch = append(batch, ev)
			if err := r.evaluate(ctx, ev); err != nil {
				r.logError("problems running actions, provenance may be lost", logger.KVErr(err))
			}
		case NoRetry, EOF:
			return batch, true
		default: // Retry
			r.logDebug("transient receive error, continuing")
		}

		if len(batch) >= batchSize {
			return batch, false
		}
		if len(batch) > 0 && time.Since(start) >= batchTimeout {
			return batch, false
		}
	}
	return batch, ctx.Err() != nil
}

func (r *Runner) evaluate(ctx context.Context, ev event.Event) error {
	if r.Engine == nil || !r.Engine.HasRules() || r.Actions == nil {
		return nil
	}
	var firstErr error
	for _, rule := range r.Engine.Matching(ev) {
		if err := r.Actions.Run(ctx, rule.ActionSpecs, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Runner) logInfo(msg string, sds ...rfc5424.SDParam) {
	if r.Log != nil {
		r.Log.Info(msg, sds...)
	}
}

func (r *Runner) logError(msg string, sds ...rfc5424.SDParam) {
	if r.Log != nil {
		r.Log.Error(msg, sds...)
	}
}

func (r *Runner) logDebug(msg string, sds ...rfc5424.SDParam) {
	if r.Log != nil {
		r.Log.Debug(msg, sds...)
	}
}
