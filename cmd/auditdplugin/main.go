// Command auditd-plugin is the collector: it runs the three-stage
// extractor/transformer/loader pipeline against the raw audit record
// stream arriving on standard input, typically piped in by the audit
// dispatcher, and publishes reaped events to the configured transport.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ursprung-go/collection-system/internal/auditparse"
	"github.com/ursprung-go/collection-system/internal/config"
	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/loader"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/osmodel"
	"github.com/ursprung-go/collection-system/internal/pipeline"
	"github.com/ursprung-go/collection-system/internal/version"
)

// reapInterval bounds how long a completed entity can sit in the process
// table before the transformer flushes it to the loader, independent of
// how quickly new audit records are arriving on stdin.
const reapInterval = time.Second

// extractorQueueDepth is the bounded hand-off between the extractor
// goroutine (stage 1) and the transformer goroutine (stages 2-3) that
// spec.md §2 describes as a three-stage pipeline of bounded queues.
const extractorQueueDepth = 4096

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		version.Print(os.Stdout, "auditd-plugin")
		return
	}
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: auditd-plugin <configFile>")
		os.Exit(-1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(-1)
	}

	lg, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(-1)
	}
	defer lg.Close()

	xport, err := newTransport(cfg, lg)
	if err != nil {
		lg.FatalCode(-1, "failed to open transport", logger.KVErr(err))
	}
	defer xport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("received shutdown signal, draining stdin")
		cancel()
	}()

	queue := pipeline.NewQueue[*event.SyscallEvent](extractorQueueDepth)
	extractDone := make(chan struct{})
	go runExtractor(ctx, cfg, lg, queue, extractDone)

	runTransformer(ctx, cfg, lg, loader.New(xport), queue, extractDone)
	lg.Info("auditd-plugin exiting on stdin EOF")
}

// runExtractor is the stage-1 goroutine: it owns the Extractor and reads
// stdin, pushing completed SyscallEvents onto queue until EOF or ctx is
// cancelled, then signals done so the transformer can drain and stop.
func runExtractor(ctx context.Context, cfg *config.Config, lg *logger.Logger, queue *pipeline.Queue[*event.SyscallEvent], done chan<- struct{}) {
	defer close(done)

	extractor := auditparse.NewExtractor(auditparse.Config{FilterKey: cfg.Extractor.Filter_Key})
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		se, err := extractor.Feed(scanner.Text())
		if err != nil {
			lg.Debug("malformed audit record", logger.KVErr(err))
			continue
		}
		if se == nil {
			continue
		}
		if !queue.Push(ctx, se) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		lg.Error("error reading audit stream", logger.KVErr(err))
	}
}

// runTransformer is the stage-2/3 goroutine: the process table's sole
// owner, so it never needs internal locking. It applies every
// SyscallEvent the extractor hands it and reaps completed entities to
// the loader on a fixed interval, exiting once the extractor is done and
// the queue has drained.
func runTransformer(ctx context.Context, cfg *config.Config, lg *logger.Logger, ld *loader.Loader, queue *pipeline.Queue[*event.SyscallEvent], extractDone <-chan struct{}) {
	table := osmodel.New(osmodel.Config{
		NodeName:        cfg.Global.Node_Name,
		EmitSyscallEvts: cfg.Extractor.Emit_Syscall_Events,
		SlowdownBacklog: cfg.Extractor.Slowdown_Backlog,
	})

	flush := func() {
		for _, ev := range table.ReapCompleted() {
			if err := ld.Load(ctx, ev); err != nil {
				lg.Error("failed to publish event", logger.KV("type", ev.Type().String()), logger.KVErr(err))
			}
		}
	}

	lastFlush := time.Now()
	for {
		popCtx, cancel := context.WithTimeout(ctx, reapInterval)
		se, ok := queue.Pop(popCtx)
		cancel()
		if ok {
			if res := table.ApplySyscall(se); !res.OK {
				lg.Error("failed to apply syscall event to process model", logger.KV("syscall", se.Serialize()))
			}
			if time.Since(lastFlush) >= reapInterval {
				flush()
				lastFlush = time.Now()
			}
			continue
		}

		if ctx.Err() != nil {
			flush()
			return
		}
		flush() // popCtx's own deadline elapsed with no new records; reap on schedule
		lastFlush = time.Now()

		select {
		case <-extractDone:
			if queue.Len() == 0 {
				return
			}
		default:
		}
	}
}
