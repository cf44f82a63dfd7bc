package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ursprung-go/collection-system/internal/actions"
	"github.com/ursprung-go/collection-system/internal/actionstate"
	"github.com/ursprung-go/collection-system/internal/config"
	"github.com/ursprung-go/collection-system/internal/dbsink"
	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/pipeline"
	"github.com/ursprung-go/collection-system/internal/provdclient"
	"github.com/ursprung-go/collection-system/internal/transport"
)

const appName = "prov-consumer"

func newLogger(cfg *config.Config, logFileOverride string) (*logger.Logger, error) {
	logFile := cfg.Global.Log_File
	if logFileOverride != "" {
		logFile = logFileOverride
	}
	var lg *logger.Logger
	if logFile != "" {
		var err error
		lg, err = logger.NewFile(logFile, appName)
		if err != nil {
			return nil, err
		}
	} else {
		lg = logger.New(os.Stderr, appName)
	}
	if cfg.Global.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Global.Log_Level, err)
		}
	}
	return lg, nil
}

// newSource picks the consumer's input transport: Kafka when leaders are
// configured, the spool-directory fan-in otherwise, mirroring
// cmd/auditdplugin's output-side choice.
func newSource(ctx context.Context, cfg *config.Config, lg *logger.Logger) (pipeline.Source, func() error, error) {
	if len(cfg.Kafka.Leader) > 0 {
		ks, err := transport.NewKafkaSource(transport.KafkaConfig{
			Brokers:       cfg.Kafka.Leader,
			Topic:         cfg.Kafka.Topic,
			ConsumerGroup: cfg.Kafka.Consumer_Group,
			AuthType:      cfg.Kafka.Auth_Type,
			Username:      cfg.Kafka.Username,
			Password:      cfg.Kafka.Password,
			UseTLS:        cfg.Kafka.Use_TLS,
		}, lg)
		if err != nil {
			return nil, nil, err
		}
		go ks.Run(ctx)
		return ks, ks.Close, nil
	}

	pollInterval := time.Duration(cfg.File.Poll_Interval_MS) * time.Millisecond
	ss, err := newSpoolSource(ctx, cfg.File.Spool_Dir, pollInterval)
	if err != nil {
		return nil, nil, err
	}
	return ss, ss.Close, nil
}

// dbDeps groups the resources newDeps opens that main needs to close on
// shutdown, independent of whether any rule actually used them.
type dbDeps struct {
	pool    *pgxpool.Pool
	sources *sourcePool
}

func (d *dbDeps) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
	d.sources.Close()
}

// newDeps builds the actions.Deps factory set the rule engine's action
// parser uses to resolve INTO clauses into live sinks and state backends.
// Every DB destination shares the single pool configured by the [DB]
// section's DSN key; the per-destination user/host/port the DB grammar parses
// are carried through unused, since this system connects to one Postgres
// instance per consumer process rather than one per rule.
func newDeps(cfg *config.Config, lg *logger.Logger) (actions.Deps, *dbDeps, error) {
	dd := &dbDeps{sources: newSourcePool()}
	if cfg.DB.DSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DB.DSN)
		if err != nil {
			return actions.Deps{}, nil, fmt.Errorf("provconsumer: connecting to %s: %w", cfg.DB.DSN, err)
		}
		dd.pool = pool
	}

	openSink := func(dst actions.Destination) (actions.Sink, error) {
		switch dst.Kind {
		case "FILE":
			return actions.NewFileSink(dst.Path)
		case "DB":
			if dd.pool == nil {
				return nil, fmt.Errorf("provconsumer: DB destination %s requires [DB] DSN in config", dst.Table)
			}
			return dbsink.New(dd.pool, dbsink.TableSpec{Name: dst.Table, Columns: dst.Schema}), nil
		default:
			return nil, fmt.Errorf("provconsumer: unknown destination kind %q", dst.Kind)
		}
	}

	openState := func(dst actions.Destination) (actionstate.Backend, error) {
		var backend actionstate.Backend
		switch cfg.RuleEngine.Action_State_Backend {
		case "db":
			if cfg.DB.DSN == "" {
				return nil, fmt.Errorf("provconsumer: db action-state backend requires [DB] DSN in config")
			}
			backend = actionstate.NewDBBackend(cfg.DB.DSN, dst.Table)
		case "file", "":
			path := cfg.RuleEngine.Action_State_Path
			if path == "" {
				return nil, fmt.Errorf("provconsumer: file action-state backend requires action-state-path in config")
			}
			backend = actionstate.NewFileBackend(path)
		default:
			return nil, fmt.Errorf("provconsumer: unknown action-state-backend %q", cfg.RuleEngine.Action_State_Backend)
		}
		if err := backend.Connect(context.Background()); err != nil {
			return nil, fmt.Errorf("provconsumer: connecting action-state backend: %w", err)
		}
		return backend, nil
	}

	dialProvd := func(host string) (actions.ProvdClient, error) {
		return provdclient.New(host), nil
	}

	return actions.Deps{
		OpenSink:   openSink,
		OpenState:  openState,
		DialSource: dd.sources.dial,
		DialProvd:  dialProvd,
		Log:        lg,
	}, dd, nil
}

// noopSink discards batches: the consumer's real output happens per-rule
// via actions.Dispatcher, not through pipeline.Runner's own Sink. It exists
// only so Runner.Run has somewhere to report the events it already routed.
type noopSink struct{}

func (noopSink) SendBatch(ctx context.Context, batch []event.Event) pipeline.Outcome {
	return pipeline.OK
}
