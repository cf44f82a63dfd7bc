// Command prov-consumer reads extracted events off the configured
// transport, evaluates them against a rule file, and dispatches the
// actions attached to every matching rule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ursprung-go/collection-system/internal/actions"
	"github.com/ursprung-go/collection-system/internal/config"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/pipeline"
	"github.com/ursprung-go/collection-system/internal/rules"
	"github.com/ursprung-go/collection-system/internal/version"
)

func main() {
	cfgPath := flag.String("c", "", "path to the consumer configuration file")
	logFile := flag.String("l", "", "log file path, overriding the configuration's log-file")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		version.Print(os.Stdout, appName)
		return
	}

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: prov-consumer -c <configFile> [-l <logfile>]")
		os.Exit(-1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(-1)
	}

	lg, err := newLogger(cfg, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(-1)
	}
	defer lg.Close()

	engine := rules.NewEngine()
	if cfg.RuleEngine.Rule_File != "" {
		if err := engine.LoadFile(cfg.RuleEngine.Rule_File); err != nil {
			lg.FatalCode(-1, "failed to load rule file", logger.KVErr(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("received shutdown signal")
		cancel()
	}()

	deps, dd, err := newDeps(cfg, lg)
	if err != nil {
		lg.FatalCode(-1, "failed to wire action dependencies", logger.KVErr(err))
	}
	defer dd.Close()

	dispatcher := actions.NewDispatcher(deps)
	defer dispatcher.Close()

	source, closeSource, err := newSource(ctx, cfg, lg)
	if err != nil {
		lg.FatalCode(-1, "failed to open input transport", logger.KVErr(err))
	}
	defer closeSource()

	runner := &pipeline.Runner{
		Source:  source,
		Sink:    noopSink{},
		Engine:  engine,
		Actions: dispatcher,
		Log:     lg,
	}
	if cfg.DB.Batch_Size > 0 {
		runner.BatchSize = cfg.DB.Batch_Size
	}

	if err := runner.Run(ctx); err != nil {
		lg.FatalCode(-1, "consumer loop exited with error", logger.KVErr(err))
	}
	lg.Info("prov-consumer exiting")
}
