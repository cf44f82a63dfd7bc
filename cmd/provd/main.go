// Command provd listens for trace_process/stop_trace requests over the
// provd wire protocol and fulfills them against the host's ptrace-based
// stdout capture, letting CAPTURESOUT actions running elsewhere observe a
// traced process's output without sharing a machine.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ursprung-go/collection-system/internal/config"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/provdproto"
	"github.com/ursprung-go/collection-system/internal/provdserver"
	"github.com/ursprung-go/collection-system/internal/version"
)

const appName = "provd"

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		version.Print(os.Stdout, appName)
		return
	}
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: provd <configFile>")
		os.Exit(-1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(-1)
	}

	var lg *logger.Logger
	if cfg.Global.Log_File != "" {
		lg, err = logger.NewFile(cfg.Global.Log_File, appName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(-1)
		}
	} else {
		lg = logger.New(os.Stderr, appName)
	}
	defer lg.Close()
	if cfg.Global.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			lg.FatalCode(-1, "invalid log level", logger.KV("level", cfg.Global.Log_Level))
		}
	}

	addr := cfg.Provd.Listen_Addr
	if addr == "" {
		addr = ":" + strconv.Itoa(provdproto.DefaultPort)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		lg.FatalCode(-1, "failed to listen", logger.KV("addr", addr), logger.KVErr(err))
	}

	srv := provdserver.New(provdserver.NewPtraceTracer(), lg)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("received shutdown signal")
		cancel()
	}()

	lg.Info("provd listening", logger.KV("addr", addr))
	if err := srv.Serve(ctx, ln); err != nil {
		lg.FatalCode(-1, "serve failed", logger.KVErr(err))
	}
	lg.Info("provd exiting")
}
