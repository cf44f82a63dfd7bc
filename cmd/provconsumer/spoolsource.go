package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/pipeline"
	"github.com/ursprung-go/collection-system/internal/transport"
)

// spoolSource fans in every *.log file transport.FileTransport writes under
// a spool directory (one per event tag) into a single pipeline.Source, the
// consumer-side counterpart of the loader publishing to out-dst=File. It
// only tails the tag files present at startup: a deployment that adds a new
// event type to an already-running file-transport consumer needs a restart
// to pick up the new tag's file, a narrower guarantee than the Kafka path's
// single shared topic gives for free.
type spoolSource struct {
	ch     chan spoolMsg
	cancel context.CancelFunc
}

type spoolMsg struct {
	ev  event.Event
	out pipeline.Outcome
}

func newSpoolSource(ctx context.Context, dir string, pollInterval time.Duration) (*spoolSource, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, fmt.Errorf("provconsumer: globbing spool dir %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &spoolSource{ch: make(chan spoolMsg, 1024), cancel: cancel}
	for _, path := range matches {
		fs, err := transport.NewFileSource(path, pollInterval)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("provconsumer: opening spool file %s: %w", path, err)
		}
		go s.pump(ctx, fs)
	}
	return s, nil
}

func (s *spoolSource) pump(ctx context.Context, fs *transport.FileSource) {
	defer fs.Close()
	for {
		ev, out := fs.Recv(ctx)
		select {
		case s.ch <- spoolMsg{ev: ev, out: out}:
		case <-ctx.Done():
			return
		}
		if out == pipeline.EOF || out == pipeline.NoRetry {
			return
		}
	}
}

func (s *spoolSource) Recv(ctx context.Context) (event.Event, pipeline.Outcome) {
	select {
	case msg := <-s.ch:
		return msg.ev, msg.out
	case <-ctx.Done():
		return nil, pipeline.EOF
	}
}

func (s *spoolSource) Close() error {
	s.cancel()
	return nil
}
