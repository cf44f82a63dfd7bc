// Package provdserver implements the provd daemon side of the provd
// wire protocol: accept connections, dispatch trace_process/stop_trace
// requests to a platform Tracer, and stream back matched lines. The
// ptrace mechanism itself is platform-specific and out of scope for the
// protocol's own correctness (spec.md names it explicitly replaceable),
// so it sits behind the Tracer seam and a linux build tag.
package provdserver

import (
	"bufio"
	"context"
	"net"
	"regexp"
	"sync"

	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/provdproto"
)

// Tracer attaches to a running process and streams lines written to its
// stdout that match a regex, until Stop is called or the process exits.
type Tracer interface {
	Start(ctx context.Context, pid int, matchRegex *regexp.Regexp) (<-chan string, error)
	Stop(pid int) error
}

// Server accepts provd client connections and fulfills trace_process/
// stop_trace requests against a Tracer.
type Server struct {
	tracer Tracer
	log    *logger.Logger

	mtx     sync.Mutex
	cancels map[int]context.CancelFunc
}

func New(tracer Tracer, log *logger.Logger) *Server {
	return &Server{tracer: tracer, log: log, cancels: make(map[int]context.CancelFunc)}
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails, handling each connection in its own goroutine, mirroring the
// one-goroutine-per-connection shape of the transport package's kafka
// consumer-group routine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	op, pid, regex, err := provdproto.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		if s.log != nil {
			s.log.Error("provdserver: malformed request", logger.KVErr(err))
		}
		return
	}

	switch op {
	case provdproto.OpStopTrace:
		s.stopTrace(int(pid))
	case provdproto.OpTraceProcess:
		s.traceProcess(ctx, conn, int(pid), regex)
	}
}

func (s *Server) traceProcess(ctx context.Context, conn net.Conn, pid int, regex string) {
	re, err := regexp.Compile(regex)
	if err != nil {
		if s.log != nil {
			s.log.Error("provdserver: bad trace regex", logger.KV("regex", regex), logger.KVErr(err))
		}
		return
	}

	traceCtx, cancel := context.WithCancel(ctx)
	s.mtx.Lock()
	s.cancels[pid] = cancel
	s.mtx.Unlock()
	defer func() {
		s.mtx.Lock()
		delete(s.cancels, pid)
		s.mtx.Unlock()
		cancel()
	}()

	lines, err := s.tracer.Start(traceCtx, pid, re)
	if err != nil {
		if s.log != nil {
			s.log.Error("provdserver: trace start failed", logger.KV("pid", pid), logger.KVErr(err))
		}
		return
	}

	for line := range lines {
		if err := provdproto.WriteLine(conn, []byte(line)); err != nil {
			return
		}
	}
}

func (s *Server) stopTrace(pid int) {
	s.mtx.Lock()
	cancel, ok := s.cancels[pid]
	s.mtx.Unlock()
	if ok {
		cancel()
	}
	if err := s.tracer.Stop(pid); err != nil && s.log != nil {
		s.log.Error("provdserver: stop_trace failed", logger.KV("pid", pid), logger.KVErr(err))
	}
}
