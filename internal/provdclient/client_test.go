package provdclient

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/provdproto"
)

func startFakeProvd(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestTraceProcessStreamsMatchedLines(t *testing.T) {
	addr := startFakeProvd(t, func(conn net.Conn) {
		defer conn.Close()
		op, pid, regex, err := provdproto.ReadRequest(bufio.NewReader(conn))
		if err != nil || op != provdproto.OpTraceProcess || pid != 99 || regex != "foo.*" {
			t.Errorf("unexpected request: op=%v pid=%d regex=%q err=%v", op, pid, regex, err)
			return
		}
		provdproto.WriteLine(conn, []byte("line one"))
		provdproto.WriteLine(conn, []byte("line two"))
	})

	c := New(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lines, err := c.TraceProcess(ctx, 99, "foo.*")
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for l := range lines {
		got = append(got, l)
	}
	if len(got) != 2 || got[0] != "line one" || got[1] != "line two" {
		t.Fatalf("got %v", got)
	}
}

func TestStopTraceSendsRequest(t *testing.T) {
	received := make(chan uint32, 1)
	addr := startFakeProvd(t, func(conn net.Conn) {
		defer conn.Close()
		op, pid, _, err := provdproto.ReadRequest(bufio.NewReader(conn))
		if err != nil || op != provdproto.OpStopTrace {
			t.Errorf("unexpected request: op=%v err=%v", op, err)
			return
		}
		received <- pid
	})

	c := New(addr)
	if err := c.StopTrace(context.Background(), 123); err != nil {
		t.Fatal(err)
	}
	select {
	case pid := <-received:
		if pid != 123 {
			t.Fatalf("got pid %d", pid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stop_trace")
	}
}
