// Package provdclient implements the CAPTURESOUT action's half of the
// provd wire protocol: dial the daemon on an event's origin host, issue
// a trace_process request, and stream back matched lines until the
// daemon closes the connection or the caller stops the trace.
package provdclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/ursprung-go/collection-system/internal/provdproto"
)

// Client dials a single provd daemon host:port.
type Client struct {
	addr    string
	dialer  net.Dialer
	timeout time.Duration
}

const defaultDialTimeout = 10 * time.Second

// New returns a Client targeting host on provdproto.DefaultPort, or
// host:port verbatim if a port is already present.
func New(host string) *Client {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(provdproto.DefaultPort))
	}
	return &Client{addr: addr, timeout: defaultDialTimeout}
}

// TraceProcess opens a trace_process session and streams matched lines
// on the returned channel, closed when the daemon ends the session or
// ctx is cancelled. Errors establishing the session are returned
// directly; errors occurring mid-stream are not reported: the channel is
// closed with no further values (the caller's range loop simply ends).
func (c *Client) TraceProcess(ctx context.Context, pid int, matchRegex string) (<-chan string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("provdclient: dial %s: %w", c.addr, err)
	}
	if err := provdproto.WriteTraceProcess(conn, uint32(pid), matchRegex); err != nil {
		conn.Close()
		return nil, fmt.Errorf("provdclient: trace_process request: %w", err)
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line, err := provdproto.ReadLine(r)
			if err != nil {
				if err != io.EOF {
					// connection dropped mid-stream; nothing further to
					// read, the caller's range loop just ends.
				}
				return
			}
			select {
			case lines <- string(line):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

// StopTrace opens a short-lived connection to ask the daemon to stop
// tracing pid, matching stdout-capture-action's teardown on rule
// removal or process exit.
func (c *Client) StopTrace(ctx context.Context, pid int) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("provdclient: dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	return provdproto.WriteStopTrace(conn, uint32(pid))
}
