// Package loader implements the final pipeline stage: it turns a reaped
// event into its CSV wire form and hands it to a partitioned transport,
// computing the partition key that preserves per-process ordering across
// the transport.
package loader

import (
	"context"
	"fmt"

	"github.com/ursprung-go/collection-system/internal/event"
)

// Transport publishes a serialized event under a partition key and a tag
// naming its event type. internal/transport provides the Kafka and file
// implementations; tests use a fake.
type Transport interface {
	Publish(ctx context.Context, key, tag string, b []byte) error
}

// Loader serializes events and publishes them to Transport, computing the
// partition key described in the collector's ordering guarantees: pid ||
// hostname for most events, pgid || hostname for group events, and the
// writer pid || hostname for IPC events (ordering is anchored to the
// producing end of the pipe).
type Loader struct {
	Transport Transport
}

func New(t Transport) *Loader { return &Loader{Transport: t} }

// Load serializes ev and publishes it under its computed partition key.
// Ownership of ev is consumed: callers must not reuse it afterward.
func (l *Loader) Load(ctx context.Context, ev event.Event) error {
	key := PartitionKey(ev)
	tag := ev.Type().String()
	b := []byte(ev.Serialize())
	if err := l.Transport.Publish(ctx, key, tag, b); err != nil {
		return fmt.Errorf("loader: publish %s: %w", tag, err)
	}
	return nil
}

// PartitionKey computes the transport partition key for ev: `pid ||
// hostname` for per-process events, `pgid || hostname` for process-group
// events, and the writer's pid || hostname for IPC events so that both
// ends of a pipe relationship are ordered against the writer that created
// it.
func PartitionKey(ev event.Event) string {
	host := ev.NodeName()
	switch e := ev.(type) {
	case *event.ProcessGroupEvent:
		return fmt.Sprintf("%d||%s", e.Pgid, host)
	case *event.IPCEvent:
		return fmt.Sprintf("%d||%s", e.WriterPid, host)
	case *event.ProcessEvent:
		return fmt.Sprintf("%d||%s", e.Pid, host)
	case *event.SocketEvent:
		return fmt.Sprintf("%d||%s", e.Pid, host)
	case *event.SocketConnectEvent:
		return fmt.Sprintf("%d||%s", e.Pid, host)
	case *event.SyscallEvent:
		return fmt.Sprintf("%d||%s", e.Pid, host)
	case *event.FSEvent:
		return fmt.Sprintf("%d||%s", e.Pid, host)
	default:
		if pid, ok := ev.GetValue("pid"); ok {
			return fmt.Sprintf("%s||%s", pid, host)
		}
		return host
	}
}
