package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/rules"
)

type fakeSource struct {
	events []event.Event
	pos    int
}

func (f *fakeSource) Recv(ctx context.Context) (event.Event, Outcome) {
	if f.pos >= len(f.events) {
		return nil, EOF
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, OK
}

type fakeSink struct {
	batches [][]event.Event
}

func (f *fakeSink) SendBatch(ctx context.Context, batch []event.Event) Outcome {
	cp := make([]event.Event, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return OK
}

type fakeActions struct {
	calls []string
}

func (f *fakeActions) Run(ctx context.Context, specs []string, ev event.Event) error {
	f.calls = append(f.calls, specs...)
	return nil
}

func evt(pid int, syscall string) *event.SyscallEvent {
	return &event.SyscallEvent{Pid: pid, Syscall: syscall, EventTime: time.Unix(0, 0)}
}

func TestRunnerDeliversBatchOnEOF(t *testing.T) {
	src := &fakeSource{events: []event.Event{evt(1, "execve"), evt(2, "open")}}
	sink := &fakeSink{}
	r := &Runner{Source: src, Sink: sink, BatchSize: 10, BatchTimeout: time.Second}

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %v", sink.batches)
	}
}

func TestRunnerStopsOnBatchSize(t *testing.T) {
	events := make([]event.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, evt(i, "open"))
	}
	src := &fakeSource{events: events}
	sink := &fakeSink{}
	r := &Runner{Source: src, Sink: sink, BatchSize: 2, BatchTimeout: time.Minute}

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// 5 events at a batch size of 2: batches of 2, 2, then EOF drains the last 1.
	if len(sink.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", len(sink.batches), sink.batches)
	}
	if len(sink.batches[0]) != 2 || len(sink.batches[1]) != 2 || len(sink.batches[2]) != 1 {
		t.Fatalf("unexpected batch sizes: %v", sink.batches)
	}
}

func TestRunnerDispatchesMatchingRules(t *testing.T) {
	e := rules.NewEngine()
	if err := e.AddRule("syscall_name=execve -> TRACK"); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{events: []event.Event{evt(1, "execve"), evt(2, "open")}}
	sink := &fakeSink{}
	actions := &fakeActions{}
	r := &Runner{Source: src, Sink: sink, Engine: e, Actions: actions, BatchSize: 10, BatchTimeout: time.Second}

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(actions.calls) != 1 || actions.calls[0] != "TRACK" {
		t.Fatalf("expected exactly one TRACK dispatch, got %v", actions.calls)
	}
}

func TestRunnerHonorsContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	src := blockingSource{ready: blocked}
	sink := &fakeSink{}
	r := &Runner{Source: src, Sink: sink, BatchSize: 10, BatchTimeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	close(blocked)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

type blockingSource struct {
	ready chan struct{}
}

func (b blockingSource) Recv(ctx context.Context) (event.Event, Outcome) {
	<-b.ready
	<-ctx.Done()
	return nil, Retry
}
