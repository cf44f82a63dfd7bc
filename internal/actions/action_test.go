package actions

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
)

type fakeSink struct {
	mtx     sync.Mutex
	batches [][]string
}

func (s *fakeSink) SendBatch(ctx context.Context, records []string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cp := make([]string, len(records))
	copy(cp, records)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeSink) all() [][]string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

func TestParseDBLoadAction(t *testing.T) {
	sink := &fakeSink{}
	deps := Deps{OpenSink: func(dst Destination) (Sink, error) { return sink, nil }}
	a, err := Parse("DBLOAD path INTO FILE /tmp/out.csv", "r1", deps)
	if err != nil {
		t.Fatal(err)
	}
	if a.Type() != "DBLOAD" || a.NumConsumerThreads() != 10 {
		t.Fatalf("got type=%s threads=%d", a.Type(), a.NumConsumerThreads())
	}
}

func TestDBLoadActionExecuteReadsFileIntoSink(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(srcPath, []byte("a,b,c\nd,e,f\n"), 0640); err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	deps := Deps{OpenSink: func(dst Destination) (Sink, error) { return sink, nil }}
	ev := &event.TestEvent{Node: "host01", Send: time.Now(), F1: srcPath}
	a, err := Parse("DBLOAD f1 INTO FILE "+filepath.Join(dir, "unused.csv"), "r1", deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Execute(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	batches := sink.all()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("got batches %v", batches)
	}
	if batches[0][0] != "a,b,c" || batches[0][1] != "d,e,f" {
		t.Fatalf("got records %v", batches[0])
	}
}

func TestDispatcherRunFansOutToMatchingActionSpecs(t *testing.T) {
	sink := &fakeSink{}
	deps := Deps{OpenSink: func(dst Destination) (Sink, error) { return sink, nil }}
	disp := NewDispatcher(deps)
	defer disp.Close()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(srcPath, []byte("x,y\n"), 0640); err != nil {
		t.Fatal(err)
	}
	ev := &event.TestEvent{Node: "host01", Send: time.Now(), F1: srcPath}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := disp.Run(ctx, []string{"DBLOAD f1 INTO FILE " + filepath.Join(dir, "o.csv")}, ev); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(sink.all()) != 1 {
		t.Fatalf("expected one batch to have been sent, got %v", sink.all())
	}
}
