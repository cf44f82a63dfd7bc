package actions

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/actionstate"
	"github.com/ursprung-go/collection-system/internal/event"
)

type fakeQuerier struct {
	mtx     sync.Mutex
	queries []string
	rows    [][]string // one Query call's worth of rows per call, in order
}

func (q *fakeQuerier) Query(ctx context.Context, query string) ([]string, error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.queries = append(q.queries, query)
	if len(q.rows) == 0 {
		return nil, nil
	}
	next := q.rows[0]
	q.rows = q.rows[1:]
	return next, nil
}

type fakeStateBackend struct {
	mtx   sync.Mutex
	state map[string]string
}

func newFakeStateBackend() *fakeStateBackend {
	return &fakeStateBackend{state: make(map[string]string)}
}

func (f *fakeStateBackend) Connect(ctx context.Context) error { return nil }
func (f *fakeStateBackend) Disconnect() error                 { return nil }

func (f *fakeStateBackend) InsertState(ctx context.Context, ruleID, state, target string) error {
	return f.UpdateState(ctx, ruleID, state, target)
}

func (f *fakeStateBackend) UpdateState(ctx context.Context, ruleID, state, target string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.state[ruleID+"|"+target] = state
	return nil
}

func (f *fakeStateBackend) LookupState(ctx context.Context, ruleID, target string) (string, bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.state[ruleID+"|"+target]
	return s, ok, nil
}

func TestParseDBTransferActionDialsConfiguredSource(t *testing.T) {
	querier := &fakeQuerier{}
	stateBackend := newFakeStateBackend()
	deps := Deps{
		OpenSink:  func(dst Destination) (Sink, error) { return &fakeSink{}, nil },
		OpenState: func(dst Destination) (actionstate.Backend, error) { return stateBackend, nil },
		DialSource: func(dsn string) (Querier, error) {
			if dsn != "postgres://src/db" {
				t.Fatalf("got dsn %q", dsn)
			}
			return querier, nil
		},
	}
	a, err := Parse("DBTRANSFER select * from t/id FROMDSN postgres://src/db INTO FILE /tmp/out.csv", "r1", deps)
	if err != nil {
		t.Fatal(err)
	}
	if a.Type() != "DBTRANSFER" {
		t.Fatalf("got type %s", a.Type())
	}
}

func TestDBTransferActionExecuteAdvancesWatermark(t *testing.T) {
	querier := &fakeQuerier{rows: [][]string{{"3,a,b"}, {"5,c,d"}}}
	stateBackend := newFakeStateBackend()
	sink := &fakeSink{}
	deps := Deps{
		OpenSink:   func(dst Destination) (Sink, error) { return sink, nil },
		OpenState:  func(dst Destination) (actionstate.Backend, error) { return stateBackend, nil },
		DialSource: func(dsn string) (Querier, error) { return querier, nil },
	}
	a, err := Parse("DBTRANSFER select * from t/id FROMDSN postgres://src/db INTO FILE /tmp/out.csv", "r1", deps)
	if err != nil {
		t.Fatal(err)
	}
	ev := &event.TestEvent{Node: "host01", Send: time.Now()}

	if err := a.Execute(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := a.Execute(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	querier.mtx.Lock()
	queries := append([]string(nil), querier.queries...)
	querier.mtx.Unlock()
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(queries))
	}
	if strings.Contains(queries[0], "id >") {
		t.Fatalf("first query should not filter on a watermark yet, got %q", queries[0])
	}
	if !strings.Contains(queries[1], "id > '3'") {
		t.Fatalf("second query should filter on the watermark from the first row, got %q", queries[1])
	}

	batches := sink.all()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
}
