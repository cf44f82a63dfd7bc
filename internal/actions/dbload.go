package actions

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ursprung-go/collection-system/internal/event"
)

// DBLoadAction loads a CSV file named by an event field into a target
// sink in bulk: "DBLOAD eventfield INTO FILE path|DB dsn USING schema".
type DBLoadAction struct {
	spec       string
	eventField string
	dest       Destination
	sink       Sink
}

func newDBLoadAction(spec, ruleID string, deps Deps) (Action, error) {
	body := strings.TrimPrefix(spec, dbLoadRule+" ")
	intoPos := strings.Index(body, " INTO ")
	if intoPos < 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing INTO)", spec)
	}
	eventField := strings.TrimSpace(body[:intoPos])
	destStr := strings.TrimSpace(body[intoPos+len(" INTO "):])

	dest, err := ParseDestination(destStr)
	if err != nil {
		return nil, fmt.Errorf("actions: DBLOAD %w", err)
	}
	sink, err := deps.OpenSink(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: DBLOAD could not open sink: %w", err)
	}
	return &DBLoadAction{spec: spec, eventField: eventField, dest: dest, sink: sink}, nil
}

func (a *DBLoadAction) Execute(ctx context.Context, ev event.Event) error {
	path, ok := ev.GetValue(a.eventField)
	if !ok || path == "" {
		return fmt.Errorf("actions: DBLOAD: event field %q empty, not executing %s", a.eventField, a)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("actions: DBLOAD: opening %s: %w", path, err)
	}
	defer f.Close()

	var records []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		records = append(records, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("actions: DBLOAD: reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil
	}
	return a.sink.SendBatch(ctx, records)
}

func (a *DBLoadAction) Type() string               { return dbLoadRule }
func (a *DBLoadAction) NumConsumerThreads() int     { return 10 }
func (a *DBLoadAction) String() string              { return a.spec }
