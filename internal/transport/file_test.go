package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/pipeline"
)

func TestFileTransportAppendsPerTag(t *testing.T) {
	dir := t.TempDir()
	tr := NewFileTransport(dir)
	defer tr.Close()

	ev := &event.ProcessEvent{Node: "host-a", Send: time.Unix(0, 0), Pid: 1, Cwd: "/"}
	if err := tr.Publish(context.Background(), "1||host-a", "PROCESS", []byte(ev.Serialize())); err != nil {
		t.Fatal(err)
	}
	if err := tr.Publish(context.Background(), "1||host-a", "PROCESS", []byte(ev.Serialize())); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "PROCESS.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, c := range b {
		if c == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", lines, b)
	}
}

func TestFileSourceReadsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "PROCESS.log")
	ev := &event.ProcessEvent{Node: "host-a", Send: time.Unix(0, 0), Pid: 7, Cwd: "/"}
	if err := os.WriteFile(path, []byte(ev.Serialize()+"\n"), 0640); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileSource(path, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, outcome := src.Recv(ctx)
	if outcome != pipeline.OK {
		t.Fatalf("expected OK outcome, got %v", outcome)
	}
	pe, ok := got.(*event.ProcessEvent)
	if !ok || pe.Pid != 7 {
		t.Fatalf("bad event: %#v", got)
	}

	// Append a second line after Recv has already hit EOF once, and confirm
	// the poll loop picks it up.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		t.Fatal(err)
	}
	ev2 := &event.ProcessEvent{Node: "host-a", Send: time.Unix(0, 0), Pid: 8, Cwd: "/"}
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.WriteString(ev2.Serialize() + "\n")
		f.Close()
	}()

	got2, outcome2 := src.Recv(ctx)
	if outcome2 != pipeline.OK {
		t.Fatalf("expected OK outcome, got %v", outcome2)
	}
	pe2, ok := got2.(*event.ProcessEvent)
	if !ok || pe2.Pid != 8 {
		t.Fatalf("bad second event: %#v", got2)
	}
}
