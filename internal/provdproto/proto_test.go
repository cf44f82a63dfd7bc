package provdproto

import (
	"bytes"
	"testing"
)

func TestWriteReadTraceProcessRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTraceProcess(&buf, 42, "ERROR.*timeout"); err != nil {
		t.Fatal(err)
	}
	op, pid, regex, err := ReadRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if op != OpTraceProcess || pid != 42 || regex != "ERROR.*timeout" {
		t.Fatalf("got op=%v pid=%d regex=%q", op, pid, regex)
	}
}

func TestWriteReadStopTraceRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteStopTrace(&buf, 7); err != nil {
		t.Fatal(err)
	}
	op, pid, regex, err := ReadRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if op != OpStopTrace || pid != 7 || regex != "" {
		t.Fatalf("got op=%v pid=%d regex=%q", op, pid, regex)
	}
}

func TestWriteReadLineRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	line, err := ReadLine(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "hello world" {
		t.Fatalf("got %q", line)
	}
}

func TestReadRequestRejectsUnknownOpcode(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x99, 0x99, 0, 0, 0, 1})
	if _, _, _, err := ReadRequest(buf); err == nil {
		t.Fatal("expected error for unknown opcode")
	}
}
