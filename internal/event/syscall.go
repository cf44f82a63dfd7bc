package event

import (
	"strconv"
	"strings"
	"time"
)

// SyscallEvent is the raw per-syscall record produced by the extractor and
// consumed by the OS model. rc<0 (except RCInProgress) marks a failed
// syscall.
type SyscallEvent struct {
	Node      string
	Send      time.Time
	Serial    uint64
	Pid       int
	Ppid      int
	Uid       int
	Gid       int
	Euid      int
	Egid      int
	Syscall   string
	RC        int
	Arg0      string
	Arg1      string
	Arg2      string
	Arg3      string
	Arg4      string
	EventTime time.Time
	Data      []string
}

// RCInProgress is the pseudo return code auditd uses for syscalls whose
// result is still outstanding; it must not be treated as a failure.
const RCInProgress = -115

// Failed reports whether this syscall's rc marks it as failed and therefore
// ineligible to mutate the OS model.
func (e *SyscallEvent) Failed() bool {
	return e.RC < 0 && e.RC != RCInProgress
}

func (e *SyscallEvent) Type() Type          { return TypeSyscall }
func (e *SyscallEvent) NodeName() string    { return e.Node }
func (e *SyscallEvent) SendTime() time.Time { return e.Send }

func (e *SyscallEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeSyscall, e.Node, e.Send)
	b.WriteString(strconv.FormatUint(e.Serial, 10))
	b.WriteByte(',')
	fieldInt(&b, e.Pid)
	fieldInt(&b, e.Ppid)
	fieldInt(&b, e.Uid)
	fieldInt(&b, e.Gid)
	fieldInt(&b, e.Euid)
	fieldInt(&b, e.Egid)
	field(&b, e.Syscall)
	fieldInt(&b, e.RC)
	field(&b, e.Arg0)
	field(&b, e.Arg1)
	field(&b, e.Arg2)
	field(&b, e.Arg3)
	field(&b, e.Arg4)
	field(&b, formatTime(e.EventTime))
	for _, d := range e.Data {
		field(&b, d)
	}
	return b.String()
}

func (e *SyscallEvent) GetValue(f string) (string, bool) {
	switch f {
	case "pid":
		return strconv.Itoa(e.Pid), true
	case "ppid":
		return strconv.Itoa(e.Ppid), true
	case "uid":
		return strconv.Itoa(e.Uid), true
	case "gid":
		return strconv.Itoa(e.Gid), true
	case "euid":
		return strconv.Itoa(e.Euid), true
	case "egid":
		return strconv.Itoa(e.Egid), true
	case "syscall_name":
		return e.Syscall, true
	case "rc":
		return strconv.Itoa(e.RC), true
	case "arg0":
		return e.Arg0, true
	case "arg1":
		return e.Arg1, true
	case "arg2":
		return e.Arg2, true
	case "arg3":
		return e.Arg3, true
	case "arg4":
		return e.Arg4, true
	case "event_time":
		return formatTime(e.EventTime), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeSyscall(node string, send time.Time, fs []string) (Event, error) {
	// serial,pid,ppid,uid,gid,euid,egid,syscall,rc,arg0..arg4,event_time,data...,
	if len(fs) < 15 {
		return nil, ErrMalformed
	}
	serial, err := strconv.ParseUint(fs[0], 10, 64)
	if err != nil {
		return nil, err
	}
	evtTime, err := parseTime(fs[14])
	if err != nil {
		return nil, err
	}
	var data []string
	if len(fs) > 15 {
		data = fs[15:]
		if len(data) > 0 && data[len(data)-1] == "" {
			data = data[:len(data)-1]
		}
	}
	return &SyscallEvent{
		Node:      node,
		Send:      send,
		Serial:    serial,
		Pid:       atoiOr(fs[1], 0),
		Ppid:      atoiOr(fs[2], 0),
		Uid:       atoiOr(fs[3], 0),
		Gid:       atoiOr(fs[4], 0),
		Euid:      atoiOr(fs[5], 0),
		Egid:      atoiOr(fs[6], 0),
		Syscall:   fs[7],
		RC:        atoiOr(fs[8], 0),
		Arg0:      fs[9],
		Arg1:      fs[10],
		Arg2:      fs[11],
		Arg3:      fs[12],
		Arg4:      fs[13],
		EventTime: evtTime,
		Data:      data,
	}, nil
}

// TestEvent exists only so the rule engine and action pipelines can be
// exercised without a live pipeline (the collection system's own test
// suite does the same thing with its TEST_EVENT tag).
type TestEvent struct {
	Node string
	Send time.Time
	F1   string
	F2   string
	F3   string
}

func (e *TestEvent) Type() Type          { return TypeTest }
func (e *TestEvent) NodeName() string    { return e.Node }
func (e *TestEvent) SendTime() time.Time { return e.Send }

func (e *TestEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeTest, e.Node, e.Send)
	field(&b, e.F1)
	field(&b, e.F2)
	field(&b, e.F3)
	return b.String()
}

func (e *TestEvent) GetValue(f string) (string, bool) {
	switch f {
	case "f1":
		return e.F1, true
	case "f2":
		return e.F2, true
	case "f3":
		return e.F3, true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeTest(node string, send time.Time, fs []string) (Event, error) {
	if len(fs) < 3 {
		return nil, ErrMalformed
	}
	return &TestEvent{Node: node, Send: send, F1: fs[0], F2: fs[1], F3: fs[2]}, nil
}
