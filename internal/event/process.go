package event

import (
	"strconv"
	"strings"
	"time"
)

// ProcessEvent reports the complete lifetime of a reaped process.
type ProcessEvent struct {
	Node      string
	Send      time.Time
	Pid       int
	Ppid      int
	Pgid      int
	Cwd       string
	Argv      []string
	BirthUTC  time.Time
	FinishUTC time.Time
}

func (e *ProcessEvent) Type() Type          { return TypeProcess }
func (e *ProcessEvent) NodeName() string    { return e.Node }
func (e *ProcessEvent) SendTime() time.Time { return e.Send }

func (e *ProcessEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeProcess, e.Node, e.Send)
	fieldInt(&b, e.Pid)
	fieldInt(&b, e.Ppid)
	fieldInt(&b, e.Pgid)
	field(&b, formatTime(e.BirthUTC))
	field(&b, formatTime(e.FinishUTC))
	field(&b, e.Cwd)
	for _, a := range e.Argv {
		field(&b, a)
	}
	return b.String()
}

func (e *ProcessEvent) GetValue(f string) (string, bool) {
	switch f {
	case "pid":
		return strconv.Itoa(e.Pid), true
	case "ppid":
		return strconv.Itoa(e.Ppid), true
	case "pgid":
		return strconv.Itoa(e.Pgid), true
	case "cwd":
		return e.Cwd, true
	case "argv":
		return strings.Join(e.Argv, " "), true
	case "birth_utc":
		return formatTime(e.BirthUTC), true
	case "finish_utc":
		return formatTime(e.FinishUTC), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeProcess(node string, send time.Time, fs []string) (Event, error) {
	// pid,ppid,pgid,birth,finish,cwd,argv...,
	if len(fs) < 6 {
		return nil, ErrMalformed
	}
	birth, err := parseTime(fs[3])
	if err != nil {
		return nil, err
	}
	finish, err := parseTime(fs[4])
	if err != nil {
		return nil, err
	}
	var argv []string
	// fs[6:] holds argv tokens plus the trailing empty element from the
	// final comma; drop it.
	if len(fs) > 6 {
		argv = fs[6:]
		if len(argv) > 0 && argv[len(argv)-1] == "" {
			argv = argv[:len(argv)-1]
		}
	}
	return &ProcessEvent{
		Node:      node,
		Send:      send,
		Pid:       atoiOr(fs[0], 0),
		Ppid:      atoiOr(fs[1], 0),
		Pgid:      atoiOr(fs[2], 0),
		BirthUTC:  birth,
		FinishUTC: finish,
		Cwd:       fs[5],
		Argv:      argv,
	}, nil
}

// ProcessGroupEvent reports the complete lifetime of a reaped process group.
type ProcessGroupEvent struct {
	Node      string
	Send      time.Time
	Pgid      int
	BirthUTC  time.Time
	FinishUTC time.Time
}

func (e *ProcessGroupEvent) Type() Type          { return TypeProcessGroup }
func (e *ProcessGroupEvent) NodeName() string    { return e.Node }
func (e *ProcessGroupEvent) SendTime() time.Time { return e.Send }

func (e *ProcessGroupEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeProcessGroup, e.Node, e.Send)
	fieldInt(&b, e.Pgid)
	field(&b, formatTime(e.BirthUTC))
	field(&b, formatTime(e.FinishUTC))
	return b.String()
}

func (e *ProcessGroupEvent) GetValue(f string) (string, bool) {
	switch f {
	case "pgid":
		return strconv.Itoa(e.Pgid), true
	case "birth_utc":
		return formatTime(e.BirthUTC), true
	case "finish_utc":
		return formatTime(e.FinishUTC), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeProcessGroup(node string, send time.Time, fs []string) (Event, error) {
	if len(fs) < 3 {
		return nil, ErrMalformed
	}
	birth, err := parseTime(fs[1])
	if err != nil {
		return nil, err
	}
	finish, err := parseTime(fs[2])
	if err != nil {
		return nil, err
	}
	return &ProcessGroupEvent{
		Node:      node,
		Send:      send,
		Pgid:      atoiOr(fs[0], 0),
		BirthUTC:  birth,
		FinishUTC: finish,
	}, nil
}
