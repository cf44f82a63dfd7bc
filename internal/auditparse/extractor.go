package auditparse

import (
	"strconv"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
)

// MaxAge is how long an incomplete audit group is kept waiting for its EOE
// record before it is dropped. auditd's own buffering means most groups
// close within a few hundred milliseconds; 3s covers disk-pressure stalls
// without letting a missing EOE leak memory forever.
const MaxAge = 3 * time.Second

// Config selects which SYSCALL records this extractor bothers assembling.
// An empty FilterKey matches every record; otherwise only SYSCALL records
// carrying a matching auditd "key" field start a group.
type Config struct {
	FilterKey string
}

type group struct {
	records  map[string]*rawRecord
	first    time.Time
	lastSeen time.Time
}

// Extractor reconstructs SyscallEvents out of a raw auditd record stream.
// It is single-threaded: callers in this codebase run it from the
// extractor goroutine of the pipeline, never concurrently.
type Extractor struct {
	cfg     Config
	pending map[uint64]*group

	dropped   int
	completed int
}

func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg, pending: make(map[uint64]*group)}
}

// Feed parses one raw audit log line and folds it into its group. It
// returns a completed SyscallEvent once that group's EOE record arrives;
// any parse error on an individual line is non-fatal and simply yields no
// event for that line.
func (x *Extractor) Feed(line string) (*event.SyscallEvent, error) {
	rec, err := parseLine(line)
	if err != nil {
		return nil, nil
	}

	if rec.Type == "EOE" {
		g, ok := x.pending[rec.Serial]
		if !ok {
			return nil, nil
		}
		delete(x.pending, rec.Serial)
		se := assemble(g)
		if se == nil {
			x.dropped++
			return nil, nil
		}
		x.completed++
		return se, nil
	}

	sc := rec.Fields["syscall"]
	if rec.Type == "SYSCALL" {
		if x.cfg.FilterKey != "" && rec.Fields["key"] != x.cfg.FilterKey {
			return nil, nil
		}
	} else if _, ok := x.pending[rec.Serial]; !ok {
		// an auxiliary record (CWD/EXECVE/FD_PAIR/SOCKADDR) with no SYSCALL
		// seen yet for this serial: either the group was filtered out or
		// hasn't arrived; either way there's nothing to attach it to.
		_ = sc
		return nil, nil
	}

	g, ok := x.pending[rec.Serial]
	if !ok {
		g = &group{records: make(map[string]*rawRecord), first: rec.Timestamp}
		x.pending[rec.Serial] = g
	}
	g.lastSeen = rec.Timestamp
	g.records[rec.Type] = rec
	return nil, nil
}

// Prune drops any group that has been incomplete for longer than MaxAge,
// as measured against the audit timestamps already observed (not wall
// clock), so replay of historical logs ages out deterministically.
func (x *Extractor) Prune(now time.Time) int {
	n := 0
	for serial, g := range x.pending {
		if now.Sub(g.lastSeen) > MaxAge {
			delete(x.pending, serial)
			x.dropped++
			n++
		}
	}
	return n
}

// Stats reports lifetime counters for monitoring and tests.
func (x *Extractor) Stats() (completed, dropped, pendingGroups int) {
	return x.completed, x.dropped, len(x.pending)
}

func assemble(g *group) *event.SyscallEvent {
	sys, ok := g.records["SYSCALL"]
	if !ok {
		return nil
	}

	se := &event.SyscallEvent{
		EventTime: sys.Timestamp,
		Serial:    sys.Serial,
		Pid:       atoi(sys.Fields["pid"]),
		Ppid:      atoi(sys.Fields["ppid"]),
		Uid:       atoi(sys.Fields["uid"]),
		Gid:       atoi(sys.Fields["gid"]),
		Euid:      atoi(sys.Fields["euid"]),
		Egid:      atoi(sys.Fields["egid"]),
		Syscall:   sys.Fields["syscall"],
		RC:        atoi(sys.Fields["exit"]),
		Arg0:      sys.Fields["a0"],
		Arg1:      sys.Fields["a1"],
		Arg2:      sys.Fields["a2"],
		Arg3:      sys.Fields["a3"],
		Arg4:      sys.Fields["a4"],
	}

	switch se.Syscall {
	case "execve":
		cwd := "unknown"
		if cwdRec, ok := g.records["CWD"]; ok {
			cwd = cwdRec.Fields["cwd"]
		}
		se.Data = append([]string{cwd}, execveArgs(g.records["EXECVE"])...)
	case "pipe", "pipe2":
		if fp, ok := g.records["FD_PAIR"]; ok {
			se.Data = []string{fp.Fields["fd0"], fp.Fields["fd1"]}
		}
	case "bind", "connect", "accept":
		if sa, ok := g.records["SOCKADDR"]; ok {
			se.Data = []string{sa.Fields["laddr"], sa.Fields["lport"]}
		}
	}

	return se
}

func execveArgs(rec *rawRecord) []string {
	if rec == nil {
		return nil
	}
	argc := atoi(rec.Fields["argc"])
	if argc <= 0 {
		return nil
	}
	args := make([]string, 0, argc)
	for i := 0; i < argc; i++ {
		if v, ok := rec.Fields["a"+strconv.Itoa(i)]; ok {
			args = append(args, v)
		}
	}
	return args
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
