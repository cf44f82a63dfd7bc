package osmodel

import (
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
)

func ts(s int) time.Time { return time.Date(2026, 1, 1, 0, 0, s, 0, time.UTC) }

func sc(pid int, syscall string, rc int, t time.Time, opts ...func(*event.SyscallEvent)) *event.SyscallEvent {
	e := &event.SyscallEvent{Pid: pid, Syscall: syscall, RC: rc, EventTime: t}
	for _, o := range opts {
		o(e)
	}
	return e
}

func withArg0(s string) func(*event.SyscallEvent) { return func(e *event.SyscallEvent) { e.Arg0 = s } }
func withArg1(s string) func(*event.SyscallEvent) { return func(e *event.SyscallEvent) { e.Arg1 = s } }
func withData(d ...string) func(*event.SyscallEvent) {
	return func(e *event.SyscallEvent) { e.Data = d }
}

// S1: fork/exec/exit
func TestS1ForkExecExit(t *testing.T) {
	pt := New(Config{NodeName: "host-a"})

	pt.ApplySyscall(sc(121, "clone", 122, ts(1)))
	pt.ApplySyscall(sc(0 /*caller pid irrelevant here*/, "setpgid", 0, ts(2), func(e *event.SyscallEvent) { e.Pid = 122; e.Arg0 = "0"; e.Arg1 = "0" }))
	pt.ApplySyscall(sc(122, "execve", 0, ts(3), withData("", "python", "train.py", "-i", "input")))
	pt.ApplySyscall(sc(122, "exit_group", 0, ts(4)))

	got := pt.ReapCompleted()
	var pe *event.ProcessEvent
	var pge *event.ProcessGroupEvent
	for _, e := range got {
		switch v := e.(type) {
		case *event.ProcessEvent:
			pe = v
		case *event.ProcessGroupEvent:
			pge = v
		}
	}
	if pe == nil {
		t.Fatal("expected a ProcessEvent")
	}
	if pe.Pid != 122 || pe.Ppid != 121 || pe.Pgid != 122 {
		t.Fatalf("bad process event: %+v", pe)
	}
	wantArgv := []string{"python", "train.py", "-i", "input"}
	if len(pe.Argv) != len(wantArgv) {
		t.Fatalf("argv mismatch: %v", pe.Argv)
	}
	for i := range wantArgv {
		if pe.Argv[i] != wantArgv[i] {
			t.Fatalf("argv mismatch: %v", pe.Argv)
		}
	}
	if !pe.BirthUTC.Equal(ts(1)) || !pe.FinishUTC.Equal(ts(4)) {
		t.Fatalf("bad birth/finish: %+v", pe)
	}
	if pge == nil || pge.Pgid != 122 || !pge.BirthUTC.Equal(ts(2)) || !pge.FinishUTC.Equal(ts(4)) {
		t.Fatalf("bad process group event: %+v", pge)
	}
}

// S2: pipe IPC
func TestS2PipeIPC(t *testing.T) {
	pt := New(Config{NodeName: "host-a"})

	pt.ApplySyscall(sc(1, "clone", 121, ts(0))) // parent setup
	pt.ApplySyscall(sc(121, "pipe", 0, ts(1), withData("3", "4")))
	pt.ApplySyscall(sc(121, "clone", 122, ts(2)))
	pt.ApplySyscall(sc(121, "clone", 123, ts(2)))

	pt.ApplySyscall(sc(122, "dup2", 0, ts(3), withArg0("3"), withArg1("0")))
	pt.ApplySyscall(sc(123, "dup2", 0, ts(3), withArg0("4"), withArg1("1")))

	// everyone closes both ends
	for _, pid := range []int{121, 122, 123} {
		pt.ApplySyscall(sc(pid, "close", 0, ts(4), withArg0("3")))
		pt.ApplySyscall(sc(pid, "close", 0, ts(4), withArg0("4")))
	}

	pt.ApplySyscall(sc(122, "exit_group", 0, ts(5)))
	pt.ApplySyscall(sc(123, "exit_group", 0, ts(5)))
	pt.ApplySyscall(sc(121, "exit_group", 0, ts(5)))

	got := pt.ReapCompleted()
	var ipcs []*event.IPCEvent
	for _, e := range got {
		if ipc, ok := e.(*event.IPCEvent); ok {
			ipcs = append(ipcs, ipc)
		}
	}
	if len(ipcs) != 1 {
		t.Fatalf("expected exactly 1 IPCEvent, got %d: %+v", len(ipcs), ipcs)
	}
	if ipcs[0].WriterPid != 123 || ipcs[0].ReaderPid != 122 {
		t.Fatalf("bad ipc event: %+v", ipcs[0])
	}
}

// S3: socket bind/close and connect
func TestS3Socket(t *testing.T) {
	pt := New(Config{NodeName: "host-a"})
	pt.dns.lookup = func(string) ([]string, error) { return []string{"some-host.example.com."}, nil }

	pt.ApplySyscall(sc(1, "clone", 122, ts(0)))
	pt.ApplySyscall(sc(122, "socket", 5, ts(1)))
	pt.ApplySyscall(sc(122, "bind", 0, ts(2), withArg0("0x5"), withData("192.168.0.1", "12345")))
	pt.ApplySyscall(sc(122, "close", 0, ts(5), withArg0("0x5")))

	got := pt.ReapCompleted()
	var se *event.SocketEvent
	for _, e := range got {
		if s, ok := e.(*event.SocketEvent); ok {
			se = s
		}
	}
	if se == nil || se.Pid != 122 || se.LocalPort != 12345 {
		t.Fatalf("bad socket event: %+v", se)
	}
	if !se.OpenUTC.Equal(ts(1)) || !se.CloseUTC.Equal(ts(5)) {
		t.Fatalf("bad socket event times: %+v", se)
	}

	pt2 := New(Config{NodeName: "host-a"})
	pt2.dns.lookup = func(string) ([]string, error) { return []string{"some-host.example.com."}, nil }
	pt2.ApplySyscall(sc(1, "clone", 123, ts(0)))
	pt2.ApplySyscall(sc(123, "socket", 7, ts(1)))
	pt2.ApplySyscall(sc(123, "connect", 0, ts(2), withArg0("0x7"), withData("192.168.0.1", "12345")))
	got2 := pt2.ReapCompleted()
	var sce *event.SocketConnectEvent
	for _, e := range got2 {
		if s, ok := e.(*event.SocketConnectEvent); ok {
			sce = s
		}
	}
	if sce == nil || sce.Pid != 123 || sce.RemoteHost != "some-host" || sce.RemotePort != 12345 {
		t.Fatalf("bad socket connect event: %+v", sce)
	}
}

// invariant 9: reverse DNS cache returns byte-identical dst_node for two
// connects to the same remote address.
func TestInvariant9DNSCacheStable(t *testing.T) {
	calls := 0
	pt := New(Config{NodeName: "host-a"})
	pt.dns.lookup = func(string) ([]string, error) {
		calls++
		return []string{"some-host.example.com."}, nil
	}
	pt.ApplySyscall(sc(1, "clone", 122, ts(0)))
	pt.ApplySyscall(sc(122, "socket", 5, ts(1)))
	pt.ApplySyscall(sc(122, "connect", 0, ts(2), withArg0("0x5"), withData("10.0.0.1", "80")))

	pt.ApplySyscall(sc(1, "clone", 123, ts(0)))
	pt.ApplySyscall(sc(123, "socket", 6, ts(1)))
	pt.ApplySyscall(sc(123, "connect", 0, ts(2), withArg0("0x6"), withData("10.0.0.1", "80")))

	got := pt.ReapCompleted()
	var hosts []string
	for _, e := range got {
		if s, ok := e.(*event.SocketConnectEvent); ok {
			hosts = append(hosts, s.RemoteHost)
		}
	}
	if len(hosts) != 2 || hosts[0] != hosts[1] {
		t.Fatalf("expected identical cached dst_node strings, got %v", hosts)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one underlying lookup, got %d", calls)
	}
}

func TestRCInProgressNotDiscarded(t *testing.T) {
	pt := New(Config{NodeName: "host-a", EmitSyscallEvts: true})
	pt.ApplySyscall(sc(1, "clone", 122, ts(0)))
	pt.ApplySyscall(&event.SyscallEvent{Pid: 122, Syscall: "execve", RC: event.RCInProgress, EventTime: ts(1), Data: []string{"/", "sleep"}})
	got := pt.ReapCompleted()
	if len(got) == 0 {
		t.Fatal("expected the in-progress execve to be applied and echoed")
	}
}

func TestFailedSyscallDiscarded(t *testing.T) {
	pt := New(Config{NodeName: "host-a"})
	pt.ApplySyscall(sc(1, "clone", 122, ts(0)))
	pt.ApplySyscall(&event.SyscallEvent{Pid: 122, Syscall: "execve", RC: -1, EventTime: ts(1), Data: []string{"/", "sleep"}})
	if p := pt.processes[122]; p.Cwd != "" {
		t.Fatalf("failed syscall must not mutate state, got cwd=%q", p.Cwd)
	}
}

func TestZombieRecovery(t *testing.T) {
	pt := New(Config{NodeName: "host-a"})
	pt.ApplySyscall(sc(1, "clone", 50, ts(0)))
	pt.ApplySyscall(sc(50, "execve", 0, ts(1), withData("/", "a")))
	// pid 50 reused before it exited
	pt.ApplySyscall(sc(1, "clone", 50, ts(2)))
	pt.ApplySyscall(sc(50, "execve", 0, ts(3), withData("/", "b")))
	pt.ApplySyscall(sc(50, "exit_group", 0, ts(4)))

	got := pt.ReapCompleted()
	var procs []*event.ProcessEvent
	for _, e := range got {
		if p, ok := e.(*event.ProcessEvent); ok {
			procs = append(procs, p)
		}
	}
	if len(procs) != 2 {
		t.Fatalf("expected 2 ProcessEvents (zombie + final), got %d", len(procs))
	}
}
