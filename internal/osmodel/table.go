package osmodel

import (
	"strconv"
	"strings"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
)

// cloneThreadFlag is the substring apply_syscall looks for in a clone()
// call's arg0 flag word to distinguish a thread clone from a process clone.
const cloneThreadFlag = "CLONE_THREAD"

// Result is returned by ApplySyscall: ok reports whether the syscall was
// applied without error, and Slowdown is an advisory request that the
// extractor pause.
type Result struct {
	OK       bool
	Slowdown bool
}

// ProcessTable is the sole owner of every live process, thread, process
// group, and open file. It is accessed only by the transformer goroutine —
// no internal locking is required.
type ProcessTable struct {
	nodeName string
	hostname string

	processes map[int]*LiveProcess
	groups    map[int]*LiveProcessGroup

	dns *reverseDNSCache

	emitSyscalls bool
	backlog      int // advisory slowdown threshold on buffered-since-reap count

	// accumulated since the last reap
	syscallsOut []event.Event
	retiredOut  []event.Event
}

// Config sets the node name, syscall echo behavior and the slowdown
// advisory threshold.
type Config struct {
	NodeName        string
	EmitSyscallEvts bool
	SlowdownBacklog int // 0 disables the advisory
}

func New(cfg Config) *ProcessTable {
	backlog := cfg.SlowdownBacklog
	return &ProcessTable{
		nodeName:     cfg.NodeName,
		processes:    make(map[int]*LiveProcess),
		groups:       make(map[int]*LiveProcessGroup),
		dns:          newReverseDNSCache(),
		emitSyscalls: cfg.EmitSyscallEvts,
		backlog:      backlog,
	}
}

// ApplySyscall mutates the model per the effect table in spec.md §4.2.1.
func (t *ProcessTable) ApplySyscall(se *event.SyscallEvent) Result {
	if se.Failed() {
		return Result{OK: true}
	}
	if t.emitSyscalls {
		t.syscallsOut = append(t.syscallsOut, se)
	}

	switch se.Syscall {
	case "clone":
		t.clone(se)
	case "vfork":
		t.vfork(se)
	case "execve":
		t.execve(se)
	case "setpgid":
		t.setpgid(se)
	case "exit":
		t.exit(se)
	case "exit_group":
		t.exitGroup(se)
	case "pipe":
		t.pipe(se)
	case "close":
		t.closeFD(se)
	case "dup2":
		t.dup2(se)
	case "socket":
		t.socket(se)
	case "bind":
		t.bind(se)
	case "connect":
		t.connect(se)
	default:
		// unknown syscall: discard silently, never abort the table
	}

	slowdown := t.backlog > 0 && len(t.syscallsOut) >= t.backlog
	return Result{OK: true, Slowdown: slowdown}
}

// ReapCompleted drains and returns every event accumulated since the last
// call: first the echoed SyscallEvents (if enabled), then every value
// event materialized by a retirement.
func (t *ProcessTable) ReapCompleted() []event.Event {
	out := make([]event.Event, 0, len(t.syscallsOut)+len(t.retiredOut))
	out = append(out, t.syscallsOut...)
	out = append(out, t.retiredOut...)
	t.syscallsOut = nil
	t.retiredOut = nil
	return out
}

func (t *ProcessTable) findRoot(pid int) *LiveProcess {
	p := t.processes[pid]
	for p != nil && p.IsThread && p.Parent != nil {
		p = p.Parent
	}
	return p
}

// callerOrPrehistoric returns the calling process, creating a prehistoric
// entry at the epoch if it hasn't been observed.
func (t *ProcessTable) callerOrPrehistoric(pid int) *LiveProcess {
	if p, ok := t.processes[pid]; ok {
		return p
	}
	p := newLiveProcess(pid, 0, 0, "", nil, time.Unix(0, 0).UTC())
	t.processes[pid] = p
	return p
}

func cloneFDs(src map[int]*FileDescriptor) map[int]*FileDescriptor {
	out := make(map[int]*FileDescriptor, len(src))
	for fd, h := range src {
		h.File.refs++
		out[fd] = &FileDescriptor{FD: h.FD, Kind: h.Kind, File: h.File}
	}
	return out
}

func copyArgv(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func (t *ProcessTable) clone(se *event.SyscallEvent) {
	childPid := se.RC
	if childPid <= 0 {
		return
	}
	isThread := strings.Contains(se.Arg0, cloneThreadFlag)

	if existing, ok := t.processes[childPid]; ok {
		// zombie recovery: pid reused while still recorded as live
		t.retireZombie(existing, se.EventTime)
	}

	caller := t.callerOrPrehistoric(se.Pid)
	root := t.findRoot(caller.Pid)
	if root == nil {
		root = caller
	}

	if isThread {
		th := &LiveProcess{
			Pid:      childPid,
			Ppid:     root.Ppid,
			Pgid:     root.Pgid,
			IsThread: true,
			Parent:   root,
			Birth:    se.EventTime,
			Threads:  make(map[int]*LiveProcess),
			FDs:      make(map[int]*FileDescriptor),
		}
		t.processes[childPid] = th
		root.Threads[childPid] = th
		return
	}

	proc := newLiveProcess(childPid, root.Pid, root.Pgid, root.Cwd, copyArgv(root.Argv), se.EventTime)
	proc.FDs = cloneFDs(root.FDs)
	t.processes[childPid] = proc
	if grp, ok := t.groups[root.Pgid]; ok {
		grp.Current[childPid] = true
	}
}

func (t *ProcessTable) vfork(se *event.SyscallEvent) {
	childPid := se.RC
	if childPid <= 0 {
		return
	}
	caller := t.callerOrPrehistoric(se.Pid)
	root := t.findRoot(caller.Pid)
	if root == nil {
		root = caller
	}

	if existing, ok := t.processes[childPid]; ok && !existing.IsThread {
		// race: execve on the child already arrived; augment, don't recreate
		existing.Birth = se.EventTime
		existing.Ppid = root.Pid
		existing.Pgid = root.Pgid
		if grp, ok := t.groups[root.Pgid]; ok {
			grp.Current[childPid] = true
		}
		return
	}
	if existing, ok := t.processes[childPid]; ok {
		t.retireZombie(existing, se.EventTime)
	}

	proc := newLiveProcess(childPid, root.Pid, root.Pgid, root.Cwd, copyArgv(root.Argv), se.EventTime)
	proc.FDs = cloneFDs(root.FDs)
	t.processes[childPid] = proc
	if grp, ok := t.groups[root.Pgid]; ok {
		grp.Current[childPid] = true
	}
}

func (t *ProcessTable) execve(se *event.SyscallEvent) {
	proc := t.callerOrPrehistoric(se.Pid)
	var cwd string
	var argv []string
	if len(se.Data) > 0 {
		cwd = se.Data[0]
	}
	if len(se.Data) > 1 {
		argv = se.Data[1:]
	}
	proc.Cwd = cwd
	proc.Argv = argv
}

// parseSyscallHex parses an audit-log syscall argument (arg0-arg4): these
// are recorded as unprefixed hex, e.g. a pid of 122 appears as "7a"; a
// leading "0x" is also accepted.
func parseSyscallHex(s string) int {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0
	}
	return int(v)
}

// parseSyscallDec parses a decimal auxiliary field such as FD_PAIR or a
// SOCKADDR port, which the audit log records in base 10.
func parseSyscallDec(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return int(v)
}

func (t *ProcessTable) setpgid(se *event.SyscallEvent) {
	target := parseSyscallHex(se.Arg0)
	if target == 0 {
		target = se.Pid
	}
	newPgid := parseSyscallHex(se.Arg1)
	if newPgid == 0 {
		newPgid = target
	}

	tproc := t.callerOrPrehistoric(target)
	oldPgid := tproc.Pgid
	if oldPgid != 0 {
		if oldGrp, ok := t.groups[oldPgid]; ok {
			delete(oldGrp.Current, target)
			oldGrp.Former[target] = true
			if len(oldGrp.Current) == 0 {
				t.finalizeGroup(oldGrp, se.EventTime)
			}
		}
	}

	if grp, ok := t.groups[newPgid]; ok {
		grp.Current[target] = true
		tproc.Pgid = newPgid
	} else if target == newPgid {
		grp := newLiveProcessGroup(newPgid, se.EventTime)
		grp.Current[target] = true
		t.groups[newPgid] = grp
		tproc.Pgid = newPgid
	} else {
		// target joins a prehistoric group that is never materialized
		tproc.Pgid = newPgid
	}
}

func (t *ProcessTable) exit(se *event.SyscallEvent) {
	p, ok := t.processes[se.Pid]
	if !ok {
		return
	}
	if p.IsThread {
		t.finalizeThread(p)
	} else {
		t.finalizeProcess(p, se.EventTime)
	}
}

func (t *ProcessTable) exitGroup(se *event.SyscallEvent) {
	p, ok := t.processes[se.Pid]
	if !ok {
		return
	}
	if p.IsThread {
		if p.Parent != nil {
			t.finalizeProcess(p.Parent, se.EventTime)
		}
		return
	}
	t.finalizeProcess(p, se.EventTime)
}

// finalizeProcess retires a process, killing any remaining threads and
// finalizing its group if it becomes empty. This materializes one
// ProcessEvent.
func (t *ProcessTable) finalizeProcess(p *LiveProcess, deathTime time.Time) {
	if p.finished() {
		return
	}
	p.Finish = deathTime

	for _, th := range p.Threads {
		t.finalizeThread(th)
	}
	p.Threads = nil

	if grp, ok := t.groups[p.Pgid]; ok {
		delete(grp.Current, p.Pid)
		grp.Former[p.Pid] = true
		if len(grp.Current) == 0 {
			t.finalizeGroup(grp, deathTime)
		}
	}

	t.retiredOut = append(t.retiredOut, &event.ProcessEvent{
		Node:      t.nodeName,
		Send:      time.Now().UTC(),
		Pid:       p.Pid,
		Ppid:      p.Ppid,
		Pgid:      p.Pgid,
		Cwd:       p.Cwd,
		Argv:      p.Argv,
		BirthUTC:  p.Birth,
		FinishUTC: p.Finish,
	})
	delete(t.processes, p.Pid)
}

// finalizeThread removes a thread with no materialized event.
func (t *ProcessTable) finalizeThread(th *LiveProcess) {
	if th.Parent != nil {
		delete(th.Parent.Threads, th.Pid)
	}
	delete(t.processes, th.Pid)
}

// retireZombie handles a clone/vfork landing on an already-live pid: retire
// the stale entity at the new event's time before creating the new one.
func (t *ProcessTable) retireZombie(p *LiveProcess, at time.Time) {
	if p.IsThread {
		t.finalizeThread(p)
		return
	}
	t.finalizeProcess(p, at)
}

func (t *ProcessTable) finalizeGroup(g *LiveProcessGroup, deathTime time.Time) {
	g.Finish = deathTime
	t.retiredOut = append(t.retiredOut, &event.ProcessGroupEvent{
		Node:      t.nodeName,
		Send:      time.Now().UTC(),
		Pgid:      g.Pgid,
		BirthUTC:  g.Birth,
		FinishUTC: g.Finish,
	})
	delete(t.groups, g.Pgid)
}

func (t *ProcessTable) pipe(se *event.SyscallEvent) {
	if len(se.Data) < 2 {
		return
	}
	fd0 := parseSyscallDec(se.Data[0])
	fd1 := parseSyscallDec(se.Data[1])
	proc := t.callerOrPrehistoric(se.Pid)

	of := &OpenFile{refs: 2, Pipe: &pipeFile{}}
	proc.FDs[fd0] = &FileDescriptor{FD: fd0, Kind: FDPipeRead, File: of}
	proc.FDs[fd1] = &FileDescriptor{FD: fd1, Kind: FDPipeWrite, File: of}
}

// closeFD releases an fd, finalizing its target OpenFile if this was the
// last reference. The refcount is decremented and the fd destroyed before
// the finalize check runs, per design note (c), to avoid a double-emit
// race between "last reference" and "fd destroyed".
func (t *ProcessTable) closeFD(se *event.SyscallEvent) {
	fd := parseSyscallHex(se.Arg0)
	proc, ok := t.processes[se.Pid]
	if !ok {
		return
	}
	h, ok := proc.FDs[fd]
	if !ok {
		return
	}
	delete(proc.FDs, fd)
	h.File.refs--
	if h.File.refs > 0 {
		return
	}

	switch h.Kind {
	case FDPipeRead, FDPipeWrite:
		pf := h.File.Pipe
		if pf.hasReader && pf.hasWriter {
			t.retiredOut = append(t.retiredOut, &event.IPCEvent{
				Node:        t.nodeName,
				Send:        time.Now().UTC(),
				WriterPid:   pf.writerPid,
				ReaderPid:   pf.readerPid,
				WriterBirth: pf.writerBirth,
				ReaderBirth: pf.readerBirth,
			})
		}
	case FDSocket:
		sf := h.File.Socket
		sf.closeUTC = se.EventTime
		if sf.bound {
			t.retiredOut = append(t.retiredOut, &event.SocketEvent{
				Node:      t.nodeName,
				Send:      time.Now().UTC(),
				Pid:       sf.localPid,
				OpenUTC:   sf.openUTC,
				CloseUTC:  sf.closeUTC,
				LocalPort: sf.localPort,
			})
		}
	}
}

func (t *ProcessTable) dup2(se *event.SyscallEvent) {
	oldFD := parseSyscallHex(se.Arg0)
	newFD := parseSyscallHex(se.Arg1)
	proc, ok := t.processes[se.Pid]
	if !ok {
		return
	}
	h, ok := proc.FDs[oldFD]
	if !ok {
		return
	}
	switch {
	case h.Kind == FDPipeRead && newFD == 0:
		h.File.Pipe.hasReader = true
		h.File.Pipe.readerPid = proc.Pid
		h.File.Pipe.readerBirth = proc.Birth
	case h.Kind == FDPipeWrite && newFD == 1:
		h.File.Pipe.hasWriter = true
		h.File.Pipe.writerPid = proc.Pid
		h.File.Pipe.writerBirth = proc.Birth
	}
}

func (t *ProcessTable) socket(se *event.SyscallEvent) {
	fd := se.RC
	if fd < 0 {
		return
	}
	proc := t.callerOrPrehistoric(se.Pid)
	of := &OpenFile{refs: 1, Socket: &socketFile{localPid: proc.Pid, openUTC: se.EventTime}}
	proc.FDs[fd] = &FileDescriptor{FD: fd, Kind: FDSocket, File: of}
}

func (t *ProcessTable) bind(se *event.SyscallEvent) {
	fd := parseSyscallHex(se.Arg0)
	proc, ok := t.processes[se.Pid]
	if !ok {
		return
	}
	h, ok := proc.FDs[fd]
	if !ok || h.Kind != FDSocket {
		return
	}
	if len(se.Data) < 2 {
		return
	}
	h.File.Socket.bound = true
	h.File.Socket.localPort = uint16(parseSyscallDec(se.Data[1]))
}

func (t *ProcessTable) connect(se *event.SyscallEvent) {
	fd := parseSyscallHex(se.Arg0)
	proc, ok := t.processes[se.Pid]
	if !ok {
		return
	}
	h, ok := proc.FDs[fd]
	if !ok || h.Kind != FDSocket {
		return
	}
	if len(se.Data) < 2 {
		return
	}
	addr := se.Data[0]
	port := uint16(parseSyscallDec(se.Data[1]))

	sf := h.File.Socket
	sf.connected = true
	sf.connectUTC = se.EventTime
	sf.remoteHost = addr
	sf.remotePort = port

	host := t.dns.resolve(addr)
	t.retiredOut = append(t.retiredOut, &event.SocketConnectEvent{
		Node:       t.nodeName,
		Send:       time.Now().UTC(),
		Pid:        proc.Pid,
		ConnectUTC: se.EventTime,
		RemoteHost: host,
		RemotePort: port,
	})
}
