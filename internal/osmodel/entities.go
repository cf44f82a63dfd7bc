// Package osmodel implements the process table: the state machine that
// ingests a reordered, partially dropped syscall stream and materializes
// well-formed process, process-group, pipe, and socket events.
package osmodel

import "time"

// FDKind discriminates what an open file descriptor refers to.
type FDKind int

const (
	FDNone FDKind = iota
	FDFile
	FDPipeRead
	FDPipeWrite
	FDSocket
)

// OpenFile is shared by every FileDescriptor that references it. refs is
// the authoritative sharing count: when it drops to zero after a holder
// closes its fd, the file is finalized.
type OpenFile struct {
	refs int

	Pipe   *pipeFile
	Socket *socketFile
}

type pipeFile struct {
	hasReader   bool
	readerPid   int
	readerBirth time.Time
	hasWriter   bool
	writerPid   int
	writerBirth time.Time
}

type socketFile struct {
	localPid    int
	openUTC     time.Time
	connectUTC  time.Time
	closeUTC    time.Time
	localPort   uint16
	remoteHost  string
	remotePort  uint16
	bound       bool
	connected   bool
}

// FileDescriptor is a process-local handle into a shared OpenFile.
type FileDescriptor struct {
	FD   int
	Kind FDKind
	File *OpenFile
}

// LiveProcess models both a process and a thread (LiveThread in spec.md is
// simply a LiveProcess with IsThread set and a non-owning Parent
// back-reference, per the design notes' "owning-process + non-owning
// child-thread handles" guidance).
type LiveProcess struct {
	Pid      int
	Ppid     int
	Pgid     int
	Cwd      string
	Argv     []string
	Birth    time.Time
	Finish   time.Time // zero value means "not yet finished" (+inf)
	IsThread bool
	Parent   *LiveProcess    // non-nil only for threads
	Threads  map[int]*LiveProcess
	FDs      map[int]*FileDescriptor
}

func (p *LiveProcess) finished() bool { return !p.Finish.IsZero() }

func newLiveProcess(pid, ppid, pgid int, cwd string, argv []string, birth time.Time) *LiveProcess {
	return &LiveProcess{
		Pid:     pid,
		Ppid:    ppid,
		Pgid:    pgid,
		Cwd:     cwd,
		Argv:    argv,
		Birth:   birth,
		Threads: make(map[int]*LiveProcess),
		FDs:     make(map[int]*FileDescriptor),
	}
}

// LiveProcessGroup tracks a process group's current and former membership.
type LiveProcessGroup struct {
	Pgid    int
	Birth   time.Time
	Finish  time.Time
	Current map[int]bool
	Former  map[int]bool
}

func newLiveProcessGroup(pgid int, birth time.Time) *LiveProcessGroup {
	return &LiveProcessGroup{
		Pgid:    pgid,
		Birth:   birth,
		Current: make(map[int]bool),
		Former:  make(map[int]bool),
	}
}
