//go:build linux && amd64

package provdserver

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// ptraceTracer attaches to a running process via PTRACE_ATTACH, traps
// its write(2) calls with PTRACE_SYSCALL, and for every write to fd 1
// (stdout) peeks the written buffer out of the tracee's address space.
// Matching lines are pushed onto the returned channel; non-write
// syscalls and writes to other fds are passed through untouched.
type ptraceTracer struct {
	mtx    sync.Mutex
	active map[int]chan struct{}
}

func NewPtraceTracer() Tracer {
	return &ptraceTracer{active: make(map[int]chan struct{})}
}

func (t *ptraceTracer) Start(ctx context.Context, pid int, matchRegex *regexp.Regexp) (<-chan string, error) {
	stop := make(chan struct{})
	t.mtx.Lock()
	t.active[pid] = stop
	t.mtx.Unlock()

	ready := make(chan error, 1)
	lines := make(chan string, 16)
	go t.run(ctx, pid, matchRegex, stop, lines, ready)
	if err := <-ready; err != nil {
		t.mtx.Lock()
		delete(t.active, pid)
		t.mtx.Unlock()
		return nil, err
	}
	return lines, nil
}

func (t *ptraceTracer) Stop(pid int) error {
	t.mtx.Lock()
	stop, ok := t.active[pid]
	delete(t.active, pid)
	t.mtx.Unlock()
	if ok {
		close(stop)
	}
	return nil
}

// run performs the attach/trap/detach loop on its own locked OS thread
// since every ptrace call for a given tracee must come from the thread
// that attached to it.
func (t *ptraceTracer) run(ctx context.Context, pid int, matchRegex *regexp.Regexp, stop <-chan struct{}, lines chan<- string, ready chan<- error) {
	defer close(lines)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.PtraceAttach(pid); err != nil {
		ready <- fmt.Errorf("provdserver: ptrace attach pid %d: %w", pid, err)
		return
	}
	defer unix.PtraceDetach(pid)

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		ready <- fmt.Errorf("provdserver: wait after attach on pid %d: %w", pid, err)
		return
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD); err != nil {
		ready <- fmt.Errorf("provdserver: ptrace setoptions pid %d: %w", pid, err)
		return
	}
	ready <- nil

	var carry []byte
	inSyscallEntry := true
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := unix.PtraceSyscall(pid, 0); err != nil {
			return
		}
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return
		}
		if ws.Exited() || ws.Signaled() {
			return
		}
		if !ws.Stopped() {
			continue
		}

		if inSyscallEntry {
			t.handleSyscallStop(pid, matchRegex, &carry, lines)
		}
		inSyscallEntry = !inSyscallEntry
	}
}

// handleSyscallStop inspects the syscall-entry register state for a
// write(2) targeting fd 1 and, if found, peeks the written bytes out of
// the tracee and forwards any regex-matching complete lines.
func (t *ptraceTracer) handleSyscallStop(pid int, matchRegex *regexp.Regexp, carry *[]byte, lines chan<- string) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return
	}
	if !isWriteSyscall(&regs) {
		return
	}
	fd, addr, count := writeSyscallArgs(&regs)
	if fd != 1 || count == 0 {
		return
	}
	if count > 1<<20 {
		count = 1 << 20 // cap a single peek against a runaway write
	}

	buf := make([]byte, count)
	if _, err := unix.PtracePeekData(pid, uintptr(addr), buf); err != nil {
		return
	}
	*carry = append(*carry, buf...)

	for {
		i := bytes.IndexByte(*carry, '\n')
		if i < 0 {
			return // partial line: wait for the next write to complete it.
		}
		line := string((*carry)[:i])
		*carry = (*carry)[i+1:]
		if matchRegex.MatchString(line) {
			lines <- line
		}
	}
}

const sysWriteAmd64 = 1

func isWriteSyscall(regs *unix.PtraceRegs) bool {
	return regs.Orig_rax == sysWriteAmd64
}

// writeSyscallArgs reads write(2)'s (fd, buf, count) out of the amd64
// syscall calling convention's argument registers.
func writeSyscallArgs(regs *unix.PtraceRegs) (fd int, addr uint64, count uint64) {
	return int(regs.Rdi), regs.Rsi, regs.Rdx
}
