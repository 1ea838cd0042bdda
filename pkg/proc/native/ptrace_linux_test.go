package native

import (
	"debug/elf"
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/solib/pkg/sdt"
)

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceGetGRegs reads the general purpose registers of tid with
// PTRACE_GETREGSET, which every 64bit linux port implements.
func ptraceGetGRegs(tid int, regs *sys.PtraceRegs) error {
	iov := sys.Iovec{Base: (*byte)(unsafe.Pointer(regs))}
	iov.SetLen(int(unsafe.Sizeof(*regs)))
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(tid), uintptr(elf.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ProcessExitedError is returned when the traced process exits.
type ProcessExitedError struct {
	Pid    int
	Status int
}

func (pe ProcessExitedError) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", pe.Pid, pe.Status)
}

// Tracer is a minimal ptrace based Controller used to test Target against
// a real process. Only the thread group leader is controlled.
type Tracer struct {
	pid         int
	exited      bool
	breakpoints map[uint64][]byte // original instruction bytes

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
}

// Attach attaches to the process pid and waits for it to stop.
func Attach(pid int) (*Tracer, error) {
	t := &Tracer{
		pid:            pid,
		breakpoints:    make(map[uint64][]byte),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go t.handlePtraceFuncs()

	var err error
	t.execPtraceFunc(func() { err = sys.PtraceAttach(pid) })
	if err != nil {
		close(t.ptraceChan)
		return nil, fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}
	if _, err := t.wait(); err != nil {
		close(t.ptraceChan)
		return nil, err
	}
	return t, nil
}

func (t *Tracer) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range t.ptraceChan {
		fn()
		t.ptraceDoneChan <- nil
	}
}

func (t *Tracer) execPtraceFunc(fn func()) {
	t.ptraceChan <- fn
	<-t.ptraceDoneChan
}

// wait waits for the process to stop and returns the signal that stopped it.
func (t *Tracer) wait() (sys.Signal, error) {
	var (
		status sys.WaitStatus
		err    error
	)
	t.execPtraceFunc(func() { _, err = sys.Wait4(t.pid, &status, sys.WALL, nil) })
	if err != nil {
		return 0, fmt.Errorf("wait err %s %d", err, t.pid)
	}
	switch {
	case status.Exited():
		t.exited = true
		return 0, ProcessExitedError{Pid: t.pid, Status: status.ExitStatus()}
	case status.Signaled():
		t.exited = true
		return 0, ProcessExitedError{Pid: t.pid, Status: -int(status.Signal())}
	case status.Stopped():
		return status.StopSignal(), nil
	}
	return 0, fmt.Errorf("unexpected wait status %#x for %d", status, t.pid)
}

func (t *Tracer) registers() (*sys.PtraceRegs, error) {
	if t.exited {
		return nil, ProcessExitedError{Pid: t.pid}
	}
	var (
		regs sys.PtraceRegs
		err  error
	)
	t.execPtraceFunc(func() { err = ptraceGetGRegs(t.pid, &regs) })
	if err != nil {
		return nil, fmt.Errorf("could not read registers of %d: %w", t.pid, err)
	}
	return &regs, nil
}

// PC returns the program counter of the thread group leader.
func (t *Tracer) PC() (uint64, error) {
	regs, err := t.registers()
	if err != nil {
		return 0, err
	}
	return regsPC(regs), nil
}

// Registers returns the general purpose registers of the thread group
// leader, named the way probe arguments name them.
func (t *Tracer) Registers() (sdt.Registers, error) {
	regs, err := t.registers()
	if err != nil {
		return nil, err
	}
	return ptraceRegisters{regs}, nil
}

func (t *Tracer) pokeData(addr uint64, data []byte) (err error) {
	t.execPtraceFunc(func() { _, err = sys.PtracePokeData(t.pid, uintptr(addr), data) })
	return err
}

func (t *Tracer) peekData(addr uint64, data []byte) (err error) {
	t.execPtraceFunc(func() { _, err = sys.PtracePeekData(t.pid, uintptr(addr), data) })
	return err
}

// SetBreakpoint writes a breakpoint instruction at addr.
func (t *Tracer) SetBreakpoint(addr uint64) error {
	if _, ok := t.breakpoints[addr]; ok {
		return nil
	}
	if len(breakpointInstr) == 0 {
		return fmt.Errorf("breakpoints not supported on %s", runtime.GOARCH)
	}
	orig := make([]byte, len(breakpointInstr))
	if err := t.peekData(addr, orig); err != nil {
		return fmt.Errorf("could not set breakpoint at %#x: %w", addr, err)
	}
	if err := t.pokeData(addr, breakpointInstr); err != nil {
		return fmt.Errorf("could not set breakpoint at %#x: %w", addr, err)
	}
	t.breakpoints[addr] = orig
	return nil
}

// ClearBreakpoint restores the instruction at addr.
func (t *Tracer) ClearBreakpoint(addr uint64) error {
	orig, ok := t.breakpoints[addr]
	if !ok {
		return nil
	}
	if err := t.pokeData(addr, orig); err != nil {
		return fmt.Errorf("could not clear breakpoint at %#x: %w", addr, err)
	}
	delete(t.breakpoints, addr)
	return nil
}

// Detach removes all breakpoints and detaches from the process, if kill
// is true the process is killed first.
func (t *Tracer) Detach(kill bool) error {
	defer close(t.ptraceChan)
	if t.exited {
		return nil
	}
	if kill {
		t.execPtraceFunc(func() { _ = sys.Kill(t.pid, sys.SIGKILL) })
		_, err := t.wait()
		if _, exited := err.(ProcessExitedError); exited {
			return nil
		}
		return err
	}
	for addr := range t.breakpoints {
		if err := t.ClearBreakpoint(addr); err != nil {
			return err
		}
	}
	var err error
	t.execPtraceFunc(func() { err = ptraceDetach(t.pid, 0) })
	return err
}
