package native

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
)

// Controller controls the execution of a stopped process.
type Controller interface {
	// PC returns the program counter of the current thread.
	PC() (uint64, error)
	// Registers returns the registers of the current thread.
	Registers() (sdt.Registers, error)
	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error
}

// Target is a solib.Target for a live process.
type Target struct {
	pid  int
	arch *solib.Arch
	ctl  Controller
	mem  *processMemory

	fs       procfs.FS
	procRoot string

	auxv     linutil.Auxv
	reserved []solib.Section
}

// reservedMappings are the mappings the kernel adds to every process.
var reservedMappings = []string{"[vdso]", "[vvar]", "[vsyscall]", "[vectors]", "[sigpage]"}

// NewTarget returns a Target for the process pid. If ctl is nil the target
// has no execution, like a core file.
func NewTarget(pid int, arch *solib.Arch, ctl Controller) (*Target, error) {
	return newTarget(procfs.DefaultMountPoint, pid, arch, ctl)
}

func newTarget(mountPoint string, pid int, arch *solib.Arch, ctl Controller) (*Target, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	t := &Target{pid: pid, arch: arch, ctl: ctl, fs: fs, mem: &processMemory{pid: pid}, procRoot: mountPoint}
	if err := t.Refresh(); err != nil {
		return nil, err
	}
	return t, nil
}

// Refresh reads the auxiliary vector and the reserved ranges again, it
// must be called after the process execs.
func (t *Target) Refresh() error {
	auxvbuf, err := os.ReadFile(filepath.Join(t.procRoot, strconv.Itoa(t.pid), "auxv"))
	if err != nil {
		return fmt.Errorf("could not read auxiliary vector: %w", err)
	}
	t.auxv = linutil.ParseAuxv(auxvbuf, t.arch.PtrSize, t.arch.ByteOrder)

	p, err := t.fs.Proc(t.pid)
	if err != nil {
		return err
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return fmt.Errorf("could not read memory map: %w", err)
	}
	t.reserved = t.reserved[:0]
	for _, m := range maps {
		if isReservedMapping(m.Pathname) {
			t.reserved = append(t.reserved, solib.Section{Name: m.Pathname, Addr: uint64(m.StartAddr), Size: uint64(m.EndAddr - m.StartAddr)})
		}
	}
	logflags.NativeLogger().Debugf("process %d: %d auxv entries, reserved ranges %v", t.pid, len(t.auxv), t.reserved)
	return nil
}

func isReservedMapping(name string) bool {
	if !strings.HasPrefix(name, "[") {
		return false
	}
	for _, r := range reservedMappings {
		if name == r {
			return true
		}
	}
	return false
}

// Executable returns the path of the process executable.
func (t *Target) Executable() (string, error) {
	p, err := t.fs.Proc(t.pid)
	if err != nil {
		return "", err
	}
	return p.Executable()
}

// EntryPoint returns the process entry point address, useful for
// debugging PIEs.
func (t *Target) EntryPoint() (uint64, error) {
	entry, ok := t.auxv.Lookup(linutil.AT_ENTRY)
	if !ok {
		return 0, fmt.Errorf("no AT_ENTRY in auxiliary vector of process %d", t.pid)
	}
	return entry, nil
}

func (t *Target) Pid() int { return t.pid }
func (t *Target) OS() string { return "linux" }
func (t *Target) Arch() *solib.Arch { return t.arch }
func (t *Target) Memory() solib.MemoryReadWriter { return t.mem }
func (t *Target) HasExecution() bool { return t.ctl != nil }

func (t *Target) AuxvValue(tag uint64) (uint64, bool) {
	return t.auxv.Lookup(tag)
}

func (t *Target) PC() (uint64, error) {
	if t.ctl == nil {
		return 0, fmt.Errorf("process %d is not running", t.pid)
	}
	return t.ctl.PC()
}

func (t *Target) SetBreakpoint(addr uint64) error {
	if t.ctl == nil {
		return fmt.Errorf("process %d is not running", t.pid)
	}
	return t.ctl.SetBreakpoint(addr)
}

func (t *Target) ClearBreakpoint(addr uint64) error {
	if t.ctl == nil {
		return fmt.Errorf("process %d is not running", t.pid)
	}
	return t.ctl.ClearBreakpoint(addr)
}

// EvalProbeArgument evaluates the n-th argument of p using the registers
// of the current thread.
func (t *Target) EvalProbeArgument(p *sdt.Probe, n int) (uint64, error) {
	if t.ctl == nil {
		return 0, fmt.Errorf("process %d is not running", t.pid)
	}
	args, err := p.ParseArgs(t.arch.Name)
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= len(args) {
		return 0, fmt.Errorf("probe %v has no argument %d", p, n)
	}
	regs, err := t.ctl.Registers()
	if err != nil {
		return 0, err
	}
	return args[n].Evaluate(regs, t.mem, t.arch.ByteOrder)
}

func (t *Target) IsReservedRange(addr uint64) bool {
	for _, r := range t.reserved {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}
