package solibtest

import (
	"fmt"

	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
)

// HeapBase is where Alloc starts handing out memory.
const HeapBase = 0x10000000

// ProbeArg is the value (or the error) returned when a probe argument is
// evaluated.
type ProbeArg struct {
	Val uint64
	Err error
}

// Target is a solib.Target backed by a sparse memory image.
type Target struct {
	PidValue int
	OSName   string
	ArchInfo *solib.Arch
	Mem      *Memory
	Auxv     map[uint64]uint64

	PCValue     uint64
	PCErr       error
	NoExecution bool

	// Breakpoints is the set of inserted breakpoints.
	Breakpoints   map[uint64]bool
	BreakpointErr error

	// ProbeArgs are the argument values of the probe the target is stopped
	// at, keyed by probe name.
	ProbeArgs map[string][]ProbeArg
	// ProbeArgEvals counts calls to EvalProbeArgument.
	ProbeArgEvals int

	Reserved []solib.Section

	heap uint64
}

// NewTarget returns an empty linux target for arch.
func NewTarget(arch *solib.Arch) *Target {
	return &Target{
		PidValue:    1,
		OSName:      "linux",
		ArchInfo:    arch,
		Mem:         &Memory{},
		Auxv:        map[uint64]uint64{},
		Breakpoints: map[uint64]bool{},
		ProbeArgs:   map[string][]ProbeArg{},
		heap:        HeapBase,
	}
}

func (t *Target) Pid() int { return t.PidValue }
func (t *Target) OS() string { return t.OSName }
func (t *Target) Arch() *solib.Arch { return t.ArchInfo }
func (t *Target) Memory() solib.MemoryReadWriter { return t.Mem }
func (t *Target) HasExecution() bool { return !t.NoExecution }

func (t *Target) AuxvValue(tag uint64) (uint64, bool) {
	v, ok := t.Auxv[tag]
	return v, ok
}

func (t *Target) PC() (uint64, error) {
	return t.PCValue, t.PCErr
}

func (t *Target) SetBreakpoint(addr uint64) error {
	if t.BreakpointErr != nil {
		return t.BreakpointErr
	}
	t.Breakpoints[addr] = true
	return nil
}

func (t *Target) ClearBreakpoint(addr uint64) error {
	if !t.Breakpoints[addr] {
		return fmt.Errorf("no breakpoint at %#x", addr)
	}
	delete(t.Breakpoints, addr)
	return nil
}

func (t *Target) EvalProbeArgument(p *sdt.Probe, n int) (uint64, error) {
	t.ProbeArgEvals++
	args := t.ProbeArgs[p.Name]
	if n >= len(args) {
		return 0, fmt.Errorf("probe %s has no argument %d", p.Name, n)
	}
	return args[n].Val, args[n].Err
}

func (t *Target) IsReservedRange(addr uint64) bool {
	for _, r := range t.Reserved {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Alloc reserves size bytes of zeroed target memory, aligned to the
// pointer size.
func (t *Target) Alloc(size int) uint64 {
	addr := solib.Align(t.heap, uint64(t.ArchInfo.PtrSize))
	t.heap = addr + uint64(size)
	t.Mem.Map(addr, make([]byte, size))
	return addr
}

// PutPtr writes a pointer sized value at addr.
func (t *Target) PutPtr(addr, v uint64) {
	buf := make([]byte, t.ArchInfo.PtrSize)
	putPtr(buf, t.ArchInfo, v)
	t.Mem.Map(addr, buf)
}

// PutString writes a NUL terminated string at addr.
func (t *Target) PutString(addr uint64, s string) {
	t.Mem.Map(addr, append([]byte(s), 0))
}

// AllocString stores s in newly allocated memory.
func (t *Target) AllocString(s string) uint64 {
	addr := t.Alloc(len(s) + 1)
	t.PutString(addr, s)
	return addr
}

func putPtr(buf []byte, arch *solib.Arch, v uint64) {
	if arch.PtrSize == 4 {
		arch.ByteOrder.PutUint32(buf, uint32(v))
	} else {
		arch.ByteOrder.PutUint64(buf, v)
	}
}
