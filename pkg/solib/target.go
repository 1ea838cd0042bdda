package solib

import (
	"debug/elf"
	"encoding/binary"

	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/sdt"
)

// MemoryReadWriter is an interface for reading or writing to
// the target's memory.
type MemoryReadWriter interface {
	ReadMemory(buf []byte, addr uint64) (n int, err error)
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// Target is the view of the process being debugged that the shared
// library engine needs. It is implemented by the process controller.
type Target interface {
	Pid() int
	// OS returns the operating system of the target, as a GOOS value.
	OS() string
	Arch() *Arch
	Memory() MemoryReadWriter
	// AuxvValue returns the value associated with tag in the target's
	// auxiliary vector.
	AuxvValue(tag uint64) (uint64, bool)
	// PC returns the program counter of the current thread.
	PC() (uint64, error)
	// HasExecution is false for targets that can not be resumed, for
	// example core files.
	HasExecution() bool
	// SetBreakpoint inserts an internal breakpoint at addr, it will not be
	// reported to the user.
	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error
	// EvalProbeArgument evaluates the n-th argument of probe p, the
	// current thread must be stopped at p.
	EvalProbeArgument(p *sdt.Probe, n int) (uint64, error)
	// IsReservedRange returns true if addr belongs to a range the kernel
	// maps into every process (for example the vDSO) which does not
	// correspond to any file on disk.
	IsReservedRange(addr uint64) bool
}

// LibraryListTransfer is implemented by targets that can return the list
// of libraries in one request, for example remote stubs supporting
// qXfer:libraries-svr4:read.
type LibraryListTransfer interface {
	// TransferLibraryList returns a library-list-svr4 document. If start
	// is not zero only the libraries starting at the link map node start
	// are returned, prev must be the node that precedes it.
	TransferLibraryList(start, prev uint64) ([]byte, error)
	// SupportsIncrementalTransfer returns true if start and prev are honored.
	SupportsIncrementalTransfer() bool
}

// Arch describes the target architecture.
type Arch struct {
	// Name is the architecture name, as a GOARCH value.
	Name      string
	PtrSize   int
	ByteOrder binary.ByteOrder
	Machine   elf.Machine
	// MinPageSize is the smallest page size the architecture supports.
	MinPageSize uint64
}

// TruncatePtr truncates addr to the pointer size of the architecture.
func (a *Arch) TruncatePtr(addr uint64) uint64 {
	return TruncatePtr(addr, a.PtrSize)
}

var (
	AMD64Arch   = &Arch{Name: "amd64", PtrSize: 8, ByteOrder: binary.LittleEndian, Machine: elf.EM_X86_64, MinPageSize: 0x1000}
	I386Arch    = &Arch{Name: "386", PtrSize: 4, ByteOrder: binary.LittleEndian, Machine: elf.EM_386, MinPageSize: 0x1000}
	ARM64Arch   = &Arch{Name: "arm64", PtrSize: 8, ByteOrder: binary.LittleEndian, Machine: elf.EM_AARCH64, MinPageSize: 0x1000}
	ARMArch     = &Arch{Name: "arm", PtrSize: 4, ByteOrder: binary.LittleEndian, Machine: elf.EM_ARM, MinPageSize: 0x1000}
	PPC64LEArch = &Arch{Name: "ppc64le", PtrSize: 8, ByteOrder: binary.LittleEndian, Machine: elf.EM_PPC64, MinPageSize: 0x10000}
	MIPSArch    = &Arch{Name: "mips", PtrSize: 4, ByteOrder: binary.BigEndian, Machine: elf.EM_MIPS, MinPageSize: 0x1000}
	MIPS64Arch  = &Arch{Name: "mips64", PtrSize: 8, ByteOrder: binary.BigEndian, Machine: elf.EM_MIPS, MinPageSize: 0x1000}
	RISCV64Arch = &Arch{Name: "riscv64", PtrSize: 8, ByteOrder: binary.LittleEndian, Machine: elf.EM_RISCV, MinPageSize: 0x1000}
)

// ArchByName returns the Arch for goarch, or nil.
func ArchByName(goarch string) *Arch {
	for _, a := range []*Arch{AMD64Arch, I386Arch, ARM64Arch, ARMArch, PPC64LEArch, MIPSArch, MIPS64Arch, RISCV64Arch} {
		if a.Name == goarch {
			return a
		}
	}
	return nil
}

// Section is an address range of an object file.
type Section struct {
	Name   string
	Addr   uint64
	Size   uint64
	Offset uint64
	// NoBits is true for sections that occupy no space in the file.
	NoBits bool
}

// End returns the first address past the section.
func (s Section) End() uint64 {
	return s.Addr + s.Size
}

// Contains returns true if addr is inside the section.
func (s Section) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.End()
}

// Symbol is a symbol of an object file.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// ObjectFile is an object file opened by the debugger. Addresses are
// link-time addresses.
type ObjectFile interface {
	Path() string
	PtrSize() int
	ByteOrder() binary.ByteOrder
	Type() elf.Type
	Entry() uint64
	// MinPageSize is the minimum page size of the object's architecture.
	MinPageSize() uint64
	Sections() []Section
	Section(name string) (Section, bool)
	Progs() []elf.ProgHeader
	// RawProgs returns the program header table exactly as stored in the file.
	RawProgs() []byte
	// Interp returns the program interpreter, or the empty string.
	Interp() string
	// DynamicEntries returns the entries of the dynamic section, in order.
	DynamicEntries() []linutil.DynEntry
	// Symbol looks up name in the static and dynamic symbol tables.
	Symbol(name string) (Symbol, bool)
	// SymbolsWithPrefix returns all symbols whose name starts with prefix.
	SymbolsWithPrefix(prefix string) []Symbol
	// Probes returns the SDT probes defined by the object.
	Probes() []*sdt.Probe
	Close() error
}

// Opener opens object files.
type Opener interface {
	Open(path string) (ObjectFile, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (ObjectFile, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (ObjectFile, error) {
	return f(path)
}
