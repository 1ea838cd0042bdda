// Package objfile opens ELF object files for the shared library engine.
package objfile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/ebpf-profiler/libpf/pfelf"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
)

const (
	stapsdtNoteSection = ".note.stapsdt"
	stapsdtBaseSection = ".stapsdt.base"
)

// ELFFile is an ELF object file opened from disk. Sections, program
// headers and dynamic entries are read when the file is opened, symbols
// and probes the first time they are needed. Close only releases the file
// descriptor: a closed ELFFile reopens its path to read symbols or probes.
type ELFFile struct {
	path string
	fh   *os.File
	f    *elf.File

	ptrSize     int
	minPageSize uint64
	sections    []solib.Section
	rawProgs    []byte
	interp      string
	dyn         []linutil.DynEntry

	symOnce sync.Once
	syms    []solib.Symbol
	symIdx  map[string]int

	probeOnce sync.Once
	probes    []*sdt.Probe

	mu     sync.Mutex
	closed bool
}

// minPageSize returns the smallest page size the kernel uses on machine.
func minPageSize(machine elf.Machine) uint64 {
	switch machine {
	case elf.EM_PPC64, elf.EM_PPC:
		return 0x10000
	case elf.EM_SPARCV9:
		return 0x2000
	}
	return 0x1000
}

// Open opens the ELF file at path.
func Open(path string) (*ELFFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := elf.NewFile(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	r := &ELFFile{path: path, fh: fh, f: f, minPageSize: minPageSize(f.Machine)}
	switch f.Class {
	case elf.ELFCLASS64:
		r.ptrSize = 8
	case elf.ELFCLASS32:
		r.ptrSize = 4
	default:
		r.Close()
		return nil, fmt.Errorf("%s: unsupported ELF class %v", path, f.Class)
	}

	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NULL {
			continue
		}
		r.sections = append(r.sections, solib.Section{
			Name:   sec.Name,
			Addr:   sec.Addr,
			Size:   sec.Size,
			Offset: sec.Offset,
			NoBits: sec.Type == elf.SHT_NOBITS,
		})
	}

	if r.rawProgs, err = readRawProgs(fh, f); err != nil {
		logflags.ObjfileLogger().Debugf("%s: could not read program headers: %v", path, err)
	}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			logflags.ObjfileLogger().Debugf("%s: could not read PT_INTERP: %v", path, err)
			break
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			data = data[:i]
		}
		r.interp = string(data)
		break
	}
	r.dyn = r.readDynamic()
	return r, nil
}

// readRawProgs returns the program header table as stored in the file.
// debug/elf does not expose e_phoff so the file header is decoded here.
func readRawProgs(fh io.ReaderAt, f *elf.File) ([]byte, error) {
	if len(f.Progs) == 0 {
		return nil, nil
	}
	var (
		phoff     uint64
		phentsize uint16
	)
	order := f.ByteOrder
	switch f.Class {
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := binary.Read(io.NewSectionReader(fh, 0, int64(binary.Size(hdr))), order, &hdr); err != nil {
			return nil, err
		}
		phoff, phentsize = hdr.Phoff, hdr.Phentsize
	default:
		var hdr elf.Header32
		if err := binary.Read(io.NewSectionReader(fh, 0, int64(binary.Size(hdr))), order, &hdr); err != nil {
			return nil, err
		}
		phoff, phentsize = uint64(hdr.Phoff), hdr.Phentsize
	}
	raw := make([]byte, int(phentsize)*len(f.Progs))
	if _, err := fh.ReadAt(raw, int64(phoff)); err != nil {
		return nil, err
	}
	return raw, nil
}

// readDynamic returns the entries of the .dynamic section, or of the
// PT_DYNAMIC segment for files without section headers.
func (r *ELFFile) readDynamic() []linutil.DynEntry {
	var data []byte
	if sec := r.f.Section(".dynamic"); sec != nil && sec.Type != elf.SHT_NOBITS {
		data, _ = sec.Data()
	} else {
		for _, prog := range r.f.Progs {
			if prog.Type == elf.PT_DYNAMIC {
				data, _ = io.ReadAll(prog.Open())
				break
			}
		}
	}
	if len(data) == 0 {
		return nil
	}
	return linutil.ParseDynamic(data, r.f.ByteOrder, r.ptrSize)
}

func (r *ELFFile) Path() string { return r.path }
func (r *ELFFile) PtrSize() int { return r.ptrSize }
func (r *ELFFile) ByteOrder() binary.ByteOrder { return r.f.ByteOrder }
func (r *ELFFile) Type() elf.Type { return r.f.Type }
func (r *ELFFile) Entry() uint64 { return r.f.Entry }
func (r *ELFFile) MinPageSize() uint64 { return r.minPageSize }
func (r *ELFFile) Sections() []solib.Section { return r.sections }
func (r *ELFFile) RawProgs() []byte { return r.rawProgs }
func (r *ELFFile) Interp() string { return r.interp }
func (r *ELFFile) DynamicEntries() []linutil.DynEntry { return r.dyn }

// Machine returns the machine the file was compiled for.
func (r *ELFFile) Machine() elf.Machine { return r.f.Machine }

func (r *ELFFile) Section(name string) (solib.Section, bool) {
	for _, sec := range r.sections {
		if sec.Name == name {
			return sec, true
		}
	}
	return solib.Section{}, false
}

func (r *ELFFile) Progs() []elf.ProgHeader {
	progs := make([]elf.ProgHeader, len(r.f.Progs))
	for i, prog := range r.f.Progs {
		progs[i] = prog.ProgHeader
	}
	return progs
}

// file returns the parsed file, reopening it if the descriptor was
// released. done must be called once f is no longer used.
func (r *ELFFile) file() (f *elf.File, done func(), err error) {
	r.mu.Lock()
	if !r.closed {
		return r.f, r.mu.Unlock, nil
	}
	r.mu.Unlock()
	fh, err := os.Open(r.path)
	if err != nil {
		return nil, nil, err
	}
	f, err = elf.NewFile(fh)
	if err != nil {
		fh.Close()
		return nil, nil, fmt.Errorf("could not parse %s: %w", r.path, err)
	}
	logflags.ObjfileLogger().Debugf("reopened %s", r.path)
	return f, func() { fh.Close() }, nil
}

func (r *ELFFile) loadSymbols() {
	r.symOnce.Do(func() {
		r.symIdx = map[string]int{}
		f, done, err := r.file()
		if err != nil {
			logflags.ObjfileLogger().Debugf("could not read symbols: %v", err)
			return
		}
		defer done()
		add := func(syms []elf.Symbol, err error) {
			if err != nil {
				if !errors.Is(err, elf.ErrNoSymbols) {
					logflags.ObjfileLogger().Debugf("%s: could not read symbols: %v", r.path, err)
				}
				return
			}
			for _, sym := range syms {
				if sym.Name == "" || elf.ST_TYPE(sym.Info) == elf.STT_SECTION || elf.ST_TYPE(sym.Info) == elf.STT_FILE {
					continue
				}
				if _, dup := r.symIdx[sym.Name]; dup {
					continue
				}
				r.symIdx[sym.Name] = len(r.syms)
				r.syms = append(r.syms, solib.Symbol{Name: sym.Name, Value: sym.Value, Size: sym.Size})
			}
		}
		// The static symbol table wins over the dynamic one.
		add(f.Symbols())
		add(f.DynamicSymbols())
		sort.SliceStable(r.syms, func(i, j int) bool { return r.syms[i].Name < r.syms[j].Name })
		for i, sym := range r.syms {
			r.symIdx[sym.Name] = i
		}
	})
}

func (r *ELFFile) Symbol(name string) (solib.Symbol, bool) {
	r.loadSymbols()
	i, ok := r.symIdx[name]
	if !ok {
		return solib.Symbol{}, false
	}
	return r.syms[i], true
}

func (r *ELFFile) SymbolsWithPrefix(prefix string) []solib.Symbol {
	r.loadSymbols()
	i := sort.Search(len(r.syms), func(i int) bool { return r.syms[i].Name >= prefix })
	var out []solib.Symbol
	for ; i < len(r.syms) && strings.HasPrefix(r.syms[i].Name, prefix); i++ {
		out = append(out, r.syms[i])
	}
	return out
}

// Probes returns the SystemTap probes described by the .note.stapsdt
// section. Probe addresses are adjusted for prelinking using the address
// of .stapsdt.base.
func (r *ELFFile) Probes() []*sdt.Probe {
	r.probeOnce.Do(func() {
		probes, err := r.readProbes()
		if err != nil {
			logflags.ObjfileLogger().Debugf("%s: could not read probes: %v", r.path, err)
		}
		r.probes = probes
	})
	return r.probes
}

func (r *ELFFile) readProbes() ([]*sdt.Probe, error) {
	f, done, err := r.file()
	if err != nil {
		return nil, err
	}
	defer done()
	sec := f.Section(stapsdtNoteSection)
	if sec == nil || sec.Type != elf.SHT_NOTE {
		return nil, nil
	}
	var base uint64
	if bsec := f.Section(stapsdtBaseSection); bsec != nil {
		base = bsec.Addr
	}
	if f.Class == elf.ELFCLASS64 && f.Data == elf.ELFDATA2LSB {
		return readUSDTProbes(r.path, base)
	}
	// pfelf only reads 64bit little endian files.
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	return sdt.ParseNotes(data, f.ByteOrder, r.ptrSize, base)
}

// readUSDTProbes decodes the probe notes of the file at path.
func readUSDTProbes(path string, base uint64) ([]*sdt.Probe, error) {
	ef, err := pfelf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()
	sec := ef.Section(stapsdtNoteSection)
	if sec == nil {
		return nil, nil
	}
	usdt, err := pfelf.ParseUSDTProbes(sec)
	if err != nil {
		return nil, err
	}
	probes := make([]*sdt.Probe, 0, len(usdt))
	for _, u := range usdt {
		p := &sdt.Probe{Provider: u.Provider, Name: u.Name, PC: u.Location, Base: u.Base, Args: u.Arguments}
		p.Relocate(base)
		probes = append(probes, p)
	}
	return probes, nil
}

func (r *ELFFile) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases the file descriptor.
func (r *ELFFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.fh.Close()
}
