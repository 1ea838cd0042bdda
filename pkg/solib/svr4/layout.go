package svr4

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/solib"
)

// linkMapLayout describes the offsets of the fields of r_debug and
// link_map used by the engine.
type linkMapLayout struct {
	ptrSize int

	rVersionOffset int
	rMapOffset     int
	rBrkOffset     int
	rStateOffset   int
	rLdbaseOffset  int
	// rLdsomapOffset is the offset of r_ldsomap, -1 if r_debug does not
	// have it.
	rLdsomapOffset int

	lAddrOffset int
	lNameOffset int
	lLDOffset   int
	lNextOffset int
	lPrevOffset int
	// lSize is the number of bytes read for every node.
	lSize int
}

func newLinkMapLayout(ptrSize int, goos string) *linkMapLayout {
	lo := &linkMapLayout{
		ptrSize:        ptrSize,
		rVersionOffset: 0,
		rMapOffset:     ptrSize,
		rBrkOffset:     2 * ptrSize,
		rStateOffset:   3 * ptrSize,
		rLdbaseOffset:  4 * ptrSize,
		rLdsomapOffset: -1,
		lAddrOffset:    0,
		lNameOffset:    ptrSize,
		lLDOffset:      2 * ptrSize,
		lNextOffset:    3 * ptrSize,
		lPrevOffset:    4 * ptrSize,
		lSize:          5 * ptrSize,
	}
	switch goos {
	case "solaris", "illumos":
		lo.rLdsomapOffset = 5 * ptrSize
	}
	return lo
}

// readPtr reads a pointer sized value from target memory.
func readPtr(mem solib.MemoryReadWriter, arch *solib.Arch, addr uint64) (uint64, error) {
	buf := make([]byte, arch.PtrSize)
	if _, err := mem.ReadMemory(buf, addr); err != nil {
		return 0, err
	}
	return linutil.ReadUintRaw(bytes.NewReader(buf), arch.ByteOrder, arch.PtrSize)
}

func ptrAt(buf []byte, off int, arch *solib.Arch) uint64 {
	if arch.PtrSize == 4 {
		return uint64(arch.ByteOrder.Uint32(buf[off:]))
	}
	return arch.ByteOrder.Uint64(buf[off:])
}

// phdrSize returns the size of a program header entry.
func phdrSize(ptrSize int) int {
	if ptrSize == 8 {
		return 56
	}
	return 32
}

// decodeProgs decodes a program header table.
func decodeProgs(raw []byte, ptrSize int, order binary.ByteOrder) []elf.ProgHeader {
	sz := phdrSize(ptrSize)
	r := make([]elf.ProgHeader, 0, len(raw)/sz)
	for off := 0; off+sz <= len(raw); off += sz {
		b := raw[off:]
		var p elf.ProgHeader
		if ptrSize == 8 {
			p.Type = elf.ProgType(order.Uint32(b[0:]))
			p.Flags = elf.ProgFlag(order.Uint32(b[4:]))
			p.Off = order.Uint64(b[8:])
			p.Vaddr = order.Uint64(b[16:])
			p.Paddr = order.Uint64(b[24:])
			p.Filesz = order.Uint64(b[32:])
			p.Memsz = order.Uint64(b[40:])
			p.Align = order.Uint64(b[48:])
		} else {
			p.Type = elf.ProgType(order.Uint32(b[0:]))
			p.Off = uint64(order.Uint32(b[4:]))
			p.Vaddr = uint64(order.Uint32(b[8:]))
			p.Paddr = uint64(order.Uint32(b[12:]))
			p.Filesz = uint64(order.Uint32(b[16:]))
			p.Memsz = uint64(order.Uint32(b[20:]))
			p.Flags = elf.ProgFlag(order.Uint32(b[24:]))
			p.Align = uint64(order.Uint32(b[28:]))
		}
		r = append(r, p)
	}
	return r
}

// phdrField is the position of a field inside an encoded program header.
type phdrField struct {
	off, size int
}

type phdrLayout struct {
	typ, flags, offset, vaddr, paddr, filesz, memsz, align phdrField
}

var (
	phdr64Layout = phdrLayout{
		typ: phdrField{0, 4}, flags: phdrField{4, 4}, offset: phdrField{8, 8},
		vaddr: phdrField{16, 8}, paddr: phdrField{24, 8}, filesz: phdrField{32, 8},
		memsz: phdrField{40, 8}, align: phdrField{48, 8},
	}
	phdr32Layout = phdrLayout{
		typ: phdrField{0, 4}, offset: phdrField{4, 4}, vaddr: phdrField{8, 4},
		paddr: phdrField{12, 4}, filesz: phdrField{16, 4}, memsz: phdrField{20, 4},
		flags: phdrField{24, 4}, align: phdrField{28, 4},
	}
)

func phdrLayoutFor(ptrSize int) *phdrLayout {
	if ptrSize == 8 {
		return &phdr64Layout
	}
	return &phdr32Layout
}

func (f phdrField) get(b []byte, order binary.ByteOrder) uint64 {
	if f.size == 8 {
		return order.Uint64(b[f.off:])
	}
	return uint64(order.Uint32(b[f.off:]))
}

func (f phdrField) put(b []byte, order binary.ByteOrder, v uint64) {
	if f.size == 8 {
		order.PutUint64(b[f.off:], v)
		return
	}
	order.PutUint32(b[f.off:], uint32(v))
}

func (f phdrField) zero(b []byte) {
	for i := 0; i < f.size; i++ {
		b[f.off+i] = 0
	}
}

const (
	// maxProgHeaders is the largest e_phnum an ELF header can hold.
	maxProgHeaders = 0xffff
	// maxSegmentRead bounds the PT_DYNAMIC and PT_INTERP segments read
	// from target memory.
	maxSegmentRead = 1 << 20
)

// targetProgHeaders reads the program headers of the main executable from
// target memory, using the location recorded in the auxiliary vector. The
// returned relocation must be added to the addresses in the headers.
func targetProgHeaders(ps *solib.ProgramSpace) (raw []byte, progs []elf.ProgHeader, reloc uint64, err error) {
	arch := ps.Target.Arch()
	atPhdr, ok := ps.Target.AuxvValue(linutil.AT_PHDR)
	if !ok {
		return nil, nil, 0, fmt.Errorf("no AT_PHDR in auxiliary vector")
	}
	atPhnum, ok := ps.Target.AuxvValue(linutil.AT_PHNUM)
	if !ok || atPhnum == 0 {
		return nil, nil, 0, fmt.Errorf("no AT_PHNUM in auxiliary vector")
	}
	sz := uint64(phdrSize(arch.PtrSize))
	if atPhent, ok := ps.Target.AuxvValue(linutil.AT_PHENT); ok && atPhent != sz {
		return nil, nil, 0, fmt.Errorf("unexpected program header size %d", atPhent)
	}
	if atPhnum > maxProgHeaders {
		return nil, nil, 0, fmt.Errorf("too many program headers: %d", atPhnum)
	}
	raw = make([]byte, atPhnum*sz)
	if _, err := ps.Target.Memory().ReadMemory(raw, atPhdr); err != nil {
		return nil, nil, 0, &solib.PartialReadError{Addr: atPhdr, Err: err}
	}
	progs = decodeProgs(raw, arch.PtrSize, arch.ByteOrder)
	for _, p := range progs {
		if p.Type == elf.PT_PHDR {
			reloc = arch.TruncatePtr(atPhdr - p.Vaddr)
			break
		}
	}
	return raw, progs, reloc, nil
}

// readTargetSegment reads the contents of the first segment of type typ
// from target memory.
func readTargetSegment(ps *solib.ProgramSpace, typ elf.ProgType) (data []byte, addr uint64, err error) {
	_, progs, reloc, err := targetProgHeaders(ps)
	if err != nil {
		return nil, 0, err
	}
	arch := ps.Target.Arch()
	for _, p := range progs {
		if p.Type != typ {
			continue
		}
		addr = arch.TruncatePtr(p.Vaddr + reloc)
		size := p.Filesz
		if size == 0 || size > p.Memsz {
			size = p.Memsz
		}
		if size > maxSegmentRead {
			return nil, 0, fmt.Errorf("%v segment at %#x too large: %#x bytes", typ, addr, size)
		}
		data = make([]byte, size)
		if _, err := ps.Target.Memory().ReadMemory(data, addr); err != nil {
			return nil, 0, &solib.PartialReadError{Addr: addr, Err: err}
		}
		return data, addr, nil
	}
	return nil, 0, fmt.Errorf("no %v segment", typ)
}
