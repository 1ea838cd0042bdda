package solibtest

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
)

// Object is an in-memory solib.ObjectFile.
type Object struct {
	PathName    string
	Ptr         int
	Order       binary.ByteOrder
	ELFType     elf.Type
	EntryAddr   uint64
	PageSize    uint64
	Sects       []solib.Section
	ProgHeaders []elf.ProgHeader
	// Raw is returned by RawProgs, if nil ProgHeaders are encoded.
	Raw        []byte
	InterpName string
	Dyn        []linutil.DynEntry
	Syms       []solib.Symbol
	SDTProbes  []*sdt.Probe

	Closed bool
}

// NewObject returns an empty shared object for arch.
func NewObject(path string, arch *solib.Arch) *Object {
	return &Object{
		PathName: path,
		Ptr:      arch.PtrSize,
		Order:    arch.ByteOrder,
		ELFType:  elf.ET_DYN,
		PageSize: arch.MinPageSize,
	}
}

func (o *Object) Path() string { return o.PathName }
func (o *Object) PtrSize() int { return o.Ptr }
func (o *Object) ByteOrder() binary.ByteOrder { return o.Order }
func (o *Object) Type() elf.Type { return o.ELFType }
func (o *Object) Entry() uint64 { return o.EntryAddr }
func (o *Object) MinPageSize() uint64 { return o.PageSize }
func (o *Object) Sections() []solib.Section { return o.Sects }
func (o *Object) Progs() []elf.ProgHeader { return o.ProgHeaders }
func (o *Object) Interp() string { return o.InterpName }
func (o *Object) DynamicEntries() []linutil.DynEntry { return o.Dyn }
func (o *Object) Probes() []*sdt.Probe { return o.SDTProbes }
func (o *Object) Close() error {
	o.Closed = true
	return nil
}

func (o *Object) Section(name string) (solib.Section, bool) {
	for _, s := range o.Sects {
		if s.Name == name {
			return s, true
		}
	}
	return solib.Section{}, false
}

func (o *Object) RawProgs() []byte {
	if o.Raw != nil {
		return o.Raw
	}
	if len(o.ProgHeaders) == 0 {
		return nil
	}
	return EncodeProgs(o.Ptr, o.Order, o.ProgHeaders)
}

func (o *Object) Symbol(name string) (solib.Symbol, bool) {
	for _, s := range o.Syms {
		if s.Name == name {
			return s, true
		}
	}
	return solib.Symbol{}, false
}

func (o *Object) SymbolsWithPrefix(prefix string) []solib.Symbol {
	var r []solib.Symbol
	for _, s := range o.Syms {
		if strings.HasPrefix(s.Name, prefix) {
			r = append(r, s)
		}
	}
	return r
}

// AddSection appends a section.
func (o *Object) AddSection(name string, addr, size uint64) *Object {
	o.Sects = append(o.Sects, solib.Section{Name: name, Addr: addr, Size: size, Offset: addr})
	return o
}

// AddSymbol appends a symbol.
func (o *Object) AddSymbol(name string, value, size uint64) *Object {
	o.Syms = append(o.Syms, solib.Symbol{Name: name, Value: value, Size: size})
	return o
}

// Objects is a solib.Opener over a fixed set of objects.
type Objects map[string]*Object

// Open implements solib.Opener.
func (objs Objects) Open(path string) (solib.ObjectFile, error) {
	o, ok := objs[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file or directory", path)
	}
	return o, nil
}

// Add registers o under its path.
func (objs Objects) Add(o *Object) *Object {
	objs[o.PathName] = o
	return o
}

// EncodeProgs encodes a program header table.
func EncodeProgs(ptrSize int, order binary.ByteOrder, progs []elf.ProgHeader) []byte {
	var out []byte
	for _, p := range progs {
		if ptrSize == 8 {
			buf := make([]byte, 56)
			order.PutUint32(buf[0:], uint32(p.Type))
			order.PutUint32(buf[4:], uint32(p.Flags))
			order.PutUint64(buf[8:], p.Off)
			order.PutUint64(buf[16:], p.Vaddr)
			order.PutUint64(buf[24:], p.Paddr)
			order.PutUint64(buf[32:], p.Filesz)
			order.PutUint64(buf[40:], p.Memsz)
			order.PutUint64(buf[48:], p.Align)
			out = append(out, buf...)
		} else {
			buf := make([]byte, 32)
			order.PutUint32(buf[0:], uint32(p.Type))
			order.PutUint32(buf[4:], uint32(p.Off))
			order.PutUint32(buf[8:], uint32(p.Vaddr))
			order.PutUint32(buf[12:], uint32(p.Paddr))
			order.PutUint32(buf[16:], uint32(p.Filesz))
			order.PutUint32(buf[20:], uint32(p.Memsz))
			order.PutUint32(buf[24:], uint32(p.Flags))
			order.PutUint32(buf[28:], uint32(p.Align))
			out = append(out, buf...)
		}
	}
	return out
}

// EncodeDynamic encodes entries as a dynamic section, terminated by DT_NULL.
func EncodeDynamic(ptrSize int, order binary.ByteOrder, entries []linutil.DynEntry) []byte {
	out := make([]byte, (len(entries)+1)*2*ptrSize)
	for i, e := range entries {
		linutil.PutUintRaw(out[i*2*ptrSize:], order, ptrSize, e.Tag)
		linutil.PutUintRaw(out[i*2*ptrSize+ptrSize:], order, ptrSize, e.Val)
	}
	return out
}
