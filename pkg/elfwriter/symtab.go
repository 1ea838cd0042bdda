package elfwriter

import (
	"debug/elf"
	"encoding/binary"
)

// Symbol is a symbol to be written by SymbolTable.
type Symbol struct {
	Name  string
	Info  byte
	Shndx uint16
	Value uint64
	Size  uint64
}

// SymbolTable encodes syms as the contents of a SHT_SYMTAB (or
// SHT_DYNSYM) section and its associated string table. The first, null,
// symbol is added automatically.
func SymbolTable(syms []Symbol) (symtab, strtab []byte) {
	strtab = []byte{0}
	symtab = make([]byte, elf.Sym64Size)
	for _, sym := range syms {
		buf := make([]byte, elf.Sym64Size)
		binary.LittleEndian.PutUint32(buf[0:], uint32(len(strtab)))
		buf[4] = sym.Info
		buf[5] = 0
		binary.LittleEndian.PutUint16(buf[6:], sym.Shndx)
		binary.LittleEndian.PutUint64(buf[8:], sym.Value)
		binary.LittleEndian.PutUint64(buf[16:], sym.Size)
		symtab = append(symtab, buf...)
		strtab = append(strtab, []byte(sym.Name)...)
		strtab = append(strtab, 0)
	}
	return symtab, strtab
}

// Dynamic encodes a .dynamic section, a terminating DT_NULL entry is
// added.
func Dynamic(entries ...uint64) []byte {
	buf := make([]byte, 0, (len(entries)+2)*8)
	for _, e := range append(entries, 0, 0) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], e)
		buf = append(buf, b[:]...)
	}
	return buf
}
