package linutil

import (
	"encoding/binary"
	"testing"
)

func encode(order binary.ByteOrder, ptrSize int, vals ...uint64) []byte {
	buf := make([]byte, len(vals)*ptrSize)
	for i, v := range vals {
		PutUintRaw(buf[i*ptrSize:], order, ptrSize, v)
	}
	return buf
}

func TestParseAuxv(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		buf := encode(binary.LittleEndian, ptrSize,
			AT_PHDR, 0x400040,
			AT_PHNUM, 9,
			AT_BASE, 0x7f0000,
			AT_ENTRY, 0x401000,
			AT_NULL, 0,
			AT_PAGESZ, 4096)
		auxv := ParseAuxv(buf, ptrSize, binary.LittleEndian)
		if v, ok := auxv.Lookup(AT_ENTRY); !ok || v != 0x401000 {
			t.Errorf("ptrSize %d: AT_ENTRY = %#x %v", ptrSize, v, ok)
		}
		if v, _ := auxv.Lookup(AT_PHNUM); v != 9 {
			t.Errorf("ptrSize %d: AT_PHNUM = %d", ptrSize, v)
		}
		if _, ok := auxv.Lookup(AT_PAGESZ); ok {
			t.Errorf("ptrSize %d: entries after AT_NULL should be ignored", ptrSize)
		}
	}
}

func TestParseDynamic(t *testing.T) {
	buf := encode(binary.BigEndian, 4, 1, 0x10, DT_DEBUG, 0, DT_MIPS_RLD_MAP_REL, 0x20, DT_NULL, 0, DT_DEBUG, 5)
	entries := ParseDynamic(buf, binary.BigEndian, 4)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	i, v, ok := FindDynamic(entries, DT_MIPS_RLD_MAP_REL)
	if !ok || i != 2 || v != 0x20 {
		t.Fatalf("FindDynamic = %d %#x %v", i, v, ok)
	}
	if _, _, ok := FindDynamic(entries, DT_MIPS_RLD_MAP); ok {
		t.Fatal("unexpected DT_MIPS_RLD_MAP")
	}
}
