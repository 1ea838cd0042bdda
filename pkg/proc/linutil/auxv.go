package linutil

import (
	"bytes"
	"encoding/binary"
)

// Auxiliary vector tags used by the shared library engine.
const (
	AT_NULL   = 0
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_BASE   = 7
	AT_ENTRY  = 9
)

// Auxv is a decoded auxiliary vector.
type Auxv map[uint64]uint64

// Lookup returns the value of tag.
func (a Auxv) Lookup(tag uint64) (uint64, bool) {
	v, ok := a[tag]
	return v, ok
}

// ParseAuxv decodes the elf auxiliary vector. Decoding stops at AT_NULL or
// at the first truncated entry.
// For a description of the auxiliary vector (auxv) format see:
// System V Application Binary Interface, AMD64 Architecture Processor
// Supplement, section 3.4.3.
// System V Application Binary Interface, Intel386 Architecture Processor
// Supplement (fourth edition), section 3-28.
func ParseAuxv(auxv []byte, ptrSize int, order binary.ByteOrder) Auxv {
	rd := bytes.NewBuffer(auxv)
	r := Auxv{}
	for {
		tag, err := ReadUintRaw(rd, order, ptrSize)
		if err != nil {
			return r
		}
		val, err := ReadUintRaw(rd, order, ptrSize)
		if err != nil {
			return r
		}
		if tag == AT_NULL {
			return r
		}
		r[tag] = val
	}
}
