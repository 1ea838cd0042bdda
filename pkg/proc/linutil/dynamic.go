package linutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Dynamic section tags as defined by the SysV ABI specification and the
// MIPS processor supplement.
const (
	DT_NULL             = 0
	DT_DEBUG            = 21
	DT_MIPS_RLD_MAP     = 0x70000016
	DT_MIPS_RLD_MAP_REL = 0x70000035
)

// DynEntry is one entry of a .dynamic section.
type DynEntry struct {
	Tag uint64
	Val uint64
}

// ReadUintRaw reads an integer of ptrSize bytes, with the specified byte order, from reader.
func ReadUintRaw(reader io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("not supported ptr size %d", ptrSize)
}

// PutUintRaw is the inverse of ReadUintRaw.
func PutUintRaw(buf []byte, order binary.ByteOrder, ptrSize int, v uint64) {
	switch ptrSize {
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	}
}

// ParseDynamic decodes the entries of a .dynamic section up to, and
// excluding, the terminating DT_NULL entry. The index of an entry in the
// returned slice is its index in the section.
func ParseDynamic(buf []byte, order binary.ByteOrder, ptrSize int) []DynEntry {
	rd := bytes.NewReader(buf)
	r := []DynEntry{}
	for {
		tag, err := ReadUintRaw(rd, order, ptrSize)
		if err != nil {
			return r
		}
		val, err := ReadUintRaw(rd, order, ptrSize)
		if err != nil {
			return r
		}
		if tag == DT_NULL {
			return r
		}
		r = append(r, DynEntry{tag, val})
	}
}

// FindDynamic returns the index and value of the first entry with the given tag.
func FindDynamic(entries []DynEntry, tag uint64) (int, uint64, bool) {
	for i := range entries {
		if entries[i].Tag == tag {
			return i, entries[i].Val, true
		}
	}
	return 0, 0, false
}
