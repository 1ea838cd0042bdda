// Package sdt decodes SystemTap statically defined tracing probes, as
// found in the .note.stapsdt section of ELF files, and their arguments.
package sdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SectionName is the name of the section holding the probe notes.
	SectionName = ".note.stapsdt"
	// BaseSectionName is the section used to detect prelink adjustments.
	BaseSectionName = ".stapsdt.base"

	noteName = "stapsdt"
	noteType = 3
)

// Probe is a single SDT probe.
type Probe struct {
	Provider string
	Name     string
	// PC is the link-time address of the probe site.
	PC uint64
	// Base is the address of .stapsdt.base recorded when the probe was
	// emitted.
	Base uint64
	// Args is the argument description as emitted by the compiler,
	// for example "-4@%edx 8@%rax".
	Args string
}

func (p *Probe) String() string {
	return fmt.Sprintf("%s:%s@%#x", p.Provider, p.Name, p.PC)
}

// ParseArgs parses p.Args for the architecture goarch.
func (p *Probe) ParseArgs(goarch string) ([]Arg, error) {
	return ParseArgs(p.Args, goarch)
}

// Relocate adjusts p.PC for the difference between baseAddr, the current
// address of .stapsdt.base, and the base recorded in the note. Files
// modified by prelink move .stapsdt.base together with the probe sites.
func (p *Probe) Relocate(baseAddr uint64) {
	if baseAddr != 0 && p.Base != 0 {
		p.PC += baseAddr - p.Base
		p.Base = baseAddr
	}
}

var errTruncatedNote = errors.New("truncated stapsdt note")

// ParseNotes decodes the contents of a .note.stapsdt section of a file of
// any class and byte order. Notes of other types are skipped. If baseAddr is not zero it must be the address
// of the .stapsdt.base section and probe addresses are adjusted for the
// difference between it and the base recorded in every note.
func ParseNotes(data []byte, order binary.ByteOrder, ptrSize int, baseAddr uint64) ([]*Probe, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("not supported ptr size %d", ptrSize)
	}
	r := []*Probe{}
	for len(data) > 0 {
		if len(data) < 12 {
			return r, errTruncatedNote
		}
		namesz := order.Uint32(data[0:])
		descsz := order.Uint32(data[4:])
		typ := order.Uint32(data[8:])
		data = data[12:]
		nameEnd := align4(uint64(namesz))
		descEnd := nameEnd + align4(uint64(descsz))
		if uint64(len(data)) < nameEnd+uint64(descsz) {
			return r, errTruncatedNote
		}
		name := string(bytes.TrimRight(data[:namesz], "\x00"))
		desc := data[nameEnd : nameEnd+uint64(descsz)]
		if descEnd > uint64(len(data)) {
			data = data[len(data):]
		} else {
			data = data[descEnd:]
		}
		if name != noteName || typ != noteType {
			continue
		}
		p, err := parseDesc(desc, order, ptrSize)
		if err != nil {
			return r, err
		}
		p.Relocate(baseAddr)
		r = append(r, p)
	}
	return r, nil
}

func parseDesc(desc []byte, order binary.ByteOrder, ptrSize int) (*Probe, error) {
	if len(desc) < 3*ptrSize {
		return nil, errTruncatedNote
	}
	readPtr := func(b []byte) uint64 {
		if ptrSize == 4 {
			return uint64(order.Uint32(b))
		}
		return order.Uint64(b)
	}
	p := &Probe{
		PC:   readPtr(desc),
		Base: readPtr(desc[ptrSize:]),
	}
	strs := bytes.SplitN(desc[3*ptrSize:], []byte{0}, 4)
	if len(strs) < 3 {
		return nil, errTruncatedNote
	}
	p.Provider = string(strs[0])
	p.Name = string(strs[1])
	p.Args = string(strs[2])
	return p, nil
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}
