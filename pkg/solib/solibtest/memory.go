// Package solibtest provides a synthetic target for testing the shared
// library engine without a real process.
package solibtest

import (
	"fmt"
)

// Memory is a sparse address space formed from multiple regions, each of
// which may override previously added regions.
type Memory struct {
	regions []region
	// Reads counts the calls to ReadMemory.
	Reads int
	// FailAt makes reads touching any of the addresses fail.
	FailAt map[uint64]bool
}

type region struct {
	addr uint64
	data []byte
}

func (r region) end() uint64 { return r.addr + uint64(len(r.data)) }

// Map copies data into the address space at addr, replacing whatever was
// mapped there.
func (m *Memory) Map(addr uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	data = append([]byte(nil), data...)
	end := addr + uint64(len(data))
	newRegions := make([]region, 0, len(m.regions)+1)
	inserted := false
	for _, entry := range m.regions {
		switch {
		case entry.end() <= addr:
			// Entry is completely before the new region.
			newRegions = append(newRegions, entry)
		case end <= entry.addr:
			// Entry is completely after the new region.
			if !inserted {
				newRegions = append(newRegions, region{addr, data})
				inserted = true
			}
			newRegions = append(newRegions, entry)
		case addr <= entry.addr && entry.end() <= end:
			// Entry is completely overwritten by the new region. Drop.
		case entry.addr < addr && entry.end() <= end:
			// New region overwrites the end of the entry.
			newRegions = append(newRegions, region{entry.addr, entry.data[:addr-entry.addr]})
		case addr <= entry.addr && end < entry.end():
			// New region overwrites the beginning of the entry.
			if !inserted {
				newRegions = append(newRegions, region{addr, data})
				inserted = true
			}
			newRegions = append(newRegions, region{end, entry.data[end-entry.addr:]})
		default:
			// New region punches a hole in the entry.
			newRegions = append(newRegions, region{entry.addr, entry.data[:addr-entry.addr]})
			newRegions = append(newRegions, region{addr, data})
			newRegions = append(newRegions, region{end, entry.data[end-entry.addr:]})
			inserted = true
		}
	}
	if !inserted {
		newRegions = append(newRegions, region{addr, data})
	}
	m.regions = newRegions
}

// ReadMemory implements solib.MemoryReadWriter.
func (m *Memory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	m.Reads++
	for i := range buf {
		if m.FailAt[addr+uint64(i)] {
			return 0, fmt.Errorf("injected read failure at %#x", addr+uint64(i))
		}
	}
	for _, entry := range m.regions {
		if len(buf) == 0 {
			break
		}
		if entry.end() <= addr {
			continue
		}
		if entry.addr > addr {
			break
		}
		pn := copy(buf, entry.data[addr-entry.addr:])
		n += pn
		buf = buf[pn:]
		addr += uint64(pn)
	}
	if len(buf) != 0 {
		return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
	}
	return n, nil
}

// WriteMemory implements solib.MemoryReadWriter.
func (m *Memory) WriteMemory(addr uint64, data []byte) (int, error) {
	m.Map(addr, data)
	return len(data), nil
}
