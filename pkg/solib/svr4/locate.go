package svr4

import (
	"bytes"
	"debug/elf"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/solib"
)

// debugTags returns the dynamic tags that may lead to r_debug, in order of
// preference.
func debugTags(arch *solib.Arch) []uint64 {
	if arch.Machine == elf.EM_MIPS {
		return []uint64{linutil.DT_MIPS_RLD_MAP, linutil.DT_MIPS_RLD_MAP_REL, linutil.DT_DEBUG}
	}
	return []uint64{linutil.DT_DEBUG}
}

// locateBase returns the address of r_debug, locating it if necessary. It
// returns 0 if it can not be found, which happens for statically linked
// programs and for dynamically linked programs before the dynamic linker
// initialized DT_DEBUG.
func (st *debugState) locateBase(ps *solib.ProgramSpace) uint64 {
	if st.debugBase != 0 {
		return st.debugBase
	}
	st.debugBase = elfLocateBase(ps)
	if st.debugBase != 0 {
		logflags.SolibLogger().Debugf("r_debug located at %#x", st.debugBase)
		if st.phase == Uninitialized {
			st.setPhase(Located)
		}
	}
	return st.debugBase
}

func elfLocateBase(ps *solib.ProgramSpace) uint64 {
	arch := ps.Target.Arch()
	mem := ps.Target.Memory()
	for _, tag := range debugTags(arch) {
		entryAddr, val, found := scanDynTagFile(ps, tag)
		if !found {
			entryAddr, val, found = scanDynTagTarget(ps, tag)
		}
		if !found {
			continue
		}
		switch tag {
		case linutil.DT_DEBUG:
			return val
		case linutil.DT_MIPS_RLD_MAP:
			if base, err := readPtr(mem, arch, val); err == nil {
				return base
			}
		case linutil.DT_MIPS_RLD_MAP_REL:
			if base, err := readPtr(mem, arch, arch.TruncatePtr(val+entryAddr)); err == nil {
				return base
			}
		}
	}

	if ps.Exec != nil && ps.Exec.Object != nil {
		if sym, ok := ps.Exec.Object.Symbol("_r_debug"); ok && sym.Value != 0 {
			return arch.TruncatePtr(sym.Value + ps.Exec.Displacement)
		}
	}
	return 0
}

// scanDynTagFile looks for tag in the dynamic section of the main
// executable's file. It returns the runtime address of the entry and its
// value, read from target memory when possible.
func scanDynTagFile(ps *solib.ProgramSpace, tag uint64) (entryAddr, val uint64, found bool) {
	if ps.Exec == nil || ps.Exec.Object == nil {
		return 0, 0, false
	}
	obj := ps.Exec.Object
	dynSec, ok := obj.Section(".dynamic")
	if !ok || dynSec.NoBits {
		return 0, 0, false
	}
	idx, val, found := linutil.FindDynamic(obj.DynamicEntries(), tag)
	if !found {
		return 0, 0, false
	}
	arch := ps.Target.Arch()
	entrySize := uint64(2 * arch.PtrSize)
	entryAddr = arch.TruncatePtr(dynSec.Addr + ps.Exec.Displacement + uint64(idx)*entrySize)
	if v, err := readPtr(ps.Target.Memory(), arch, entryAddr+uint64(arch.PtrSize)); err == nil {
		val = v
	} else {
		logflags.SolibLogger().Debugf("could not read dynamic entry at %#x, using file contents: %v", entryAddr, err)
	}
	return entryAddr, val, true
}

// scanDynTagTarget looks for tag in the dynamic segment of the main
// executable, found through the program headers in target memory.
func scanDynTagTarget(ps *solib.ProgramSpace, tag uint64) (entryAddr, val uint64, found bool) {
	dyn, dynAddr, err := readTargetSegment(ps, elf.PT_DYNAMIC)
	if err != nil {
		logflags.SolibLogger().Debugf("could not read dynamic segment from target: %v", err)
		return 0, 0, false
	}
	arch := ps.Target.Arch()
	idx, val, found := linutil.FindDynamic(linutil.ParseDynamic(dyn, arch.ByteOrder, arch.PtrSize), tag)
	if !found {
		return 0, 0, false
	}
	return arch.TruncatePtr(dynAddr + uint64(idx)*uint64(2*arch.PtrSize)), val, true
}

// findInterpreter returns the name of the program interpreter of the main
// executable, taken from its file or, if that is not available, from
// target memory.
func findInterpreter(ps *solib.ProgramSpace) (string, bool) {
	if ps.Exec != nil && ps.Exec.Object != nil {
		if interp := ps.Exec.Object.Interp(); interp != "" {
			return interp, true
		}
	}
	data, _, err := readTargetSegment(ps, elf.PT_INTERP)
	if err != nil {
		return "", false
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	if len(data) == 0 {
		return "", false
	}
	return string(data), true
}
