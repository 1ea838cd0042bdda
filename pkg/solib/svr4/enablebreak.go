package svr4

import (
	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/solib"
)

// findLoaderInList returns the dynamic linker's entry in list: the library
// named like the program interpreter, or the one containing addr in its
// .text section.
func (st *debugState) findLoaderInList(ps *solib.ProgramSpace, list []*solib.Library, addr uint64) *solib.Library {
	interp, _ := findInterpreter(ps)
	for _, lib := range list {
		if interp != "" && st.aliases.sameName(interp, lib.OrigName) && ps.LoadLibrary(lib) == nil {
			return lib
		}
	}
	for _, lib := range list {
		if err := ps.LoadLibrary(lib); err != nil {
			continue
		}
		text, ok := lib.Object.Section(".text")
		if !ok {
			continue
		}
		if st.relocate(ps, lib, text).Contains(addr) {
			return lib
		}
	}
	return nil
}

// recordLoaderRanges records the runtime ranges of the dynamic linker's
// .text and .plt sections and of its lazy binding resolver.
func (st *debugState) recordLoaderRanges(ps *solib.ProgramSpace, obj solib.ObjectFile, bias uint64) {
	ptrSize := ps.Target.Arch().PtrSize
	st.interpText, st.interpPlt = addrRange{}, addrRange{}
	st.resolverRanges = nil
	if sec, ok := obj.Section(".text"); ok {
		st.interpText = sectionRange(sec, bias, ptrSize)
	}
	if sec, ok := obj.Section(".plt"); ok {
		st.interpPlt = sectionRange(sec, bias, ptrSize)
	}
	for _, prefix := range ps.Config.ResolverNames {
		for _, sym := range obj.SymbolsWithPrefix(prefix) {
			if sym.Size == 0 {
				continue
			}
			start := solib.TruncatePtr(sym.Value+bias, ptrSize)
			st.resolverRanges = append(st.resolverRanges, addrRange{start, start + sym.Size})
		}
	}
}

// lookupBreakName returns the address of the first of the configured debug
// hook functions defined by obj.
func lookupBreakName(ps *solib.ProgramSpace, obj solib.ObjectFile) (uint64, bool) {
	for _, name := range ps.Config.BreakNames {
		if sym, ok := obj.Symbol(name); ok && sym.Value != 0 {
			return sym.Value, true
		}
	}
	return 0, false
}

// enableBreak sets up the mechanism used to be notified of changes to the
// link map: the probes of the dynamic linker if it has them, a breakpoint
// on its debug hook otherwise.
func (st *debugState) enableBreak(ps *solib.ProgramSpace) bool {
	log := logflags.SolibLogger()
	arch := ps.Target.Arch()
	st.interpText, st.interpPlt = addrRange{}, addrRange{}
	st.resolverRanges = nil

	// If the link map is already populated r_brk was relocated by the
	// dynamic linker and the breakpoint goes there.
	list, _ := st.currentListDirect(ps)
	if len(list) > 0 {
		st.lastGood = list
	}
	if st.debugBase != 0 {
		if lm, err := st.rMap(ps); err == nil && lm != 0 {
			if brk, err := st.rBrk(ps); err == nil && brk != 0 {
				if loader := st.findLoaderInList(ps, list, brk); loader != nil && loader.Object != nil {
					bias := st.lmAddrCheck(ps, loader, loader.Object)
					st.recordLoaderRanges(ps, loader.Object, bias)
					log.Debugf("debug hook at r_brk %#x in %s", brk, loader.OrigName)
					st.createEventBreakpoints(ps, loader.Object, bias, brk)
					return true
				}
			}
		}
	}

	interp, ok := findInterpreter(ps)
	if ok {
		if st.enableBreakInterp(ps, interp, list) {
			return true
		}
		st.warnOnce(ps, "no-break-function", "Unable to find dynamic linker breakpoint function.\nShared library initializers can not be debugged and explicitly loaded dynamic code will not be tracked.")
	}

	// Last resort: the debug hook may be defined by the main executable.
	if ps.Exec != nil && ps.Exec.Object != nil {
		if addr, ok := lookupBreakName(ps, ps.Exec.Object); ok {
			addr = arch.TruncatePtr(addr + ps.Exec.Displacement)
			log.Debugf("debug hook at %#x in main executable", addr)
			st.createEventBreakpoints(ps, nil, 0, addr)
			return true
		}
	}
	return false
}

// enableBreakInterp opens the program interpreter to find its debug hook.
func (st *debugState) enableBreakInterp(ps *solib.ProgramSpace, interp string, list []*solib.Library) bool {
	log := logflags.SolibLogger()
	arch := ps.Target.Arch()
	obj, err := ps.Opener.Open(ps.ResolvePath(interp))
	if err != nil {
		log.Debugf("could not open program interpreter %s: %v", interp, err)
		return false
	}

	var (
		loadAddr      uint64
		loadAddrFound bool
		foundInList   bool
	)
	// On a running target the dynamic linker's base address is in the
	// link map.
	for _, lib := range list {
		if st.aliases.sameName(interp, lib.OrigName) {
			lib.Object = obj
			loadAddr = st.lmAddrCheck(ps, lib, obj)
			loadAddrFound, foundInList = true, true
			break
		}
	}
	if !loadAddrFound {
		if base, ok := ps.Target.AuxvValue(linutil.AT_BASE); ok {
			loadAddr = base
			if arch.PtrSize < 8 {
				// Ensure loadAddr wraps correctly when the dynamic linker is
				// loaded at the top of a 32bit address space.
				spaceSize := uint64(1) << (uint(arch.PtrSize) * 8)
				entry := obj.Entry()
				if entry < spaceSize && entry+loadAddr >= spaceSize {
					loadAddr -= spaceSize
				}
			}
			loadAddrFound = true
		}
	}
	if !loadAddrFound {
		// Still in the dynamic linker: derive its base from the pc.
		pc, err := ps.Target.PC()
		if err != nil {
			log.Debugf("could not read pc: %v", err)
			return false
		}
		loadAddr = pc - obj.Entry()
	}
	loadAddr = arch.TruncatePtr(loadAddr)

	if !foundInList {
		st.loaderName = interp
		st.loaderOffset = loadAddr
		st.loaderValid = true
	}
	st.recordLoaderRanges(ps, obj, loadAddr)

	addr, ok := lookupBreakName(ps, obj)
	if !ok {
		return false
	}
	addr = arch.TruncatePtr(loadAddr + addr)
	log.Debugf("debug hook at %#x in %s (load address %#x)", addr, interp, loadAddr)
	st.createEventBreakpoints(ps, obj, loadAddr, addr)
	return true
}

// createEventBreakpoints uses the probes of obj if possible, otherwise it
// sets a breakpoint at addr.
func (st *debugState) createEventBreakpoints(ps *solib.ProgramSpace, obj solib.ObjectFile, bias, addr uint64) {
	st.fallbackBreak = addr
	if st.createProbeBreakpoints(ps, obj, bias) {
		st.setPhase(ProbesActive)
		return
	}
	st.insertEventBreakpoint(ps, addr)
	if st.phase != Degraded {
		st.setPhase(BreakpointActive)
	}
}

func (st *debugState) insertEventBreakpoint(ps *solib.ProgramSpace, addr uint64) {
	if addr == 0 || st.eventBreakpoints[addr] {
		return
	}
	if err := ps.Target.SetBreakpoint(addr); err != nil {
		st.warnOnce(ps, "event-breakpoint", "could not set shared library event breakpoint at %#x: %v", addr, err)
		return
	}
	st.eventBreakpoints[addr] = true
}
