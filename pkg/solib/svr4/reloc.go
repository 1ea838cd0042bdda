package svr4

import (
	"debug/elf"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

// loadAlignment returns the largest alignment of the PT_LOAD segments of
// obj, or 0x1000 if obj has no program headers.
func loadAlignment(obj solib.ObjectFile) uint64 {
	progs := obj.Progs()
	if len(progs) == 0 {
		return 0x1000
	}
	align := uint64(1)
	for _, p := range progs {
		if p.Type == elf.PT_LOAD && p.Align > align {
			align = p.Align
		}
	}
	return align
}

// lmAddrCheck returns the load bias of lib. The bias is l_addr unless the
// dynamic section of the object is not where l_addr says it should be,
// which happens with prelinked libraries in core files: then the bias is
// derived from l_ld if it is congruent with l_addr.
func (st *debugState) lmAddrCheck(ps *solib.ProgramSpace, lib *solib.Library, obj solib.ObjectFile) uint64 {
	if bias, ok := lib.Bias(); ok {
		return bias
	}
	ptrSize := ps.Target.Arch().PtrSize
	lAddr := lib.LAddr
	if obj == nil {
		if lib.Object == nil {
			if err := ps.LoadLibrary(lib); err != nil {
				logflags.SolibLogger().Debugf("could not open %s to check its load address: %v", lib.Path, err)
			}
		}
		obj = lib.Object
	}

	if obj != nil && lib.LD != 0 {
		if dynSec, ok := obj.Section(".dynamic"); ok {
			dynAddr := dynSec.Addr
			if solib.TruncatePtr(dynAddr+lAddr, ptrSize) != lib.LD {
				candidate := solib.TruncatePtr(lib.LD-dynAddr, ptrSize)
				minPageSize := obj.MinPageSize()
				if minPageSize == 0 {
					minPageSize = ps.Target.Arch().MinPageSize
				}
				mask := loadAlignment(obj) - 1
				if solib.Aligned(lAddr, minPageSize) && solib.Congruent(lAddr, candidate, mask) {
					logflags.SolibLogger().Debugf("using PIC (Position Independent Code) prelink displacement %#x for %q", candidate, lib.OrigName)
					lAddr = candidate
				} else {
					err := &solib.RelocationMismatchError{Name: lib.OrigName, Expected: solib.TruncatePtr(dynAddr+lAddr, ptrSize), Actual: lib.LD}
					st.warnOnce(ps, "reloc:"+lib.OrigName, "%v", err)
				}
			}
		}
	}

	lAddr = solib.TruncatePtr(lAddr, ptrSize)
	lib.SetBias(lAddr)
	return lAddr
}

// relocate moves sec, a section of lib, to its runtime address.
func (st *debugState) relocate(ps *solib.ProgramSpace, lib *solib.Library, sec solib.Section) solib.Section {
	bias := st.lmAddrCheck(ps, lib, nil)
	sec.Addr = solib.TruncatePtr(sec.Addr+bias, ps.Target.Arch().PtrSize)
	return sec
}
