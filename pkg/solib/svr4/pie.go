package svr4

import (
	"bytes"
	"debug/elf"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/solib"
)

// execDisplacement computes the displacement of a position independent
// main executable. It returns false if the executable is not position
// independent or if the executable running in the target does not match
// the file opened by the debugger.
func execDisplacement(ps *solib.ProgramSpace) (uint64, bool) {
	if ps.Exec == nil || ps.Exec.Object == nil {
		return 0, false
	}
	obj := ps.Exec.Object
	if obj.Type() != elf.ET_DYN {
		return 0, false
	}
	entry, ok := ps.Target.AuxvValue(linutil.AT_ENTRY)
	if !ok {
		return 0, false
	}
	arch := ps.Target.Arch()
	displacement := arch.TruncatePtr(entry - obj.Entry())

	// p_align of PT_LOAD segments only specifies the congruency of
	// addresses, the kernel is free to load the executable with a lower
	// alignment.
	minPageSize := obj.MinPageSize()
	if minPageSize == 0 {
		minPageSize = arch.MinPageSize
	}
	if !solib.Aligned(displacement, minPageSize) {
		logflags.SolibLogger().Debugf("PIE displacement %#x is not page aligned", displacement)
		return 0, false
	}

	// Verify that the auxiliary vector describes the same file as the
	// executable by comparing their program headers. Only fail if they
	// really do not match.
	phdrsTarget, _, _, err := targetProgHeaders(ps)
	phdrsBinary := obj.RawProgs()
	if err == nil && phdrsTarget != nil && phdrsBinary != nil {
		if !progHeadersMatch(phdrsTarget, phdrsBinary, obj, arch) {
			logflags.SolibLogger().Debugf("program headers of %s do not match the target", ps.Exec.Path)
			return 0, false
		}
	}
	return displacement, true
}

// progHeadersMatch compares the program headers read from the target with
// the ones of the file, allowing for the changes prelink and strip are
// known to make.
func progHeadersMatch(phdrsTarget, phdrsBinary []byte, obj solib.ObjectFile, arch *solib.Arch) bool {
	ptrSize := obj.PtrSize()
	order := arch.ByteOrder
	sz := phdrSize(ptrSize)
	if len(phdrsTarget) != len(phdrsBinary) || ptrSize != arch.PtrSize {
		return false
	}
	if len(phdrsTarget) < sz || len(phdrsTarget)%sz != 0 {
		return false
	}
	lo := phdrLayoutFor(ptrSize)
	phdrsTarget = append([]byte(nil), phdrsTarget...)
	progs := decodeProgs(phdrsBinary, ptrSize, order)

	// Displacement of the segments, from the first PT_LOAD whose virtual
	// and physical addresses moved by the same amount.
	var displacement uint64
	for i := range progs {
		if progs[i].Type != elf.PT_LOAD {
			continue
		}
		p := phdrsTarget[i*sz : (i+1)*sz]
		displacement = solib.TruncatePtr(lo.vaddr.get(p, order)-progs[i].Vaddr, ptrSize)
		paddr := lo.paddr.get(p, order)
		if solib.TruncatePtr(paddr-progs[i].Paddr, ptrSize) != displacement {
			continue
		}
		break
	}

	plt, hasPlt := obj.Section(".plt")

	for i := 0; i < len(phdrsTarget)/sz; i++ {
		p := phdrsTarget[i*sz : (i+1)*sz]
		p2 := phdrsBinary[i*sz : (i+1)*sz]

		// PT_GNU_STACK is never relocated by prelink, its addresses are
		// always zero.
		if bytes.Equal(p, p2) {
			continue
		}

		lo.vaddr.put(p, order, lo.vaddr.get(p, order)-displacement)
		lo.paddr.put(p, order, lo.paddr.get(p, order)-displacement)
		if bytes.Equal(p, p2) {
			continue
		}

		// Strip modifies the flags and alignment of PT_GNU_RELRO and the
		// memsz of PT_TLS, some versions also modify filesz and memsz.
		if progs[i].Type == elf.PT_GNU_RELRO || progs[i].Type == elf.PT_TLS {
			tmp := append([]byte(nil), p...)
			tmp2 := append([]byte(nil), p2...)
			for _, f := range []phdrField{lo.filesz, lo.memsz, lo.flags, lo.align} {
				f.zero(tmp)
				f.zero(tmp2)
			}
			if bytes.Equal(tmp, tmp2) {
				continue
			}
		}

		// prelink can convert .plt SHT_NOBITS to SHT_PROGBITS. The section
		// comes from the file while filesz is from the in-memory image.
		if hasPlt {
			filesz := lo.filesz.get(p, order)
			if !plt.NoBits {
				filesz += plt.Size
			} else {
				filesz -= plt.Size
			}
			lo.filesz.put(p, order, filesz)
			if bytes.Equal(p, p2) {
				continue
			}
		}

		return false
	}
	return true
}

// relocateMainExecutable computes the displacement of the main executable.
// If it can not be computed the displacement from a previous run is kept.
func relocateMainExecutable(ps *solib.ProgramSpace) {
	displacement, ok := execDisplacement(ps)
	if !ok {
		return
	}
	if displacement != 0 {
		logflags.SolibLogger().Debugf("main executable %s displaced by %#x", ps.Exec.Path, displacement)
	}
	ps.Exec.SetDisplacement(displacement)
}
