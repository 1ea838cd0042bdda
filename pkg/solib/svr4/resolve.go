package svr4

import (
	"bytes"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

var pltSectionNames = []string{".plt", ".plt.sec", ".plt.got"}

// inDynamicResolutionCode returns true if pc is inside the dynamic linker's
// code, a PLT section or a PLT stub.
func (st *debugState) inDynamicResolutionCode(ps *solib.ProgramSpace, pc uint64) bool {
	if st.interpText.contains(pc) || st.interpPlt.contains(pc) {
		return true
	}
	for _, r := range st.resolverRanges {
		if r.contains(pc) {
			return true
		}
	}
	if st.inPltSection(ps, pc) {
		return true
	}
	return isPltStub(ps, pc)
}

// inPltSection returns true if pc is in a PLT section of the main
// executable or of a known library.
func (st *debugState) inPltSection(ps *solib.ProgramSpace, pc uint64) bool {
	if ps.Exec != nil {
		for _, name := range pltSectionNames {
			if sec, ok := ps.Exec.Section(name); ok && sec.Contains(pc) {
				return true
			}
		}
	}
	for _, lib := range st.knownList() {
		if err := ps.LoadLibrary(lib); err != nil {
			continue
		}
		for _, name := range pltSectionNames {
			sec, ok := lib.Object.Section(name)
			if ok && st.relocate(ps, lib, sec).Contains(pc) {
				return true
			}
		}
	}
	return false
}

// maxStubInsts is the number of instructions examined when looking for the
// indirect branch of an arm64 PLT stub.
const maxStubInsts = 4

var endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}

// isPltStub decodes the instructions at pc and returns true if they look
// like a PLT stub: an indirect jump through the GOT.
func isPltStub(ps *solib.ProgramSpace, pc uint64) bool {
	arch := ps.Target.Arch()
	buf := make([]byte, 4*maxStubInsts)
	if _, err := ps.Target.Memory().ReadMemory(buf, pc); err != nil {
		logflags.SolibLogger().Debugf("could not read instructions at %#x: %v", pc, err)
		return false
	}
	switch arch.Name {
	case "amd64":
		return isAMD64PltStub(buf)
	case "arm64":
		return isARM64PltStub(buf)
	}
	return false
}

// isAMD64PltStub matches "jmp *disp(%rip)", optionally preceded by endbr64.
func isAMD64PltStub(buf []byte) bool {
	if bytes.HasPrefix(buf, endbr64) {
		buf = buf[len(endbr64):]
	}
	inst, err := x86asm.Decode(buf, 64)
	if err != nil || inst.Op != x86asm.JMP {
		return false
	}
	mem, ok := inst.Args[0].(x86asm.Mem)
	return ok && mem.Base == x86asm.RIP
}

// isARM64PltStub matches the "br x17" ending every PLT stub.
func isARM64PltStub(buf []byte) bool {
	for i := 0; i+4 <= len(buf); i += 4 {
		inst, err := arm64asm.Decode(buf[i:])
		if err != nil {
			return false
		}
		if inst.Op == arm64asm.BR {
			reg, ok := inst.Args[0].(arm64asm.Reg)
			return ok && reg == arm64asm.X17
		}
	}
	return false
}
