package native

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

var breakpointInstr = []byte{0xCC}

func regsPC(regs *sys.PtraceRegs) uint64 { return regs.Rip }

// ptraceRegisters maps register names to a ptrace register set.
type ptraceRegisters struct {
	regs *sys.PtraceRegs
}

func (r ptraceRegisters) Reg(name string) (uint64, error) {
	regs := r.regs
	switch name {
	case "rax":
		return regs.Rax, nil
	case "rbx":
		return regs.Rbx, nil
	case "rcx":
		return regs.Rcx, nil
	case "rdx":
		return regs.Rdx, nil
	case "rsi":
		return regs.Rsi, nil
	case "rdi":
		return regs.Rdi, nil
	case "rbp":
		return regs.Rbp, nil
	case "rsp":
		return regs.Rsp, nil
	case "rip":
		return regs.Rip, nil
	case "r8":
		return regs.R8, nil
	case "r9":
		return regs.R9, nil
	case "r10":
		return regs.R10, nil
	case "r11":
		return regs.R11, nil
	case "r12":
		return regs.R12, nil
	case "r13":
		return regs.R13, nil
	case "r14":
		return regs.R14, nil
	case "r15":
		return regs.R15, nil
	}
	return 0, fmt.Errorf("unknown register %s", name)
}
