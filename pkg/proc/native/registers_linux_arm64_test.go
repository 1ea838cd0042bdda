package native

import (
	"fmt"
	"strconv"
	"strings"

	sys "golang.org/x/sys/unix"
)

// brk #0
var breakpointInstr = []byte{0x00, 0x00, 0x20, 0xd4}

func regsPC(regs *sys.PtraceRegs) uint64 { return regs.Pc }

type ptraceRegisters struct {
	regs *sys.PtraceRegs
}

func (r ptraceRegisters) Reg(name string) (uint64, error) {
	switch name {
	case "sp":
		return r.regs.Sp, nil
	case "fp":
		return r.regs.Regs[29], nil
	case "lr":
		return r.regs.Regs[30], nil
	}
	if strings.HasPrefix(name, "x") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 && n < len(r.regs.Regs) {
			return r.regs.Regs[n], nil
		}
	}
	return 0, fmt.Errorf("unknown register %s", name)
}
