//go:build linux && !amd64 && !arm64
// +build linux,!amd64,!arm64

package native

import (
	"errors"

	sys "golang.org/x/sys/unix"
)

var breakpointInstr []byte

func regsPC(regs *sys.PtraceRegs) uint64 { return 0 }

type ptraceRegisters struct {
	regs *sys.PtraceRegs
}

func (r ptraceRegisters) Reg(name string) (uint64, error) {
	return 0, errors.New("register access not implemented on this architecture")
}
