package native

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// processMemory reads and writes the memory of a process.
type processMemory struct {
	pid int
}

// ReadMemory calls process_vm_readv.
func (m *processMemory) ReadMemory(data []byte, addr uint64) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	n, err := sys.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		return n, err
	}
	if n < len(data) {
		return n, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, len(data))
	}
	return n, nil
}

// WriteMemory calls process_vm_writev.
func (m *processMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	n, err := sys.ProcessVMWritev(m.pid, local, remote, 0)
	if err != nil {
		return n, err
	}
	if n < len(data) {
		return n, fmt.Errorf("short write at %#x: %d of %d bytes", addr, n, len(data))
	}
	return n, nil
}
