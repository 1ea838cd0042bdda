// Package solib defines the contract between the debugger and the code
// that discovers the shared libraries loaded by a target and keeps them
// relocated as the target maps and unmaps them.
//
// The contract is implemented once per dynamic linker ABI family (see the
// svr4 subpackage for ELF systems) and selected when the debugger attaches
// to a target, based on the target's operating system.
package solib

import (
	"fmt"
	"sort"
	"sync"
)

// ProbeAction is what the engine does when the target stops at a dynamic
// linker probe.
type ProbeAction uint8

const (
	// Ignore means the probe only marks a phase, nothing changed.
	Ignore ProbeAction = iota
	// IncrementalUpdate means new libraries were appended to the link map,
	// starting at the node passed as the probe's third argument.
	IncrementalUpdate
	// FullReload means the list must be read again from the start.
	FullReload
	// InterfaceFailed means the probe can not be used.
	InterfaceFailed
)

func (a ProbeAction) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case IncrementalUpdate:
		return "incremental-update"
	case FullReload:
		return "full-reload"
	case InterfaceFailed:
		return "interface-failed"
	}
	return fmt.Sprintf("ProbeAction(%d)", uint8(a))
}

// ParseProbeAction is the inverse of ProbeAction.String.
func ParseProbeAction(s string) (ProbeAction, error) {
	for _, a := range []ProbeAction{Ignore, IncrementalUpdate, FullReload, InterfaceFailed} {
		if a.String() == s {
			return a, nil
		}
	}
	return Ignore, fmt.Errorf("unknown probe action %q", s)
}

var actionPrecedence = map[ProbeAction]int{
	InterfaceFailed:   3,
	Ignore:            2,
	FullReload:        1,
	IncrementalUpdate: 0,
}

// Combine returns the action that wins when two probes are hit at the same
// stop: InterfaceFailed beats Ignore, which beats FullReload, which beats
// IncrementalUpdate.
func Combine(a, b ProbeAction) ProbeAction {
	if actionPrecedence[b] > actionPrecedence[a] {
		return b
	}
	return a
}

// StopEvent describes what OnStop did with a stop.
type StopEvent struct {
	// SolibEvent is true if the target stopped at one of the breakpoints
	// owned by the shared library engine.
	SolibEvent bool
	// Changed is true if the library list was read again.
	Changed bool
}

// Ops is implemented by every dynamic linker ABI family.
// All methods are called with the target stopped.
type Ops interface {
	// Name returns the name of the ABI family.
	Name() string

	// CreateInferiorHook is called after attaching to a target, or after it
	// execs: it relocates the main executable and sets up the mechanism used
	// to be notified of library loads and unloads.
	CreateInferiorHook(ps *ProgramSpace) error
	// ClearSolib forgets everything learned about the target's libraries,
	// it is called on exec and restart.
	ClearSolib(ps *ProgramSpace)
	// Destroy releases the state associated with ps.
	Destroy(ps *ProgramSpace)

	// CurrentList returns the libraries currently loaded by the target.
	// Problems reading the list are reported as warnings, the result may
	// be partial or empty.
	CurrentList(ps *ProgramSpace) []*Library
	// Relocate returns sec, which belongs to lib, moved to its runtime
	// address.
	Relocate(ps *ProgramSpace, lib *Library, sec Section) Section
	// InDynamicResolutionCode returns true if pc is inside the code the
	// dynamic linker uses to resolve symbols lazily.
	InDynamicResolutionCode(ps *ProgramSpace, pc uint64) bool
	// OpenMainExecutable finds the main executable of the target using the
	// dynamic linker's data structures.
	OpenMainExecutable(ps *ProgramSpace) (*Executable, error)
	// Same returns true if a and b describe the same library.
	Same(a, b *Library) bool
	// OnStop must be called by the process controller every time the
	// target stops, with the pc of the thread that stopped, before any
	// other layer looks at the stop.
	OnStop(ps *ProgramSpace, pc uint64) (StopEvent, error)
	// ObjectUnloaded is called when the object file at path is removed from
	// the program space, for example after the target unmapped it.
	ObjectUnloaded(ps *ProgramSpace, path string)
}

var (
	registryMu sync.Mutex
	registry   = map[string]func() Ops{}
)

// Register makes an ABI family available for the given operating systems.
func Register(newOps func() Ops, goos ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, os := range goos {
		registry[os] = newOps
	}
}

// ForOS returns a new instance of the ABI family registered for goos.
func ForOS(goos string) (Ops, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	newOps, ok := registry[goos]
	if !ok {
		known := make([]string, 0, len(registry))
		for os := range registry {
			known = append(known, os)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("no shared library support for %s (supported: %v)", goos, known)
	}
	return newOps(), nil
}
