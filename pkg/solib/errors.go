package solib

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDynamic means the target has no dynamic linker data structures,
	// it will never load shared libraries.
	ErrNotDynamic = errors.New("not dynamically linked")
	// ErrCorruptLinkMap is returned when the link map is not a proper
	// doubly linked list.
	ErrCorruptLinkMap = errors.New("corrupted shared library list")
	// ErrProbeInterfaceBroken is returned when the probes based interface
	// can not be used.
	ErrProbeInterfaceBroken = errors.New("probes-based dynamic linker interface failed")
	// ErrTooManyLibraries is returned when the link map is longer than the
	// configured maximum, which usually means it is corrupted.
	ErrTooManyLibraries = errors.New("number of loaded libraries exceeds maximum")
)

// PartialReadError is returned when reading target memory failed part way
// through an operation, results accumulated before the failure are still
// returned.
type PartialReadError struct {
	Addr uint64
	Err  error
}

func (err *PartialReadError) Error() string {
	return fmt.Sprintf("could not read target memory at %#x: %v", err.Addr, err.Err)
}

func (err *PartialReadError) Unwrap() error {
	return err.Err
}

// RelocationMismatchError is returned when the dynamic section of a
// library is not where its load bias says it should be.
type RelocationMismatchError struct {
	Name     string
	Expected uint64
	Actual   uint64
}

func (err *RelocationMismatchError) Error() string {
	return fmt.Sprintf(".dynamic section for %q is not at the expected address %#x (found at %#x), wrong library or version mismatch?", err.Name, err.Expected, err.Actual)
}
