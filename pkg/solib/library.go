package solib

import (
	"fmt"
	"os"
	"path/filepath"
)

// Library describes a shared library loaded by the target. It is never
// used for the main executable.
type Library struct {
	// OrigName is the name reported by the dynamic linker.
	OrigName string
	// Path is OrigName resolved to a file on the debugger's filesystem.
	Path string

	// LMAddr is the address of the library's link map node.
	LMAddr uint64
	// LAddr is the load address (l_addr) reported by the dynamic linker.
	LAddr uint64
	// LD is the address of the library's dynamic section in the target.
	LD uint64
	// LMID is the link map namespace, when known.
	LMID uint64

	// Sections are the sections of the library, at link-time addresses.
	Sections []Section
	// Object is the library's object file, once loaded.
	Object ObjectFile

	bias      uint64
	biasValid bool
}

func (lib *Library) String() string {
	return fmt.Sprintf("%s@%#x", lib.OrigName, lib.LAddr)
}

// Bias returns the load bias of lib, if it was computed.
func (lib *Library) Bias() (uint64, bool) {
	return lib.bias, lib.biasValid
}

// SetBias records the load bias of lib. Once set the bias does not change
// until ClearBias is called.
func (lib *Library) SetBias(bias uint64) {
	if lib.biasValid {
		return
	}
	lib.bias = bias
	lib.biasValid = true
}

// ClearBias forgets the load bias.
func (lib *Library) ClearBias() {
	lib.bias = 0
	lib.biasValid = false
}

// Copy returns a copy of lib that shares its object file.
func (lib *Library) Copy() *Library {
	r := *lib
	r.Sections = append([]Section(nil), lib.Sections...)
	return &r
}

// Executable is the main executable of a program space.
type Executable struct {
	Path   string
	Object ObjectFile

	// Displacement is the difference between the runtime and the link-time
	// addresses of a position independent executable.
	Displacement uint64
	Displaced    bool
}

// SetDisplacement records the displacement of a position independent
// executable, a displacement computed for a previous run is replaced.
func (e *Executable) SetDisplacement(d uint64) {
	e.Displacement = d
	e.Displaced = true
}

// ClearDisplacement forgets the displacement.
func (e *Executable) ClearDisplacement() {
	e.Displacement = 0
	e.Displaced = false
}

// Sections returns the sections of the executable moved to their runtime
// addresses.
func (e *Executable) Sections() []Section {
	if e.Object == nil {
		return nil
	}
	secs := e.Object.Sections()
	r := make([]Section, len(secs))
	for i := range secs {
		r[i] = secs[i]
		r[i].Addr = TruncatePtr(secs[i].Addr+e.Displacement, e.Object.PtrSize())
	}
	return r
}

// Section returns the named section at its runtime address.
func (e *Executable) Section(name string) (Section, bool) {
	if e.Object == nil {
		return Section{}, false
	}
	sec, ok := e.Object.Section(name)
	if !ok {
		return sec, false
	}
	sec.Addr = TruncatePtr(sec.Addr+e.Displacement, e.Object.PtrSize())
	return sec, true
}

// ResolvePath maps a library name reported by the dynamic linker to a file
// on the debugger's filesystem: the sysroot is prepended to absolute
// names, then the search path is tried with the base name. If no file is
// found the (sysroot prefixed) name is returned unchanged.
func ResolvePath(name, sysroot string, searchPath []string) string {
	if name == "" {
		return ""
	}
	candidate := name
	if sysroot != "" && filepath.IsAbs(name) {
		candidate = filepath.Join(sysroot, name)
	}
	if exists(candidate) || len(searchPath) == 0 {
		return candidate
	}
	base := filepath.Base(name)
	for _, dir := range searchPath {
		p := filepath.Join(dir, base)
		if exists(p) {
			return p
		}
	}
	return candidate
}

func exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
