package solib

import (
	"fmt"

	"github.com/go-delve/solib/pkg/config"
	"github.com/go-delve/solib/pkg/logflags"
)

// ProgramSpace is the address space of one debuggee, it carries the state
// every Ops implementation keeps for it.
type ProgramSpace struct {
	ID     int
	Target Target
	Opener Opener
	Config *config.Config
	// Exec is the main executable, nil if it is not known yet.
	Exec *Executable
	// Warnf reports a problem to the user.
	Warnf func(format string, args ...interface{})

	data map[interface{}]interface{}
}

// NewProgramSpace creates a program space for target. If cfg is nil the
// default configuration is used.
func NewProgramSpace(id int, target Target, opener Opener, cfg *config.Config) *ProgramSpace {
	if cfg == nil {
		cfg = config.Default()
	}
	return &ProgramSpace{
		ID:     id,
		Target: target,
		Opener: opener,
		Config: cfg,
		Warnf:  logflags.WarningLogger().WithField("pid", target.Pid()).Warnf,
		data:   map[interface{}]interface{}{},
	}
}

// Data returns the value associated with key.
func (ps *ProgramSpace) Data(key interface{}) interface{} {
	return ps.data[key]
}

// SetData associates v with key.
func (ps *ProgramSpace) SetData(key, v interface{}) {
	ps.data[key] = v
}

// ClearData removes the value associated with key.
func (ps *ProgramSpace) ClearData(key interface{}) {
	delete(ps.data, key)
}

// SetExecutable opens path and makes it the main executable.
func (ps *ProgramSpace) SetExecutable(path string) error {
	obj, err := ps.Opener.Open(path)
	if err != nil {
		return fmt.Errorf("could not open executable %s: %w", path, err)
	}
	ps.Exec = &Executable{Path: path, Object: obj}
	return nil
}

// ResolvePath maps a name reported by the dynamic linker to a file.
func (ps *ProgramSpace) ResolvePath(name string) string {
	return ResolvePath(name, ps.Config.Sysroot, ps.Config.SearchPath)
}

// LoadLibrary opens the object file of lib and records its sections.
func (ps *ProgramSpace) LoadLibrary(lib *Library) error {
	if lib.Object != nil {
		return nil
	}
	obj, err := ps.Opener.Open(lib.Path)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", lib.Path, err)
	}
	lib.Object = obj
	lib.Sections = obj.Sections()
	return nil
}
