// Package svr4 implements shared library tracking for systems using the
// SVR4 dynamic linker interface: the r_debug structure and its link map,
// reached through DT_DEBUG, and the probes or the debug hook breakpoint
// the dynamic linker offers to be notified of changes.
package svr4

import (
	"errors"
	"fmt"

	"github.com/go-delve/solib/pkg/config"
	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

func init() {
	solib.Register(New, "linux", "freebsd", "netbsd", "openbsd", "solaris", "illumos")
}

// Ops is the solib.Ops implementation for SVR4 systems.
type Ops struct {
	aliases *aliasTable
}

// New returns a new instance of the SVR4 implementation, using the
// default loader aliases to compare libraries.
func New() solib.Ops {
	return NewWithAliases(config.Default().LoaderAliases)
}

// NewWithAliases returns a new instance of the SVR4 implementation that
// considers the given paths equivalent.
func NewWithAliases(aliases []config.PathAlias) *Ops {
	return &Ops{aliases: newAliasTable(aliases)}
}

func (ops *Ops) Name() string {
	return "svr4"
}

// CreateInferiorHook relocates the main executable and sets up the
// breakpoints used to follow changes to the link map.
func (ops *Ops) CreateInferiorHook(ps *solib.ProgramSpace) error {
	st := getInfo(ps)
	st.clearProbes(ps)

	relocateMainExecutable(ps)

	// No point setting a breakpoint in the dynamic linker if it can not
	// be hit.
	if !ps.Target.HasExecution() {
		return nil
	}
	if !st.enableBreak(ps) {
		logflags.SolibLogger().Debugf("shared library events will not be reported")
	}
	return nil
}

// ClearSolib forgets all state derived from the current image of the
// target.
func (ops *Ops) ClearSolib(ps *solib.ProgramSpace) {
	getInfo(ps).reset(ps)
}

// Destroy releases all the state kept for ps.
func (ops *Ops) Destroy(ps *solib.ProgramSpace) {
	if st, ok := ps.Data(debugStateKey{}).(*debugState); ok {
		st.reset(ps)
	}
	ps.ClearData(debugStateKey{})
}

// CurrentList returns the libraries loaded by the target. When the probes
// interface maintains a list it is returned without reading target memory.
func (ops *Ops) CurrentList(ps *solib.ProgramSpace) []*solib.Library {
	st := getInfo(ps)
	var libs []*solib.Library
	if len(st.probes) > 0 && len(st.cache) > 0 {
		libs = st.cache
	} else {
		var err error
		libs, err = st.currentListDirect(ps)
		switch {
		case err == nil:
			st.lastGood = libs
		case errors.Is(err, solib.ErrNotDynamic):
			libs = nil
		default:
			st.warnOnce(ps, "list:"+errorKind(err), "error reading shared library list: %v", err)
			if st.lastGood != nil {
				libs = st.lastGood
			}
		}
	}

	r := make([]*solib.Library, 0, len(libs))
	for _, lib := range libs {
		// Skip libraries mapped by the kernel, like the vDSO, they do not
		// correspond to files.
		if lib.LD != 0 && ps.Target.IsReservedRange(lib.LD) {
			continue
		}
		r = append(r, lib.Copy())
	}
	return r
}

func errorKind(err error) string {
	var partial *solib.PartialReadError
	switch {
	case errors.As(err, &partial):
		return "partial-read"
	case errors.Is(err, solib.ErrCorruptLinkMap):
		return "corrupt"
	case errors.Is(err, solib.ErrTooManyLibraries):
		return "too-many"
	}
	return "other"
}

// Relocate returns sec moved to its runtime address.
func (ops *Ops) Relocate(ps *solib.ProgramSpace, lib *solib.Library, sec solib.Section) solib.Section {
	return getInfo(ps).relocate(ps, lib, sec)
}

// InDynamicResolutionCode returns true if pc is in the code used by the
// dynamic linker to resolve symbols lazily.
func (ops *Ops) InDynamicResolutionCode(ps *solib.ProgramSpace, pc uint64) bool {
	return getInfo(ps).inDynamicResolutionCode(ps, pc)
}

// OpenMainExecutable returns the main executable of ps. If it is not known
// yet its path is read from the first entry of the link map.
func (ops *Ops) OpenMainExecutable(ps *solib.ProgramSpace) (*solib.Executable, error) {
	if ps.Exec != nil {
		return ps.Exec, nil
	}
	st := getInfo(ps)
	// Always locate r_debug, in case it moved.
	st.debugBase = 0
	if st.locateBase(ps) == 0 {
		return nil, solib.ErrNotDynamic
	}
	lm, err := st.rMap(ps)
	if err != nil {
		return nil, err
	}
	if lm == 0 {
		return nil, errors.New("link map is empty")
	}
	node, err := readNode(ps, st.layout, lm)
	if err != nil {
		return nil, err
	}
	if node.lName == 0 {
		return nil, errors.New("main executable has no name in the link map")
	}
	name, err := readCString(ps.Target.Memory(), node.lName, ps.Config.MaxNameLength, ps.Target.Arch().MinPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read exec filename: %w", err)
	}
	if name == "" {
		return nil, errors.New("main executable has no name in the link map")
	}
	st.mainLMAddr = lm
	if err := ps.SetExecutable(ps.ResolvePath(name)); err != nil {
		return nil, err
	}
	relocateMainExecutable(ps)
	return ps.Exec, nil
}

// Same returns true if a and b describe the same library.
func (ops *Ops) Same(a, b *solib.Library) bool {
	return ops.aliases.same(a, b)
}

// OnStop handles a stop at one of the breakpoints set by the engine. The
// list of libraries is read again if it changed.
func (ops *Ops) OnStop(ps *solib.ProgramSpace, pc uint64) (solib.StopEvent, error) {
	return getInfo(ps).onStop(ps, pc), nil
}

// ObjectUnloaded forgets the probes defined by the object at path.
func (ops *Ops) ObjectUnloaded(ps *solib.ProgramSpace, path string) {
	st := getInfo(ps)
	if st.dropProbesOf(ps, path) {
		logflags.ProbesLogger().Debugf("probes of %s dropped", path)
	}
}

// CurrentPhase returns the tracking phase of ps.
func CurrentPhase(ps *solib.ProgramSpace) Phase {
	return getInfo(ps).phase
}
