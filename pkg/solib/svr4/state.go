package svr4

import (
	"fmt"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
)

// Phase is the state of the shared library tracking of a program space.
type Phase uint8

const (
	// Uninitialized means the debug base has not been located yet.
	Uninitialized Phase = iota
	// Located means the debug base is known but no event mechanism is set up.
	Located
	// ProbesActive means the dynamic linker's probes are used to follow
	// changes to the link map.
	ProbesActive
	// BreakpointActive means a breakpoint on the dynamic linker's debug
	// hook is used to follow changes to the link map.
	BreakpointActive
	// Degraded means the probes interface failed and the breakpoint
	// interface replaced it.
	Degraded
	// Listening means at least one event was handled.
	Listening
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Located:
		return "located"
	case ProbesActive:
		return "probes-active"
	case BreakpointActive:
		return "breakpoint-active"
	case Degraded:
		return "degraded"
	case Listening:
		return "listening"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

type addrRange struct {
	start, end uint64
}

func (r addrRange) contains(pc uint64) bool {
	return pc >= r.start && pc < r.end
}

func sectionRange(sec solib.Section, bias uint64, ptrSize int) addrRange {
	start := solib.TruncatePtr(sec.Addr+bias, ptrSize)
	return addrRange{start, start + sec.Size}
}

// probeInfo is a probe of the dynamic linker with the action associated
// with it.
type probeInfo struct {
	probe  *sdt.Probe
	action solib.ProbeAction
	// objPath is the path of the object that defines the probe.
	objPath string
}

// debugState is the state kept for every program space.
type debugState struct {
	// debugBase is the address of r_debug, 0 if unknown.
	debugBase uint64
	// mainLMAddr is the link map node of the main executable.
	mainLMAddr uint64
	// usingXfer is true when the library list was obtained through
	// solib.LibraryListTransfer.
	usingXfer bool

	// probes maps the runtime address of every probe in use to the probes
	// defined there.
	probes       map[uint64][]*probeInfo
	probesFailed bool

	// cache is the library list maintained by the probes interface.
	cache []*solib.Library
	// lastGood is the last list read without errors by a direct walk.
	lastGood []*solib.Library

	// Fallback description of the dynamic linker, used when it can not be
	// found in the link map.
	loaderName   string
	loaderOffset uint64
	loaderValid  bool

	// eventBreakpoints are the breakpoints that trigger a full relist.
	eventBreakpoints map[uint64]bool
	// fallbackBreak is the address of the dynamic linker's debug hook,
	// used when the probes interface fails.
	fallbackBreak uint64

	interpText     addrRange
	interpPlt      addrRange
	resolverRanges []addrRange

	phase  Phase
	warned map[string]bool

	layout  *linkMapLayout
	aliases *aliasTable
}

type debugStateKey struct{}

// getInfo returns the state of ps, creating it if necessary.
func getInfo(ps *solib.ProgramSpace) *debugState {
	if st, ok := ps.Data(debugStateKey{}).(*debugState); ok {
		return st
	}
	st := &debugState{
		probes:           map[uint64][]*probeInfo{},
		eventBreakpoints: map[uint64]bool{},
		warned:           map[string]bool{},
		layout:           newLinkMapLayout(ps.Target.Arch().PtrSize, ps.Target.OS()),
		aliases:          newAliasTable(ps.Config.LoaderAliases),
	}
	ps.SetData(debugStateKey{}, st)
	return st
}

// warnOnce reports a problem to the user, only the first report for key is
// shown.
func (st *debugState) warnOnce(ps *solib.ProgramSpace, key string, format string, args ...interface{}) {
	if st.warned[key] {
		logflags.SolibLogger().Debugf(format, args...)
		return
	}
	st.warned[key] = true
	ps.Warnf(format, args...)
}

// setPhase changes the phase, logging the transition.
func (st *debugState) setPhase(p Phase) {
	if st.phase == p {
		return
	}
	logflags.SolibLogger().Debugf("phase %s -> %s", st.phase, p)
	st.phase = p
}

// clearProbes removes every probe breakpoint and forgets the probes.
func (st *debugState) clearProbes(ps *solib.ProgramSpace) {
	for addr := range st.probes {
		if err := ps.Target.ClearBreakpoint(addr); err != nil {
			logflags.ProbesLogger().Debugf("could not clear probe breakpoint at %#x: %v", addr, err)
		}
	}
	st.probes = map[uint64][]*probeInfo{}
	st.cache = nil
}

// clearEventBreakpoints removes the breakpoints of the breakpoint
// interface.
func (st *debugState) clearEventBreakpoints(ps *solib.ProgramSpace) {
	for addr := range st.eventBreakpoints {
		if err := ps.Target.ClearBreakpoint(addr); err != nil {
			logflags.SolibLogger().Debugf("could not clear event breakpoint at %#x: %v", addr, err)
		}
	}
	st.eventBreakpoints = map[uint64]bool{}
}

// reset forgets everything that depends on the current image of the
// target. The probes failed latch and the warnings already shown survive.
func (st *debugState) reset(ps *solib.ProgramSpace) {
	st.clearProbes(ps)
	st.clearEventBreakpoints(ps)
	st.debugBase = 0
	st.mainLMAddr = 0
	st.usingXfer = false
	st.lastGood = nil
	st.loaderName, st.loaderOffset, st.loaderValid = "", 0, false
	st.fallbackBreak = 0
	st.interpText, st.interpPlt = addrRange{}, addrRange{}
	st.resolverRanges = nil
	st.setPhase(Uninitialized)
}

// knownList returns the last library list read, without reading target
// memory.
func (st *debugState) knownList() []*solib.Library {
	if len(st.cache) > 0 {
		return st.cache
	}
	return st.lastGood
}

func copyList(libs []*solib.Library) []*solib.Library {
	if libs == nil {
		return nil
	}
	r := make([]*solib.Library, len(libs))
	for i := range libs {
		r[i] = libs[i].Copy()
	}
	return r
}
