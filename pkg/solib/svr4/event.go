package svr4

import (
	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

// handleProbeStop handles a stop at one of the probes of the dynamic
// linker. It returns true if the library list was read again.
func (st *debugState) handleProbeStop(ps *solib.ProgramSpace, infos []*probeInfo) bool {
	log := logflags.ProbesLogger()
	action := solib.Ignore
	for i, info := range infos {
		a := probeAction(ps, info)
		if i == 0 {
			action = a
		} else {
			action = solib.Combine(action, a)
		}
	}
	probe := infos[0].probe
	log.Debugf("stopped at probe %v, action %s", probe, action)

	switch action {
	case solib.InterfaceFailed:
		st.disableProbes(ps)
		return true
	case solib.Ignore:
		return false
	}

	// Only the initial namespace is supported.
	lmid, err := ps.Target.EvalProbeArgument(probe, 0)
	if err != nil || lmid != 0 {
		log.Debugf("probe %v: namespace %#x, err %v", probe, lmid, err)
		st.disableProbes(ps)
		return true
	}

	debugBase, err := ps.Target.EvalProbeArgument(probe, 1)
	if err != nil || debugBase == 0 {
		log.Debugf("probe %v: debug base %#x, err %v", probe, debugBase, err)
		st.disableProbes(ps)
		return true
	}
	// Always locate r_debug again, in case it moved.
	st.debugBase = 0
	if st.locateBase(ps) != debugBase {
		log.Debugf("probe %v: debug base %#x does not match %#x", probe, debugBase, st.debugBase)
		st.disableProbes(ps)
		return true
	}

	if action == solib.IncrementalUpdate {
		lm, err := ps.Target.EvalProbeArgument(probe, 2)
		if err != nil || lm == 0 {
			action = solib.FullReload
		} else if err := st.updateIncremental(ps, lm); err != nil {
			log.Debugf("incremental update failed, doing a full reload: %v", err)
			action = solib.FullReload
		}
	}
	if action == solib.FullReload {
		if err := st.updateFull(ps); err != nil {
			log.Debugf("full reload: %v", err)
		}
	}
	return true
}

// disableProbes abandons the probes interface for the rest of the session
// and replaces it with a breakpoint on the dynamic linker's debug hook.
func (st *debugState) disableProbes(ps *solib.ProgramSpace) {
	st.warnOnce(ps, "probes-failed", "Probes-based dynamic linker interface failed.\nReverting to original interface.")
	addrs := make([]uint64, 0, len(st.probes))
	for addr := range st.probes {
		addrs = append(addrs, addr)
	}
	st.clearProbes(ps)
	st.probesFailed = true
	if st.fallbackBreak != 0 {
		st.insertEventBreakpoint(ps, st.fallbackBreak)
	} else {
		// No debug hook is known, keep stopping where the probes were.
		for _, addr := range addrs {
			st.insertEventBreakpoint(ps, addr)
		}
	}
	st.setPhase(Degraded)
}

// onStop dispatches a stop of the target.
func (st *debugState) onStop(ps *solib.ProgramSpace, pc uint64) solib.StopEvent {
	if infos, ok := st.probes[pc]; ok && len(infos) > 0 {
		changed := st.handleProbeStop(ps, infos)
		if st.phase == ProbesActive {
			st.setPhase(Listening)
		}
		return solib.StopEvent{SolibEvent: true, Changed: changed}
	}
	if st.eventBreakpoints[pc] {
		if err := st.updateLastGood(ps); err != nil {
			logflags.SolibLogger().Debugf("reading library list at event breakpoint: %v", err)
		}
		if st.phase == BreakpointActive || st.phase == Degraded {
			st.setPhase(Listening)
		}
		return solib.StopEvent{SolibEvent: true, Changed: true}
	}
	return solib.StopEvent{}
}

// updateLastGood reads the library list directly, remembering it if it was
// read without errors.
func (st *debugState) updateLastGood(ps *solib.ProgramSpace) error {
	libs, err := st.currentListDirect(ps)
	if err == nil {
		st.lastGood = libs
	}
	return err
}
