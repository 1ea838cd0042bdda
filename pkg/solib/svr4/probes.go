package svr4

import (
	"errors"
	"fmt"

	"github.com/go-delve/solib/pkg/config"
	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
)

var errProbeMissing = errors.New("probe not found")

// selectProbes finds the probes of proto in obj. Naming conventions are
// tried in order, each one as a whole: the first convention under which
// every required probe exists is used. Every probe found must have
// arguments that can be evaluated on goarch.
func selectProbes(proto *config.ProbeProtocol, obj solib.ObjectFile, goarch string) ([]*probeInfo, error) {
	byName := map[string][]*sdt.Probe{}
	for _, p := range obj.Probes() {
		if p.Provider == proto.Provider {
			byName[p.Name] = append(byName[p.Name], p)
		}
	}
	if len(byName) == 0 {
		return nil, fmt.Errorf("%w: no %s probes in %s", errProbeMissing, proto.Provider, obj.Path())
	}

	var err error
	for _, conv := range proto.Conventions {
		var infos []*probeInfo
		infos, err = selectConvention(proto, conv, byName, obj.Path(), goarch)
		if err == nil {
			return infos, nil
		}
		if !errors.Is(err, errProbeMissing) {
			return nil, err
		}
	}
	return nil, err
}

func selectConvention(proto *config.ProbeProtocol, conv config.NamingConvention, byName map[string][]*sdt.Probe, objPath, goarch string) ([]*probeInfo, error) {
	optional := map[string]bool{}
	for _, name := range conv.Optional {
		optional[name] = true
	}
	var infos []*probeInfo
	for _, pt := range proto.Points {
		action, err := solib.ParseProbeAction(pt.Action)
		if err != nil {
			return nil, err
		}
		probes := byName[conv.Prefix+pt.Name]
		if len(probes) == 0 {
			if optional[pt.Name] {
				continue
			}
			return nil, fmt.Errorf("%w: %s:%s%s", errProbeMissing, proto.Provider, conv.Prefix, pt.Name)
		}
		for _, p := range probes {
			if _, err := p.ParseArgs(goarch); err != nil {
				return nil, fmt.Errorf("can not evaluate arguments of probe %v: %w", p, err)
			}
			infos = append(infos, &probeInfo{probe: p, action: action, objPath: objPath})
		}
	}
	return infos, nil
}

// createProbeBreakpoints sets up the probes interface using the probes of
// the dynamic linker obj, loaded with the given bias. It returns false if
// the probes interface can not be used, in which case it will not be tried
// again for this program space.
func (st *debugState) createProbeBreakpoints(ps *solib.ProgramSpace, obj solib.ObjectFile, bias uint64) bool {
	log := logflags.ProbesLogger()
	if st.probesFailed || ps.Config.DisableProbes || obj == nil {
		return false
	}
	arch := ps.Target.Arch()
	infos, err := selectProbes(&ps.Config.Probes, obj, arch.Name)
	if err != nil {
		log.Debugf("probes interface not available: %v", err)
		st.probesFailed = true
		return false
	}

	probes := map[uint64][]*probeInfo{}
	for _, info := range infos {
		addr := arch.TruncatePtr(bias + info.probe.PC)
		probes[addr] = append(probes[addr], info)
	}
	for addr := range probes {
		if err := ps.Target.SetBreakpoint(addr); err != nil {
			log.Debugf("could not set probe breakpoint at %#x: %v", addr, err)
			st.probes = probes
			st.clearProbes(ps)
			st.probesFailed = true
			return false
		}
	}
	st.probes = probes
	log.Debugf("using %d probes of %s", len(infos), obj.Path())
	return true
}

// probeAction returns the action of a probe stop, adjusted to the number of
// arguments the probe has.
func probeAction(ps *solib.ProgramSpace, info *probeInfo) solib.ProbeAction {
	action := info.action
	if action == solib.Ignore || action == solib.InterfaceFailed {
		return action
	}
	args, err := info.probe.ParseArgs(ps.Target.Arch().Name)
	if err != nil {
		return solib.InterfaceFailed
	}
	switch {
	case len(args) < ps.Config.Probes.MinArgs:
		return solib.InterfaceFailed
	case len(args) == ps.Config.Probes.MinArgs:
		// Without the link map argument only a full reload is possible.
		return solib.FullReload
	}
	return action
}

// dropProbesOf forgets the probes defined by the object at path.
func (st *debugState) dropProbesOf(ps *solib.ProgramSpace, path string) bool {
	dropped := false
	for addr, infos := range st.probes {
		kept := infos[:0]
		for _, info := range infos {
			if info.objPath != path {
				kept = append(kept, info)
			}
		}
		if len(kept) == 0 {
			if err := ps.Target.ClearBreakpoint(addr); err != nil {
				logflags.ProbesLogger().Debugf("could not clear probe breakpoint at %#x: %v", addr, err)
			}
			delete(st.probes, addr)
		} else {
			st.probes[addr] = kept
		}
		if len(kept) != len(infos) {
			dropped = true
		}
	}
	if dropped {
		st.cache = nil
	}
	return dropped
}
