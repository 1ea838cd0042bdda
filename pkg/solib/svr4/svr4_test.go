package svr4

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-delve/solib/pkg/config"
	"github.com/go-delve/solib/pkg/solib"
	"github.com/go-delve/solib/pkg/solib/solibtest"
)

func threeLibs() []solibtest.Entry {
	return []solibtest.Entry{
		libEntry("/lib/libpthread.so.0", 0x7f1000000000),
		libEntry("/lib/libm.so.6", 0x7f1000200000),
		libEntry("/lib/libc.so.6", 0x7f1000400000),
	}
}

func TestWalkLinkOrder(t *testing.T) {
	for n := 0; n < 6; n++ {
		var libs []solibtest.Entry
		for i := 0; i < n; i++ {
			libs = append(libs, libEntry(fmt.Sprintf("/lib/lib%d.so", i), 0x7f1000000000+uint64(i)*0x100000))
		}
		f := newFixture(t, libs...)
		st := f.state()
		got, err := st.walk(f.ps, f.proc.Nodes[0], 0, true)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(got) != len(f.proc.Nodes)-1 {
			t.Fatalf("n=%d: got %d libraries for a chain of %d nodes", n, len(got), len(f.proc.Nodes))
		}
		for i, lib := range got {
			if lib.LMAddr != f.proc.Nodes[i+1] {
				t.Errorf("n=%d: library %d at node %#x, expected %#x", n, i, lib.LMAddr, f.proc.Nodes[i+1])
			}
		}
		if st.mainLMAddr != f.proc.Nodes[0] {
			t.Errorf("n=%d: main link map %#x, expected %#x", n, st.mainLMAddr, f.proc.Nodes[0])
		}
	}
}

func TestCurrentListStable(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	f.hook()
	a, b := f.list(), f.list()
	if len(a) != len(b) || len(a) != 4 {
		t.Fatalf("lists differ in length: %v %v", names(a), names(b))
	}
	for i := range a {
		if a[i].OrigName != b[i].OrigName || a[i].LMAddr != b[i].LMAddr || a[i].LAddr != b[i].LAddr || a[i].LD != b[i].LD {
			t.Errorf("entry %d differs: %v %v", i, a[i], b[i])
		}
	}
}

func TestRelocateRoundTrip(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	for _, lib := range f.list() {
		if err := f.ps.LoadLibrary(lib); err != nil {
			t.Fatal(err)
		}
		for _, sec := range lib.Object.Sections() {
			rel := f.ops.Relocate(f.ps, lib, sec)
			bias, ok := lib.Bias()
			if !ok {
				t.Fatalf("%s: bias not cached", lib)
			}
			if rel.Addr-bias != sec.Addr {
				t.Errorf("%s %s: %#x - %#x != %#x", lib, sec.Name, rel.Addr, bias, sec.Addr)
			}
			if rel.Size != sec.Size {
				t.Errorf("%s %s: size changed", lib, sec.Name)
			}
		}
	}
}

func TestCorruptLinkMap(t *testing.T) {
	t.Run("non-adjacent prev", func(t *testing.T) {
		f := newFixture(t, threeLibs()...)
		// main, libpthread, libm, libc, ld.so
		f.proc.SetPrev(f.proc.Nodes[3], f.proc.Nodes[1])
		libs, err := f.state().walk(f.ps, f.proc.Nodes[0], 0, true)
		if !errors.Is(err, solib.ErrCorruptLinkMap) {
			t.Fatalf("expected corrupt link map error, got %v", err)
		}
		checkNames(t, libs, "/lib/libpthread.so.0", "/lib/libm.so.6")
	})

	t.Run("cycle", func(t *testing.T) {
		f := newFixture(t, threeLibs()...)
		f.proc.SetNext(f.proc.Nodes[4], f.proc.Nodes[1])
		libs, err := f.state().walk(f.ps, f.proc.Nodes[0], 0, true)
		if !errors.Is(err, solib.ErrCorruptLinkMap) {
			t.Fatalf("expected corrupt link map error, got %v", err)
		}
		if len(libs) != 4 {
			t.Fatalf("expected the 4 libraries read before the cycle, got %v", names(libs))
		}
	})

	t.Run("previous list kept", func(t *testing.T) {
		f := newFixture(t, threeLibs()...)
		good := f.list()
		f.proc.SetPrev(f.proc.Nodes[3], f.proc.Nodes[1])
		for i := 0; i < 3; i++ {
			checkNames(t, f.list(), names(good)...)
		}
		if n := f.countWarnings("Corrupted shared library list"); n != 1 {
			t.Errorf("corruption reported %d times", n)
		}
	})
}

func TestProbesMissingNameUsesBreakpoint(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	f.enableProbes("", "reloc_complete")
	f.hook()
	st := f.state()
	if CurrentPhase(f.ps) != BreakpointActive {
		t.Fatalf("phase %v", CurrentPhase(f.ps))
	}
	if len(st.probes) != 0 {
		t.Fatalf("probes registered: %d", len(st.probes))
	}
	if !st.probesFailed {
		t.Fatal("probes failure not latched")
	}
	if len(f.proc.Breakpoints) != 1 || !f.proc.Breakpoints[loaderBias+debugHook] {
		t.Fatalf("unexpected breakpoints %v", f.proc.Breakpoints)
	}
}

func TestStaticallyLinked(t *testing.T) {
	objs := solibtest.Objects{}
	exec := solibtest.NewObject(execPath, solib.AMD64Arch)
	exec.AddSection(".text", 0x401000, 0x1000)
	objs.Add(exec)
	tgt := solibtest.NewTarget(solib.AMD64Arch)
	ps := solib.NewProgramSpace(1, tgt, objs, nil)
	var warnings []string
	ps.Warnf = func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	if err := ps.SetExecutable(execPath); err != nil {
		t.Fatal(err)
	}
	ops := New()
	if err := ops.CreateInferiorHook(ps); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if libs := ops.CurrentList(ps); len(libs) != 0 {
			t.Fatalf("libraries found in a static program: %v", names(libs))
		}
	}
	n := 0
	for _, w := range warnings {
		if strings.HasPrefix(w, solib.ErrNotDynamic.Error()) {
			n++
		}
	}
	if n != 1 {
		t.Errorf("not dynamic reported %d times: %v", n, warnings)
	}
	if len(tgt.Breakpoints) != 0 {
		t.Errorf("breakpoints set in a static program: %v", tgt.Breakpoints)
	}
}

func TestThreeLibraries(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	f.hook()
	if base := f.state().debugBase; base != rdebugAddr {
		t.Fatalf("r_debug at %#x, expected %#x", base, rdebugAddr)
	}
	libs := f.list()
	checkNames(t, libs, "/lib/libpthread.so.0", "/lib/libm.so.6", "/lib/libc.so.6", loaderPath)
	for i, want := range threeLibs() {
		text, _ := f.objs[want.Name].Section(".text")
		rel := f.ops.Relocate(f.ps, libs[i], text)
		if bias, _ := libs[i].Bias(); bias != want.LAddr {
			t.Errorf("%s: bias %#x, expected %#x", want.Name, bias, want.LAddr)
		}
		if rel.Addr != want.LAddr+text.Addr {
			t.Errorf("%s: .text at %#x", want.Name, rel.Addr)
		}
	}
	if len(f.warnings) != 0 {
		t.Errorf("unexpected warnings: %v", f.warnings)
	}
}

func TestIncrementalUpdate(t *testing.T) {
	f := newFixture(t, threeLibs()[:2]...)
	f.enableProbes("")
	f.hook()
	if CurrentPhase(f.ps) != ProbesActive {
		t.Fatalf("phase %v", CurrentPhase(f.ps))
	}
	st := f.state()

	ev, err := f.ops.OnStop(f.ps, probeAddr("init_complete"))
	if err != nil || !ev.SolibEvent || !ev.Changed {
		t.Fatalf("init_complete: %v %v", ev, err)
	}
	checkNames(t, st.cache, "/lib/libpthread.so.0", "/lib/libm.so.6", loaderPath)

	// The cached list is returned without reading target memory.
	reads := f.proc.Mem.Reads
	checkNames(t, f.list(), "/lib/libpthread.so.0", "/lib/libm.so.6", loaderPath)
	if f.proc.Mem.Reads != reads {
		t.Errorf("target memory read while probes cache is valid")
	}

	newLibObject(f.objs, "/lib/libc.so.6")
	added := f.proc.Append(libEntry("/lib/libc.so.6", 0x7f1000400000))
	f.proc.ProbeArgs["reloc_complete"][2].Val = added[0]
	if _, err := f.ops.OnStop(f.ps, probeAddr("reloc_complete")); err != nil {
		t.Fatal(err)
	}
	checkNames(t, st.cache, "/lib/libpthread.so.0", "/lib/libm.so.6", loaderPath, "/lib/libc.so.6")

	t.Run("prev mismatch", func(t *testing.T) {
		// A node that claims to follow libpthread, not the tail of the
		// cache: the update falls back to a full reload.
		newLibObject(f.objs, "/lib/libz.so.1")
		stray := f.proc.BuildLinkMap(f.proc.Nodes[1], []solibtest.Entry{libEntry("/lib/libz.so.1", 0x7f1000600000)})
		f.proc.ProbeArgs["reloc_complete"][2].Val = stray[0]
		ev, err := f.ops.OnStop(f.ps, probeAddr("reloc_complete"))
		if err != nil || !ev.Changed {
			t.Fatalf("reloc_complete: %v %v", ev, err)
		}
		checkNames(t, st.cache, "/lib/libpthread.so.0", "/lib/libm.so.6", loaderPath, "/lib/libc.so.6")
		direct, err := st.currentListDirect(f.ps)
		if err != nil {
			t.Fatal(err)
		}
		checkNames(t, st.cache, names(direct)...)
		if CurrentPhase(f.ps) != Listening {
			t.Errorf("phase %v", CurrentPhase(f.ps))
		}
	})

	t.Run("no node", func(t *testing.T) {
		f.proc.ProbeArgs["reloc_complete"][2].Err = errors.New("optimized out")
		if _, err := f.ops.OnStop(f.ps, probeAddr("reloc_complete")); err != nil {
			t.Fatal(err)
		}
		checkNames(t, st.cache, "/lib/libpthread.so.0", "/lib/libm.so.6", loaderPath, "/lib/libc.so.6")
		if len(st.probes) == 0 {
			t.Fatal("probes disabled by a missing link map argument")
		}
	})
}

func TestIgnoreProbe(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	f.enableProbes("")
	f.hook()
	evals := f.proc.ProbeArgEvals
	ev, err := f.ops.OnStop(f.ps, probeAddr("map_start"))
	if err != nil || !ev.SolibEvent || ev.Changed {
		t.Fatalf("map_start: %v %v", ev, err)
	}
	if f.proc.ProbeArgEvals != evals {
		t.Errorf("arguments of an ignored probe evaluated")
	}
}

func TestProbeStopDisablesProbes(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"namespace", func(f *fixture) { f.proc.ProbeArgs["init_complete"][0].Val = 1 }},
		{"namespace error", func(f *fixture) { f.proc.ProbeArgs["init_complete"][0].Err = errors.New("no register") }},
		{"debug base error", func(f *fixture) { f.proc.ProbeArgs["init_complete"][1].Err = errors.New("no register") }},
		{"null debug base", func(f *fixture) { f.proc.ProbeArgs["init_complete"][1].Val = 0 }},
		{"debug base mismatch", func(f *fixture) { f.proc.ProbeArgs["init_complete"][1].Val = rdebugAddr + 0x100 }},
		{"too few arguments", func(f *fixture) {
			for _, p := range f.loader.SDTProbes {
				if p.Name == "init_complete" {
					p.Args = "-4@%edi"
				}
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, threeLibs()...)
			f.enableProbes("")
			f.hook()
			tc.setup(f)
			ev, err := f.ops.OnStop(f.ps, probeAddr("init_complete"))
			if err != nil || !ev.SolibEvent {
				t.Fatalf("init_complete: %v %v", ev, err)
			}
			st := f.state()
			if CurrentPhase(f.ps) != Degraded {
				t.Errorf("phase %v", CurrentPhase(f.ps))
			}
			if len(st.probes) != 0 || st.cache != nil || !st.probesFailed {
				t.Errorf("probes state not cleared: %d probes, cache %v", len(st.probes), st.cache)
			}
			if len(f.proc.Breakpoints) != 1 || !f.proc.Breakpoints[loaderBias+debugHook] {
				t.Errorf("unexpected breakpoints %v", f.proc.Breakpoints)
			}
			st.disableProbes(f.ps)
			if n := f.countWarnings("Probes-based dynamic linker interface failed"); n != 1 {
				t.Errorf("failure reported %d times", n)
			}

			// The debug hook now triggers full reloads.
			ev, _ = f.ops.OnStop(f.ps, loaderBias+debugHook)
			if !ev.SolibEvent || !ev.Changed || CurrentPhase(f.ps) != Listening {
				t.Errorf("stop at debug hook: %v, phase %v", ev, CurrentPhase(f.ps))
			}
		})
	}
}

func TestProbesFailedSurvivesExec(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	f.enableProbes("")
	f.hook()
	f.proc.ProbeArgs["init_complete"][0].Val = 2
	f.ops.OnStop(f.ps, probeAddr("init_complete"))

	m := solib.NewManager(f.ops)
	f.ps.ID = 2
	if err := m.Attach(f.ps); err != nil {
		t.Fatal(err)
	}
	if err := m.Exec(2, ""); err != nil {
		t.Fatal(err)
	}
	if CurrentPhase(f.ps) != BreakpointActive {
		t.Fatalf("phase after exec %v", CurrentPhase(f.ps))
	}
	if len(f.state().probes) != 0 {
		t.Fatal("probes used again after failing")
	}
}

func TestEventBreakpointRelist(t *testing.T) {
	f := newFixture(t, threeLibs()[:1]...)
	f.hook()
	if CurrentPhase(f.ps) != BreakpointActive {
		t.Fatalf("phase %v", CurrentPhase(f.ps))
	}
	newLibObject(f.objs, "/lib/libdl.so.2")
	f.proc.Append(libEntry("/lib/libdl.so.2", 0x7f1000800000))
	ev, err := f.ops.OnStop(f.ps, loaderBias+debugHook)
	if err != nil || !ev.SolibEvent || !ev.Changed {
		t.Fatalf("stop at debug hook: %v %v", ev, err)
	}
	checkNames(t, f.list(), "/lib/libpthread.so.0", loaderPath, "/lib/libdl.so.2")
	if CurrentPhase(f.ps) != Listening {
		t.Errorf("phase %v", CurrentPhase(f.ps))
	}
	if ev, _ := f.ops.OnStop(f.ps, 0x401000); ev.SolibEvent {
		t.Errorf("unrelated stop reported as a shared library event")
	}
}

func TestObjectUnloadedDropsProbes(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	f.enableProbes("")
	f.hook()
	f.ops.OnStop(f.ps, probeAddr("init_complete"))
	st := f.state()
	if len(st.cache) == 0 {
		t.Fatal("cache not populated")
	}
	f.ops.ObjectUnloaded(f.ps, "/lib/libc.so.6")
	if len(st.probes) == 0 || len(st.cache) == 0 {
		t.Fatal("probes dropped for an unrelated object")
	}
	f.ops.ObjectUnloaded(f.ps, loaderPath)
	if len(st.probes) != 0 || st.cache != nil {
		t.Fatalf("probes not dropped: %d probes, cache %v", len(st.probes), names(st.cache))
	}
	if len(f.proc.Breakpoints) != 0 {
		t.Errorf("probe breakpoints not cleared: %v", f.proc.Breakpoints)
	}
}

func TestReservedRangesFiltered(t *testing.T) {
	const vdso = 0x7ffff7fc1000
	f := newFixture(t, append(threeLibs(), solibtest.Entry{Name: "linux-vdso.so.1", LAddr: vdso, LD: vdso + 0x3a0})...)
	f.proc.Reserved = []solib.Section{{Name: "[vdso]", Addr: vdso, Size: 0x2000}}
	checkNames(t, f.list(), "/lib/libpthread.so.0", "/lib/libm.so.6", "/lib/libc.so.6", loaderPath)
}

func TestManagerLifecycle(t *testing.T) {
	f := newFixture(t, threeLibs()...)
	m := solib.NewManager(f.ops)
	if err := m.Attach(f.ps); err != nil {
		t.Fatal(err)
	}
	if err := m.Attach(f.ps); err == nil {
		t.Fatal("program space attached twice")
	}
	if CurrentPhase(f.ps) != BreakpointActive {
		t.Fatalf("phase %v", CurrentPhase(f.ps))
	}
	if ev, err := m.OnStop(f.ps.ID, loaderBias+debugHook); err != nil || !ev.Changed {
		t.Fatalf("OnStop: %v %v", ev, err)
	}
	m.Remove(f.ps.ID)
	if _, ok := m.Space(f.ps.ID); ok {
		t.Fatal("program space not removed")
	}
	if len(f.proc.Breakpoints) != 0 {
		t.Errorf("breakpoints left after remove: %v", f.proc.Breakpoints)
	}
	if f.ps.Data(debugStateKey{}) != nil {
		t.Errorf("state left after remove")
	}
	if _, err := m.OnStop(f.ps.ID, 0); err == nil {
		t.Errorf("stop of a removed program space accepted")
	}
}

func TestRegistry(t *testing.T) {
	for _, goos := range []string{"linux", "freebsd", "solaris"} {
		ops, err := solib.ForOS(goos)
		if err != nil {
			t.Fatalf("%s: %v", goos, err)
		}
		if ops.Name() != "svr4" {
			t.Errorf("%s: got %s", goos, ops.Name())
		}
	}
	if _, err := solib.ForOS("windows"); err == nil {
		t.Errorf("svr4 used for windows")
	}
}

func TestSame(t *testing.T) {
	ops := NewWithAliases(config.Default().LoaderAliases)
	lib := func(name string, laddr uint64) *solib.Library {
		return &solib.Library{OrigName: name, LAddr: laddr}
	}
	tests := []struct {
		a, b *solib.Library
		want bool
	}{
		{lib("/lib/libc.so.6", 0x1000), lib("/lib/libc.so.6", 0x1000), true},
		{lib("/lib/libc.so.6", 0x1000), lib("/lib/libc.so.6", 0x2000), false},
		{lib("/lib/libc.so.6", 0x1000), lib("/lib/libm.so.6", 0x1000), false},
		{lib("/usr/lib/ld.so.1", 0x1000), lib("/lib/ld.so.1", 0x1000), true},
		{lib("/lib/amd64/ld.so.1", 0x1000), lib("/usr/lib/amd64/ld.so.1", 0x1000), true},
		{lib("/lib/sparcv9/ld.so.1", 0), lib("/usr/lib/sparcv9/ld.so.1", 0), true},
		{lib("/usr/lib/amd64/ld.so.1", 0x1000), lib("/lib/ld.so.1", 0x1000), false},
	}
	for _, tc := range tests {
		if got := ops.Same(tc.a, tc.b); got != tc.want {
			t.Errorf("Same(%v, %v) = %v", tc.a, tc.b, got)
		}
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{Uninitialized: "uninitialized", ProbesActive: "probes-active", Degraded: "degraded", Phase(42): "Phase(42)"} {
		if p.String() != want {
			t.Errorf("%d: got %s", p, p.String())
		}
	}
}

func TestPartialRead(t *testing.T) {
	t.Run("walk", func(t *testing.T) {
		f := newFixture(t, threeLibs()...)
		// main, libpthread, libm, libc, ld.so
		f.proc.Mem.FailAt = map[uint64]bool{f.proc.Nodes[2]: true}
		libs, err := f.state().walk(f.ps, f.proc.Nodes[0], 0, true)
		var partial *solib.PartialReadError
		if !errors.As(err, &partial) {
			t.Fatalf("expected a partial read error, got %v", err)
		}
		if partial.Addr != f.proc.Nodes[2] {
			t.Errorf("error at %#x, want %#x", partial.Addr, f.proc.Nodes[2])
		}
		checkNames(t, libs, "/lib/libpthread.so.0")
	})

	t.Run("last good list", func(t *testing.T) {
		f := newFixture(t, threeLibs()...)
		good := f.list()
		checkNames(t, good, "/lib/libpthread.so.0", "/lib/libm.so.6", "/lib/libc.so.6", loaderPath)
		f.proc.Mem.FailAt = map[uint64]bool{f.proc.Nodes[2]: true}
		for i := 0; i < 2; i++ {
			checkNames(t, f.list(), names(good)...)
		}
		if n := f.countWarnings("error reading shared library list"); n != 1 {
			t.Errorf("read error reported %d times", n)
		}
	})

	t.Run("no good list", func(t *testing.T) {
		// Without a previous list the libraries read before the error
		// are returned.
		f := newFixture(t, threeLibs()...)
		f.proc.Mem.FailAt = map[uint64]bool{f.proc.Nodes[2]: true}
		checkNames(t, f.list(), "/lib/libpthread.so.0")
	})

	t.Run("full reload", func(t *testing.T) {
		f := newFixture(t, threeLibs()...)
		f.enableProbes("")
		f.hook()
		st := f.state()
		if _, err := f.ops.OnStop(f.ps, probeAddr("init_complete")); err != nil {
			t.Fatal(err)
		}
		want := []string{"/lib/libpthread.so.0", "/lib/libm.so.6", "/lib/libc.so.6", loaderPath}
		checkNames(t, st.cache, want...)

		f.proc.Mem.FailAt = map[uint64]bool{f.proc.Nodes[2]: true}
		ev, err := f.ops.OnStop(f.ps, probeAddr("unmap_complete"))
		if err != nil || !ev.SolibEvent {
			t.Fatalf("unmap_complete: %v %v", ev, err)
		}
		checkNames(t, st.cache, want...)
		checkNames(t, f.list(), want...)
		if len(st.probes) == 0 || CurrentPhase(f.ps) != Listening {
			t.Errorf("dynamic linker interface dropped after a read error, phase %v", CurrentPhase(f.ps))
		}

		// The list is read again once the target memory can be read.
		f.proc.Mem.FailAt = nil
		f.proc.Unlink(2)
		if _, err := f.ops.OnStop(f.ps, probeAddr("unmap_complete")); err != nil {
			t.Fatal(err)
		}
		checkNames(t, f.list(), "/lib/libpthread.so.0", "/lib/libc.so.6", loaderPath)
	})
}
