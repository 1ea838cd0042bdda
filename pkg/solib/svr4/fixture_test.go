package svr4

import (
	"debug/elf"
	"fmt"
	"strings"
	"testing"

	"github.com/go-delve/solib/pkg/config"
	"github.com/go-delve/solib/pkg/proc/linutil"
	"github.com/go-delve/solib/pkg/sdt"
	"github.com/go-delve/solib/pkg/solib"
	"github.com/go-delve/solib/pkg/solib/solibtest"
)

const (
	execPath   = "/bin/prog"
	loaderPath = "/lib64/ld-linux-x86-64.so.2"

	execDynAddr = 0x403000
	rdebugAddr  = 0x404000

	loaderBias    = 0x7f0000000000
	loaderDynAddr = 0x3000
	debugHook     = 0x1100
)

// fixture is a dynamically linked program stopped after the dynamic
// linker loaded its dependencies.
type fixture struct {
	t        *testing.T
	proc     *solibtest.Process
	objs     solibtest.Objects
	exec     *solibtest.Object
	loader   *solibtest.Object
	cfg      *config.Config
	ps       *solib.ProgramSpace
	ops      *Ops
	warnings []string
}

// libEntry returns the link map entry of a library loaded at bias whose
// dynamic section is at 0x2000.
func libEntry(name string, bias uint64) solibtest.Entry {
	return solibtest.Entry{Name: name, LAddr: bias, LD: bias + 0x2000}
}

func newLibObject(objs solibtest.Objects, path string) *solibtest.Object {
	o := solibtest.NewObject(path, solib.AMD64Arch)
	o.AddSection(".plt", 0x800, 0x100)
	o.AddSection(".text", 0x1000, 0x1000)
	o.AddSection(".dynamic", 0x2000, 0x100)
	o.ProgHeaders = []elf.ProgHeader{{Type: elf.PT_LOAD, Vaddr: 0, Memsz: 0x3000, Align: 0x1000}}
	return objs.Add(o)
}

func newExecObject(objs solibtest.Objects) *solibtest.Object {
	o := solibtest.NewObject(execPath, solib.AMD64Arch)
	o.ELFType = elf.ET_EXEC
	o.EntryAddr = 0x401000
	o.InterpName = loaderPath
	o.AddSection(".plt", 0x400800, 0x100)
	o.AddSection(".text", 0x401000, 0x1000)
	o.AddSection(".dynamic", execDynAddr, 0x40)
	o.Dyn = []linutil.DynEntry{{Tag: 1, Val: 1}, {Tag: linutil.DT_DEBUG, Val: 0}}
	return objs.Add(o)
}

func newLoaderObject(objs solibtest.Objects) *solibtest.Object {
	o := solibtest.NewObject(loaderPath, solib.AMD64Arch)
	o.EntryAddr = 0x1050
	o.AddSection(".plt", 0x900, 0x80)
	o.AddSection(".text", 0x1000, 0x2000)
	o.AddSection(".dynamic", loaderDynAddr, 0x100)
	o.AddSymbol("_dl_debug_state", debugHook, 0x10)
	o.AddSymbol("_dl_runtime_resolve_xsave", 0x3800, 0x40)
	o.AddSymbol("_dl_runtime_resolve_fxsave", 0x3840, 0x40)
	o.ProgHeaders = []elf.ProgHeader{{Type: elf.PT_LOAD, Vaddr: 0, Memsz: 0x4000, Align: 0x1000}}
	return objs.Add(o)
}

// rtldProbes returns the probes of a glibc dynamic linker, named with
// prefix, omitting the names in skip.
func rtldProbes(prefix string, skip ...string) []*sdt.Probe {
	skipped := map[string]bool{}
	for _, s := range skip {
		skipped[s] = true
	}
	var r []*sdt.Probe
	for i, name := range []string{"init_start", "init_complete", "map_start", "map_failed", "reloc_complete", "unmap_start", "unmap_complete"} {
		if skipped[name] {
			continue
		}
		args := "-4@%edi 8@%rsi"
		if name == "reloc_complete" || name == "map_start" {
			args += " 8@%rdx"
		}
		r = append(r, &sdt.Probe{Provider: "rtld", Name: prefix + name, PC: 0x1400 + uint64(i)*0x10, Args: args})
	}
	return r
}

func probeAddr(name string) uint64 {
	for _, p := range rtldProbes("") {
		if p.Name == name {
			return loaderBias + p.PC
		}
	}
	panic("unknown probe " + name)
}

// newFixture builds a target whose link map contains the main executable,
// the libraries in libs and the dynamic linker.
func newFixture(t *testing.T, libs ...solibtest.Entry) *fixture {
	f := &fixture{t: t, objs: solibtest.Objects{}, cfg: config.Default()}
	f.exec = newExecObject(f.objs)
	f.loader = newLoaderObject(f.objs)
	for _, lib := range libs {
		newLibObject(f.objs, lib.Name)
	}

	entries := []solibtest.Entry{{Name: "", LD: execDynAddr}}
	entries = append(entries, libs...)
	entries = append(entries, solibtest.Entry{Name: loaderPath, LAddr: loaderBias, LD: loaderBias + loaderDynAddr})
	f.proc = solibtest.NewProcess(solib.AMD64Arch, rdebugAddr, solibtest.RDebug{Brk: loaderBias + debugHook, State: 0, LdBase: loaderBias}, entries)
	f.proc.Mem.Map(execDynAddr, solibtest.EncodeDynamic(8, solib.AMD64Arch.ByteOrder, []linutil.DynEntry{{Tag: 1, Val: 1}, {Tag: linutil.DT_DEBUG, Val: rdebugAddr}}))
	f.proc.Auxv[linutil.AT_BASE] = loaderBias
	f.proc.Auxv[linutil.AT_ENTRY] = 0x401000
	f.proc.PCValue = 0x401000
	f.newProgramSpace()
	return f
}

func (f *fixture) newProgramSpace() {
	f.ps = solib.NewProgramSpace(1, f.proc.Target, f.objs, f.cfg)
	f.ps.Warnf = func(format string, args ...interface{}) {
		f.warnings = append(f.warnings, fmt.Sprintf(format, args...))
	}
	if err := f.ps.SetExecutable(execPath); err != nil {
		f.t.Fatal(err)
	}
	f.ops = NewWithAliases(f.cfg.LoaderAliases)
}

func (f *fixture) state() *debugState {
	return getInfo(f.ps)
}

func (f *fixture) hook() {
	f.t.Helper()
	if err := f.ops.CreateInferiorHook(f.ps); err != nil {
		f.t.Fatalf("CreateInferiorHook: %v", err)
	}
}

func (f *fixture) list() []*solib.Library {
	return f.ops.CurrentList(f.ps)
}

func (f *fixture) countWarnings(substr string) int {
	n := 0
	for _, w := range f.warnings {
		if strings.Contains(w, substr) {
			n++
		}
	}
	return n
}

func names(libs []*solib.Library) []string {
	r := make([]string, len(libs))
	for i := range libs {
		r[i] = libs[i].OrigName
	}
	return r
}

func checkNames(t *testing.T, libs []*solib.Library, want ...string) {
	t.Helper()
	got := names(libs)
	if len(got) != len(want) {
		t.Fatalf("got libraries %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got libraries %v, want %v", got, want)
		}
	}
}

// enableProbes gives the dynamic linker the probes returned by
// rtldProbes(prefix, skip...) and sets the argument values every probe
// reports.
func (f *fixture) enableProbes(prefix string, skip ...string) {
	f.loader.SDTProbes = rtldProbes(prefix, skip...)
	for _, p := range f.loader.SDTProbes {
		f.proc.ProbeArgs[p.Name] = []solibtest.ProbeArg{{Val: 0}, {Val: rdebugAddr}, {Val: 0}}
	}
}
