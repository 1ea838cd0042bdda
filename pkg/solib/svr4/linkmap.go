package svr4

import (
	"bytes"
	"fmt"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

// linkMapNode is a link_map structure read from target memory, all fields
// are target addresses.
type linkMapNode struct {
	addr  uint64
	lAddr uint64
	lName uint64
	lLD   uint64
	next  uint64
	prev  uint64
}

func readNode(ps *solib.ProgramSpace, lo *linkMapLayout, addr uint64) (linkMapNode, error) {
	arch := ps.Target.Arch()
	buf := make([]byte, lo.lSize)
	if _, err := ps.Target.Memory().ReadMemory(buf, addr); err != nil {
		return linkMapNode{}, &solib.PartialReadError{Addr: addr, Err: err}
	}
	return linkMapNode{
		addr:  addr,
		lAddr: ptrAt(buf, lo.lAddrOffset, arch),
		lName: ptrAt(buf, lo.lNameOffset, arch),
		lLD:   ptrAt(buf, lo.lLDOffset, arch),
		next:  ptrAt(buf, lo.lNextOffset, arch),
		prev:  ptrAt(buf, lo.lPrevOffset, arch),
	}, nil
}

// readCString reads a NUL terminated string of at most max bytes from
// target memory. Reads do not cross page boundaries so that a string
// ending just before an unmapped page can be read.
func readCString(mem solib.MemoryReadWriter, addr uint64, max int, pageSize uint64) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("null string pointer")
	}
	if pageSize == 0 {
		pageSize = 0x1000
	}
	var out []byte
	for len(out) < max {
		n := pageSize - addr%pageSize
		if rem := uint64(max - len(out)); n > rem {
			n = rem
		}
		buf := make([]byte, n)
		if _, err := mem.ReadMemory(buf, addr); err != nil {
			return string(out), &solib.PartialReadError{Addr: addr, Err: err}
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			return string(append(out, buf[:i]...)), nil
		}
		out = append(out, buf...)
		addr += n
	}
	return string(out), nil
}

func isMainAlias(ps *solib.ProgramSpace, name string) bool {
	for _, alias := range ps.Config.MainAliases {
		if name == alias {
			return true
		}
	}
	return false
}

// walk reads the link map starting at the node lm, whose l_prev must be
// prevLM. If ignoreFirst is set the first node with a null l_prev is taken
// to describe the main executable and is not returned. The libraries read
// before an error are always returned.
func (st *debugState) walk(ps *solib.ProgramSpace, lm, prevLM uint64, ignoreFirst bool) ([]*solib.Library, error) {
	log := logflags.SolibLogger()
	arch := ps.Target.Arch()
	mem := ps.Target.Memory()
	var (
		libs       []*solib.Library
		firstLName uint64
		visited    int
	)
	for lm != 0 {
		visited++
		if visited > ps.Config.MaxLibraries {
			return libs, fmt.Errorf("%w (%d)", solib.ErrTooManyLibraries, ps.Config.MaxLibraries)
		}
		node, err := readNode(ps, st.layout, lm)
		if err != nil {
			return libs, err
		}
		if node.prev != prevLM {
			st.warnOnce(ps, "corrupt-link-map", "Corrupted shared library list: %#x != %#x", prevLM, node.prev)
			return libs, fmt.Errorf("%w: l_prev of %#x is %#x, expected %#x", solib.ErrCorruptLinkMap, lm, node.prev, prevLM)
		}
		prevLM, lm = node.addr, node.next

		// For SVR4 versions, the first entry in the link map is for the
		// inferior executable, so we must ignore it.
		if ignoreFirst && node.prev == 0 {
			firstLName = node.lName
			st.mainLMAddr = node.addr
			continue
		}

		name, err := readCString(mem, node.lName, ps.Config.MaxNameLength, arch.MinPageSize)
		if err != nil {
			// The vDSO shares the name of the main executable and has no
			// readable name.
			if firstLName == 0 || node.lName != firstLName {
				st.warnOnce(ps, fmt.Sprintf("name:%#x", node.addr), "Can't read pathname for load map: %v", err)
			}
			continue
		}
		if name == "" || isMainAlias(ps, name) {
			continue
		}
		log.Debugf("link map node %#x: %s l_addr=%#x l_ld=%#x", node.addr, name, node.lAddr, node.lLD)
		libs = append(libs, &solib.Library{
			OrigName: name,
			Path:     ps.ResolvePath(name),
			LMAddr:   node.addr,
			LAddr:    node.lAddr,
			LD:       node.lLD,
		})
	}
	return libs, nil
}

// rMap reads the head of the link map.
func (st *debugState) rMap(ps *solib.ProgramSpace) (uint64, error) {
	addr := st.debugBase + uint64(st.layout.rMapOffset)
	lm, err := readPtr(ps.Target.Memory(), ps.Target.Arch(), addr)
	if err != nil {
		return 0, &solib.PartialReadError{Addr: addr, Err: err}
	}
	return lm, nil
}

// rBrk reads the address of the dynamic linker's debug hook.
func (st *debugState) rBrk(ps *solib.ProgramSpace) (uint64, error) {
	addr := st.debugBase + uint64(st.layout.rBrkOffset)
	brk, err := readPtr(ps.Target.Memory(), ps.Target.Arch(), addr)
	if err != nil {
		return 0, &solib.PartialReadError{Addr: addr, Err: err}
	}
	return brk, nil
}

// rLdsomap reads the head of the dynamic linker's own link map, 0 if the
// layout does not have one.
func (st *debugState) rLdsomap(ps *solib.ProgramSpace) (uint64, error) {
	if st.layout.rLdsomapOffset < 0 {
		return 0, nil
	}
	// r_ldsomap only exists in version 2 of r_debug.
	version, err := readPtr(ps.Target.Memory(), ps.Target.Arch(), st.debugBase+uint64(st.layout.rVersionOffset))
	if err != nil || version < 2 {
		return 0, nil
	}
	addr := st.debugBase + uint64(st.layout.rLdsomapOffset)
	lm, err := readPtr(ps.Target.Memory(), ps.Target.Arch(), addr)
	if err != nil {
		return 0, &solib.PartialReadError{Addr: addr, Err: err}
	}
	return lm, nil
}

// hasLMDynamic reports whether the first link map entry describes the main
// executable, which is the case when it has a dynamic section.
func hasLMDynamic(ps *solib.ProgramSpace) bool {
	if ps.Exec == nil || ps.Exec.Object == nil {
		return true
	}
	_, ok := ps.Exec.Object.Section(".dynamic")
	return ok
}

// defaultList returns the list used when the link map is empty: the
// dynamic linker alone, if enableBreak found it outside the link map.
func (st *debugState) defaultList(ps *solib.ProgramSpace) []*solib.Library {
	if !st.loaderValid {
		return nil
	}
	lib := &solib.Library{
		OrigName: st.loaderName,
		Path:     ps.ResolvePath(st.loaderName),
		LAddr:    st.loaderOffset,
	}
	lib.SetBias(st.loaderOffset)
	return []*solib.Library{lib}
}

// currentListDirect reads the library list from the target. The returned
// error describes why the list may be incomplete.
func (st *debugState) currentListDirect(ps *solib.ProgramSpace) ([]*solib.Library, error) {
	if xfer, ok := ps.Target.(solib.LibraryListTransfer); ok {
		libs, err := st.transferList(ps, xfer, 0, 0)
		if err == nil {
			st.usingXfer = true
			return libs, nil
		}
		logflags.SolibLogger().Debugf("library list transfer failed, reading link map: %v", err)
	}
	st.usingXfer = false

	if st.locateBase(ps) == 0 {
		if _, dynamic := findInterpreter(ps); !dynamic {
			st.warnOnce(ps, "not-dynamic", "%v: no shared libraries will be loaded", solib.ErrNotDynamic)
			return nil, solib.ErrNotDynamic
		}
		return st.defaultList(ps), nil
	}

	lm, err := st.rMap(ps)
	if err != nil {
		return st.defaultList(ps), err
	}
	libs, err := st.walk(ps, lm, 0, hasLMDynamic(ps))
	if err == nil {
		var ldsomap uint64
		ldsomap, err = st.rLdsomap(ps)
		if err == nil && ldsomap != 0 {
			var more []*solib.Library
			more, err = st.walk(ps, ldsomap, 0, false)
			libs = append(libs, more...)
		}
	}
	if len(libs) == 0 && err == nil {
		return st.defaultList(ps), nil
	}
	return libs, err
}
