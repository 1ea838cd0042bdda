package solibtest

import (
	"github.com/go-delve/solib/pkg/solib"
)

// Entry describes one node of a synthetic link map.
type Entry struct {
	Name  string
	LAddr uint64
	LD    uint64
	// NameAddr, when not zero, is used as l_name instead of a freshly
	// allocated copy of Name.
	NameAddr uint64
}

// RDebug describes a synthetic r_debug structure.
type RDebug struct {
	Version uint64
	Brk     uint64
	State   uint64
	LdBase  uint64
}

// WriteRDebug writes an r_debug structure at addr whose r_map points to
// head.
func (t *Target) WriteRDebug(addr, head uint64, rd RDebug) {
	ptr := t.ArchInfo.PtrSize
	buf := make([]byte, 5*ptr)
	putPtr(buf[0:], t.ArchInfo, rd.Version)
	putPtr(buf[ptr:], t.ArchInfo, head)
	putPtr(buf[2*ptr:], t.ArchInfo, rd.Brk)
	putPtr(buf[3*ptr:], t.ArchInfo, rd.State)
	putPtr(buf[4*ptr:], t.ArchInfo, rd.LdBase)
	t.Mem.Map(addr, buf)
}

// WriteNode writes a link map node at addr.
func (t *Target) WriteNode(addr uint64, laddr, name, ld, next, prev uint64) {
	ptr := t.ArchInfo.PtrSize
	buf := make([]byte, 5*ptr)
	putPtr(buf[0:], t.ArchInfo, laddr)
	putPtr(buf[ptr:], t.ArchInfo, name)
	putPtr(buf[2*ptr:], t.ArchInfo, ld)
	putPtr(buf[3*ptr:], t.ArchInfo, next)
	putPtr(buf[4*ptr:], t.ArchInfo, prev)
	t.Mem.Map(addr, buf)
}

// BuildLinkMap writes a doubly linked list of link map nodes, one per
// entry, and returns their addresses. The l_prev of the first node is prev.
func (t *Target) BuildLinkMap(prev uint64, entries []Entry) []uint64 {
	ptr := t.ArchInfo.PtrSize
	nodes := make([]uint64, len(entries))
	for i := range entries {
		nodes[i] = t.Alloc(5 * ptr)
	}
	for i, e := range entries {
		name := e.NameAddr
		if name == 0 {
			name = t.AllocString(e.Name)
		}
		next, p := uint64(0), prev
		if i+1 < len(nodes) {
			next = nodes[i+1]
		}
		if i > 0 {
			p = nodes[i-1]
		}
		t.WriteNode(nodes[i], e.LAddr, name, e.LD, next, p)
	}
	return nodes
}

// AppendLinkMap links entries after the node tail and returns the new
// nodes.
func (t *Target) AppendLinkMap(tail uint64, entries []Entry) []uint64 {
	nodes := t.BuildLinkMap(tail, entries)
	if len(nodes) > 0 {
		t.PutPtr(tail+3*uint64(t.ArchInfo.PtrSize), nodes[0])
	}
	return nodes
}

// SetNext overwrites the l_next field of node.
func (t *Target) SetNext(node, next uint64) {
	t.PutPtr(node+3*uint64(t.ArchInfo.PtrSize), next)
}

// SetPrev overwrites the l_prev field of node.
func (t *Target) SetPrev(node, prev uint64) {
	t.PutPtr(node+4*uint64(t.ArchInfo.PtrSize), prev)
}

// Process is a target with a main program and a list of libraries.
type Process struct {
	*Target
	RDebugAddr uint64
	Nodes      []uint64
}

// NewProcess creates a target whose r_debug lives at rdebug and whose link
// map contains entries. entries[0] is normally the main program, with an
// empty name.
func NewProcess(arch *solib.Arch, rdebug uint64, rd RDebug, entries []Entry) *Process {
	t := NewTarget(arch)
	p := &Process{Target: t, RDebugAddr: rdebug}
	p.Nodes = t.BuildLinkMap(0, entries)
	head := uint64(0)
	if len(p.Nodes) > 0 {
		head = p.Nodes[0]
	}
	if rd.Version == 0 {
		rd.Version = 1
	}
	t.WriteRDebug(rdebug, head, rd)
	return p
}

// Append adds entries at the end of the link map.
func (p *Process) Append(entries ...Entry) []uint64 {
	nodes := p.AppendLinkMap(p.Nodes[len(p.Nodes)-1], entries)
	p.Nodes = append(p.Nodes, nodes...)
	return nodes
}

// Unlink removes the i-th node from the link map.
func (p *Process) Unlink(i int) {
	next, prev := uint64(0), uint64(0)
	if i+1 < len(p.Nodes) {
		next = p.Nodes[i+1]
	}
	if i > 0 {
		prev = p.Nodes[i-1]
	}
	if prev != 0 {
		p.SetNext(prev, next)
	}
	if next != 0 {
		p.SetPrev(next, prev)
	}
	p.Nodes = append(p.Nodes[:i], p.Nodes[i+1:]...)
}
