package svr4

import (
	"github.com/derekparker/trie"

	"github.com/go-delve/solib/pkg/config"
	"github.com/go-delve/solib/pkg/solib"
)

// aliasTable maps every alias of the system loader to a canonical name.
type aliasTable struct {
	t *trie.Trie
}

func newAliasTable(aliases []config.PathAlias) *aliasTable {
	at := &aliasTable{t: trie.New()}
	for _, a := range aliases {
		at.t.Add(a.Debugger, a.Debugger)
		at.t.Add(a.Inferior, a.Debugger)
	}
	return at
}

func (at *aliasTable) canonical(name string) string {
	if node, ok := at.t.Find(name); ok {
		return node.Meta().(string)
	}
	return name
}

// sameName returns true if a and b name the same file.
func (at *aliasTable) sameName(a, b string) bool {
	return a == b || at.canonical(a) == at.canonical(b)
}

// same returns true if a and b describe the same library: their names
// are equal, or aliases of the same system loader, and they are loaded at
// the same address.
func (at *aliasTable) same(a, b *solib.Library) bool {
	return at.sameName(a.OrigName, b.OrigName) && a.LAddr == b.LAddr
}
