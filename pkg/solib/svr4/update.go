package svr4

import (
	"fmt"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

// updateFull reads the whole library list again. If the list can not be
// read completely the previous cache is kept.
func (st *debugState) updateFull(ps *solib.ProgramSpace) error {
	libs, err := st.currentListDirect(ps)
	if err != nil {
		if st.cache == nil {
			st.cache = libs
		}
		return err
	}
	st.cache = libs
	st.lastGood = libs
	return nil
}

// updateIncremental appends to the cache the libraries starting at the
// link map node lm. It returns an error, leaving the cache untouched, if a
// full reload is needed instead.
func (st *debugState) updateIncremental(ps *solib.ProgramSpace, lm uint64) error {
	if len(st.cache) == 0 {
		return fmt.Errorf("nothing read yet")
	}
	var xfer solib.LibraryListTransfer
	if st.usingXfer {
		var ok bool
		xfer, ok = ps.Target.(solib.LibraryListTransfer)
		if !ok || !xfer.SupportsIncrementalTransfer() {
			return fmt.Errorf("target does not support incremental library list transfers")
		}
	}

	tail := st.cache[len(st.cache)-1]
	prevLM := tail.LMAddr

	var (
		added []*solib.Library
		err   error
	)
	if xfer != nil {
		added, err = st.transferList(ps, xfer, lm, prevLM)
	} else {
		// The first node of the link map can never be reached here, it
		// is always preceded by the tail of the cache.
		added, err = st.walk(ps, lm, prevLM, false)
	}
	if err != nil {
		return err
	}
	logflags.SolibLogger().Debugf("incremental update: %d libraries added after %s", len(added), tail.OrigName)
	st.cache = append(st.cache[:len(st.cache):len(st.cache)], added...)
	st.lastGood = st.cache
	return nil
}
