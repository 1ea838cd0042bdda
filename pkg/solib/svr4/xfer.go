package svr4

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/go-delve/solib/pkg/solib"
)

// libraryList is a library-list-svr4 document, as returned by remote
// stubs for qXfer:libraries-svr4:read.
type libraryList struct {
	XMLName   xml.Name       `xml:"library-list-svr4"`
	Version   string         `xml:"version,attr"`
	MainLM    string         `xml:"main-lm,attr"`
	Libraries []libraryEntry `xml:"library"`
}

type libraryEntry struct {
	Name  string `xml:"name,attr"`
	LM    string `xml:"lm,attr"`
	LAddr string `xml:"l_addr,attr"`
	LD    string `xml:"l_ld,attr"`
	LMID  string `xml:"lmid,attr"`
}

func parseAddr(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 0, 64)
}

// parseLibraryList decodes a library-list-svr4 document.
func parseLibraryList(data []byte) (mainLM uint64, entries []libraryEntry, err error) {
	var ll libraryList
	if err := xml.Unmarshal(data, &ll); err != nil {
		return 0, nil, fmt.Errorf("malformed library list: %w", err)
	}
	if ll.Version != "1.0" {
		return 0, nil, fmt.Errorf("unsupported library list version %q", ll.Version)
	}
	if mainLM, err = parseAddr(ll.MainLM); err != nil {
		return 0, nil, fmt.Errorf("malformed main-lm %q: %w", ll.MainLM, err)
	}
	return mainLM, ll.Libraries, nil
}

// transferList reads the library list through xfer. If start is not zero
// only the libraries after prev are requested.
func (st *debugState) transferList(ps *solib.ProgramSpace, xfer solib.LibraryListTransfer, start, prev uint64) ([]*solib.Library, error) {
	data, err := xfer.TransferLibraryList(start, prev)
	if err != nil {
		return nil, err
	}
	mainLM, entries, err := parseLibraryList(data)
	if err != nil {
		return nil, err
	}
	if mainLM != 0 {
		st.mainLMAddr = mainLM
	}
	arch := ps.Target.Arch()
	libs := make([]*solib.Library, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		lib := &solib.Library{OrigName: e.Name, Path: ps.ResolvePath(e.Name)}
		fields := []struct {
			s   string
			dst *uint64
		}{{e.LM, &lib.LMAddr}, {e.LAddr, &lib.LAddr}, {e.LD, &lib.LD}, {e.LMID, &lib.LMID}}
		for _, f := range fields {
			v, err := parseAddr(f.s)
			if err != nil {
				return nil, fmt.Errorf("malformed address %q for library %s: %w", f.s, e.Name, err)
			}
			*f.dst = arch.TruncatePtr(v)
		}
		libs = append(libs, lib)
	}
	return libs, nil
}
