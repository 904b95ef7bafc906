package split

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/wasm"
)

// ModuleStats summarises one emitted module.
type ModuleStats struct {
	Target         Target
	Name           string
	Bytes          int
	Imports        int // function imports
	Funcs          int // local functions
	Exports        int
	DataBytes      int
	ReliesOnChunks []int
}

// ChunkStats lists the members of a chunk and the split points using it.
type ChunkStats struct {
	Index   int
	Members []string
	Users   []int
}

// Report describes an Output for humans.
type Report struct {
	Modules      []ModuleStats
	Chunks       []ChunkStats
	Untranslated int
	Injected     int
}

// NewReport collects statistics for every module in out.
func NewReport(out *Output) (*Report, error) {
	p := out.Plan
	r := &Report{
		Untranslated: len(p.Untranslated),
		Injected:     len(p.Injected),
	}

	add := func(t Target, name string, sm *SplitModule) error {
		mod, err := wasm.ParseModule(sm.Bytes)
		if err != nil {
			return errors.ParseFailed(t.String(), err)
		}
		st := ModuleStats{
			Target:         t,
			Name:           name,
			Bytes:          len(sm.Bytes),
			Imports:        mod.NumImportedFuncs(),
			Funcs:          len(mod.Funcs),
			Exports:        len(mod.Exports),
			ReliesOnChunks: sm.ReliesOnChunks,
		}
		for _, d := range mod.Data {
			st.DataBytes += len(d.Init)
		}
		r.Modules = append(r.Modules, st)
		return nil
	}

	if err := add(MainTarget(), "main", out.Main); err != nil {
		return nil, err
	}
	for i, sm := range out.Modules {
		if err := add(SplitTarget(i), sm.ComponentName, sm); err != nil {
			return nil, err
		}
	}
	for i, sm := range out.Chunks {
		if err := add(ChunkTarget(i), fmt.Sprintf("chunk %d", i), sm); err != nil {
			return nil, err
		}
	}

	for i, c := range p.Chunks {
		cs := ChunkStats{Index: i}
		for _, n := range c {
			cs.Members = append(cs.Members, p.NodeName(n))
		}
		for j, sm := range out.Modules {
			for _, dep := range sm.ReliesOnChunks {
				if dep == i {
					cs.Users = append(cs.Users, j)
					break
				}
			}
		}
		r.Chunks = append(r.Chunks, cs)
	}
	return r, nil
}

// NodeName is a readable name for n.
func (p *Plan) NodeName(n graph.Node) string {
	if n.Kind == graph.Function {
		if name := p.FuncName(n.Index); name != "" {
			return errors.Demangle(name)
		}
		return n.String()
	}
	if ds, ok := p.data[n.Index]; ok {
		return ds.Name
	}
	return n.String()
}

// WriteText renders the report as aligned columns.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tNAME\tBYTES\tFUNCS\tIMPORTS\tEXPORTS\tDATA\tCHUNKS")
	for _, m := range r.Modules {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			m.Target, m.Name, m.Bytes, m.Funcs, m.Imports, m.Exports, m.DataBytes, ints(m.ReliesOnChunks))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, c := range r.Chunks {
		fmt.Fprintf(w, "\nchunk %d (%d nodes, used by splits %s)\n", c.Index, len(c.Members), ints(c.Users))
		for _, name := range c.Members {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	if r.Untranslated > 0 {
		_, err := fmt.Fprintf(w, "\n%d symbols missing from the bindgened module, %d kept in main\n",
			r.Untranslated, r.Injected)
		return err
	}
	return nil
}

func ints(v []int) string {
	if len(v) == 0 {
		return "-"
	}
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
