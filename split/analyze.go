package split

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/chunk"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/split/internal/reloc"
	"github.com/wippyai/wasm-split/wasm"
)

// unnamedPrefix names shared functions that have no usable name of their own.
const unnamedPrefix = "__wasm_split_unnamed_"

// Plan is the read-only result of analysis. Every target is emitted from
// the same Plan, so it is safe for concurrent use.
type Plan struct {
	// Graph is the call graph in the bindgened index space.
	Graph *graph.Graph

	Splits []*SplitPoint
	Chunks [][]graph.Node

	// Main holds every node reachable from the main module's roots.
	Main graph.Set

	// Unused holds nodes only split points reach. Main drops them.
	Unused graph.Set

	// Shared holds nodes main keeps exporting for side modules.
	Shared graph.Set

	// Injected holds nodes referenced from symbols that did not survive
	// into the bindgened module. They are never deleted from main.
	Injected graph.Set

	Untranslated []graph.Node

	bindgened   []byte
	cfg         Config
	chunkOf     map[graph.Node]int
	data        map[uint32]reloc.DataSymbol
	funcNames   map[uint32]string
	exportNames map[uint32]string
	splitFuncs  map[uint32]*SplitPoint
}

// Analyze builds the call graph of original, carries it into the index
// space of bindgened and computes reachability, split points and chunks.
func Analyze(original, bindgened []byte, cfg Config) (*Plan, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	orig, err := reloc.Read(original)
	if err != nil {
		return nil, err
	}
	g, skipped := graph.Build(orig)
	Logger().Debug("call graph built",
		zap.Int("nodes", len(g.Nodes())),
		zap.Int("edges", g.NumEdges()),
		zap.Int("skipped_relocations", skipped))

	bg, err := wasm.ParseModule(bindgened)
	if err != nil {
		return nil, errors.ParseFailed("bindgened module", err)
	}
	bgNames, err := reloc.LoadNames(bg)
	if err != nil {
		return nil, err
	}
	var bgLinking *wasm.Linking
	if cs := bg.Custom(wasm.LinkingSectionName); cs != nil {
		if bgLinking, err = wasm.ParseLinking(cs.Data); err != nil {
			return nil, errors.ParseFailed("bindgened linking section", err)
		}
	}
	if !reloc.HasDebugNames(bgNames, bgLinking) {
		return nil, errors.NamesStripped()
	}

	dataLinking := bgLinking
	if dataLinking == nil {
		dataLinking = orig.Linking
	}
	bgData, err := reloc.CollectDataSymbols(bg, dataLinking)
	if err != nil {
		return nil, err
	}

	funcNames := reloc.FunctionNames(bg, bgNames, bgLinking)
	tr := graph.Translate(g,
		graph.Names{
			Funcs: reloc.FunctionNames(orig.Wasm, orig.Names, orig.Linking),
			Data:  dataNames(orig.DataSymbols),
		},
		graph.Names{
			Funcs: funcNames,
			Data:  dataNames(bgData),
		})
	if len(tr.Untranslated) > 0 {
		Logger().Warn("symbols missing from bindgened module",
			zap.Int("untranslated", len(tr.Untranslated)),
			zap.Int("injected", len(tr.Injected)))
	}

	splits, err := Discover(bg)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Graph:        tr.Graph,
		Splits:       splits,
		Injected:     tr.Injected,
		Untranslated: tr.Untranslated,
		bindgened:    bindgened,
		cfg:          cfg,
		data:         make(map[uint32]reloc.DataSymbol, len(bgData)),
		funcNames:    funcNames,
		splitFuncs:   make(map[uint32]*SplitPoint, len(splits)),
	}
	for _, ds := range bgData {
		p.data[ds.Index] = ds
	}
	for _, sp := range splits {
		p.splitFuncs[sp.ImportFunc] = sp
	}

	p.reach(bg)
	p.partition()
	p.exportNames = exportNames(bg, funcNames)

	Logger().Info("analysis complete",
		zap.Int("splits", len(p.Splits)),
		zap.Int("chunks", len(p.Chunks)),
		zap.Int("main", len(p.Main)),
		zap.Int("unused", len(p.Unused)),
		zap.Int("shared", len(p.Shared)))
	return p, nil
}

func dataNames(symbols []reloc.DataSymbol) map[uint32]string {
	out := make(map[uint32]string, len(symbols))
	for _, ds := range symbols {
		out[ds.Index] = ds.Name
	}
	return out
}

// reach computes the main and per-split reachability sets and derives
// Unused and Shared from them.
func (p *Plan) reach(bg *wasm.Module) {
	splitExports := make(map[string]bool, len(p.Splits))
	for _, sp := range p.Splits {
		splitExports[sp.ExportName] = true
	}

	var roots []graph.Node
	exported := make(graph.Set)
	for _, e := range bg.Exports {
		if e.Kind != wasm.KindFunc || splitExports[e.Name] {
			continue
		}
		roots = append(roots, graph.Func(e.Idx))
		exported.Add(graph.Func(e.Idx))
	}
	if bg.Start != nil {
		roots = append(roots, graph.Func(*bg.Start))
	}
	for i := 0; i < bg.NumImportedFuncs(); i++ {
		if _, ok := p.splitFuncs[uint32(i)]; !ok {
			roots = append(roots, graph.Func(uint32(i)))
		}
	}
	roots = append(roots, p.Injected.Sorted()...)
	p.Main = graph.Reachable(p.Graph, roots, nil)

	p.Unused = make(graph.Set)
	p.Shared = graph.Union(p.Injected)
	for _, sp := range p.Splits {
		sp.Reachable = graph.Reachable(p.Graph, []graph.Node{graph.Func(sp.ExportFunc)}, nil)
		for n := range sp.Reachable {
			if p.Main.Has(n) {
				p.Shared.Add(n)
			} else if !exported.Has(n) {
				p.Unused.Add(n)
			}
		}
	}
}

// partition groups nodes used by several split points into chunks.
func (p *Plan) partition() {
	entries := make(graph.Set, len(p.Splits))
	for _, sp := range p.Splits {
		entries.Add(graph.Func(sp.ExportFunc))
	}
	usage := make(map[graph.Node]int)
	for _, sp := range p.Splits {
		for n := range sp.Reachable {
			if p.Main.Has(n) || entries.Has(n) {
				continue
			}
			usage[n]++
		}
	}

	p.Chunks = chunk.Partition(p.Graph, usage, p.cfg.chunkConfig())
	p.chunkOf = make(map[graph.Node]int)
	for i, c := range p.Chunks {
		for _, n := range c {
			p.chunkOf[n] = i
		}
		Logger().Debug("chunk", zap.Int("index", i), zap.Int("size", len(c)), zap.Stringer("first", c[0]))
	}
}

// ChunkOf returns the chunk holding n.
func (p *Plan) ChunkOf(n graph.Node) (int, bool) {
	i, ok := p.chunkOf[n]
	return i, ok
}

// FuncName returns the bindgened name of function idx, if it has one.
func (p *Plan) FuncName(idx uint32) string {
	return p.funcNames[idx]
}

// ExportName is the name function idx is shared under between modules.
func (p *Plan) ExportName(idx uint32) string {
	if name, ok := p.exportNames[idx]; ok {
		return name
	}
	return fmt.Sprintf("%s%d", unnamedPrefix, idx)
}

// Targets lists every emission target in output order.
func (p *Plan) Targets() []Target {
	targets := make([]Target, 0, 1+len(p.Splits)+len(p.Chunks))
	targets = append(targets, MainTarget())
	for i := range p.Splits {
		targets = append(targets, SplitTarget(i))
	}
	for i := range p.Chunks {
		targets = append(targets, ChunkTarget(i))
	}
	return targets
}

// exportNames picks the functions whose own name can be used as a shared
// export name: unique among functions, not already exported as something
// else, and clear of the names the splitter reserves.
func exportNames(bg *wasm.Module, funcNames map[uint32]string) map[uint32]string {
	count := make(map[string]int, len(funcNames))
	for _, name := range funcNames {
		count[name]++
	}
	taken := make(map[string]wasm.Export, len(bg.Exports))
	for _, e := range bg.Exports {
		taken[e.Name] = e
	}

	out := make(map[uint32]string, len(funcNames))
	for idx, name := range funcNames {
		if count[name] > 1 || reservedName(name) {
			continue
		}
		if e, ok := taken[name]; ok && (e.Kind != wasm.KindFunc || e.Idx != idx) {
			continue
		}
		out[idx] = name
	}
	return out
}

func reservedName(name string) bool {
	return strings.HasPrefix(name, "__wasm_split") ||
		strings.HasPrefix(name, "__indirect_function_table") ||
		strings.HasPrefix(name, "__imported_table_") ||
		strings.HasPrefix(name, "__memory_") ||
		strings.HasPrefix(name, "__global__")
}
