// Package graph builds the symbol reference graph of a linked module from
// its relocations, translates it into another module's index space, and
// computes reachability over it.
package graph

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-split/split/internal/reloc"
	"github.com/wippyai/wasm-split/wasm"
)

// NodeKind distinguishes functions from data symbols.
type NodeKind uint8

const (
	Function NodeKind = iota
	Data
)

// Node is a function (by function index) or a data symbol (by linking
// symbol table index). Functions order before data.
type Node struct {
	Kind  NodeKind
	Index uint32
}

// Func returns the node for a function index.
func Func(idx uint32) Node { return Node{Kind: Function, Index: idx} }

// DataSym returns the node for a data symbol index.
func DataSym(idx uint32) Node { return Node{Kind: Data, Index: idx} }

// Less orders nodes by kind, then index.
func (n Node) Less(o Node) bool {
	if n.Kind != o.Kind {
		return n.Kind < o.Kind
	}
	return n.Index < o.Index
}

func (n Node) String() string {
	if n.Kind == Function {
		return fmt.Sprintf("func[%d]", n.Index)
	}
	return fmt.Sprintf("data[%d]", n.Index)
}

// Set is a set of nodes.
type Set map[Node]struct{}

// NewSet returns a set holding nodes.
func NewSet(nodes ...Node) Set {
	s := make(Set, len(nodes))
	for _, n := range nodes {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts n.
func (s Set) Add(n Node) { s[n] = struct{}{} }

// Has reports membership.
func (s Set) Has(n Node) bool {
	_, ok := s[n]
	return ok
}

// Sorted returns the members in node order.
func (s Set) Sorted() []Node {
	out := make([]Node, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	SortNodes(out)
	return out
}

// Funcs returns the function indices in the set, ascending.
func (s Set) Funcs() []uint32 {
	var out []uint32
	for n := range s {
		if n.Kind == Function {
			out = append(out, n.Index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortNodes sorts in node order.
func SortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Less(nodes[j]) })
}

// Graph is a directed reference graph. Edges run from the referencing
// node to the referenced one.
type Graph struct {
	edges   map[Node]Set
	parents map[Node]Set
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{edges: make(map[Node]Set), parents: make(map[Node]Set)}
}

// AddEdge records that from references to.
func (g *Graph) AddEdge(from, to Node) {
	out, ok := g.edges[from]
	if !ok {
		out = make(Set)
		g.edges[from] = out
	}
	out.Add(to)
	in, ok := g.parents[to]
	if !ok {
		in = make(Set)
		g.parents[to] = in
	}
	in.Add(from)
}

// AddNode ensures n is present even without edges.
func (g *Graph) AddNode(n Node) {
	if _, ok := g.edges[n]; !ok {
		g.edges[n] = make(Set)
	}
}

// Children returns the nodes n references, in node order.
func (g *Graph) Children(n Node) []Node {
	return g.edges[n].Sorted()
}

// Parents returns the nodes referencing n, in node order.
func (g *Graph) Parents(n Node) []Node {
	return g.parents[n].Sorted()
}

// Nodes returns every node with outgoing edges or added explicitly, in
// node order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.edges))
	for n := range g.edges {
		out = append(out, n)
	}
	SortNodes(out)
	return out
}

// NumEdges returns the number of distinct edges.
func (g *Graph) NumEdges() int {
	total := 0
	for _, s := range g.edges {
		total += len(s)
	}
	return total
}

// Build derives the reference graph of m. Relocations inside a function
// body become edges from that function; relocations inside a data symbol
// become edges from that symbol. Targets that are neither functions nor
// tracked data symbols contribute no edge; skipped counts them.
func Build(m *reloc.Module) (g *Graph, skipped int) {
	g = New()
	for _, fr := range m.Funcs {
		g.AddNode(Func(fr.Func))
	}

	i := 0
	for _, fr := range m.Funcs {
		for i < len(m.Code) && m.Code[i].Offset < fr.Start {
			i++
		}
		for ; i < len(m.Code) && m.Code[i].Offset < fr.End; i++ {
			if to, ok := resolve(m, m.Code[i]); ok {
				g.AddEdge(Func(fr.Func), to)
			} else {
				skipped++
			}
		}
	}

	i = 0
	for _, ds := range m.DataSymbols {
		for i < len(m.Data) && m.Data[i].Offset < ds.Start {
			i++
		}
		for j := i; j < len(m.Data) && m.Data[j].Offset < ds.End; j++ {
			if to, ok := resolve(m, m.Data[j]); ok {
				g.AddEdge(DataSym(ds.Index), to)
			} else {
				skipped++
			}
		}
	}
	return g, skipped
}

func resolve(m *reloc.Module, rel wasm.Relocation) (Node, bool) {
	switch rel.Type {
	case wasm.RelocTypeIndexLEB, wasm.RelocGlobalIndexLEB, wasm.RelocGlobalIndexI32,
		wasm.RelocTagIndexLEB, wasm.RelocTableNumberLEB:
		return Node{}, false
	}
	sym, ok := m.Symbol(rel.Index)
	if !ok {
		return Node{}, false
	}
	switch sym.Kind {
	case wasm.SymbolFunction:
		return Func(sym.Index), true
	case wasm.SymbolData:
		if _, ok := m.DataSymbol(rel.Index); ok {
			return DataSym(rel.Index), true
		}
	}
	return Node{}, false
}
