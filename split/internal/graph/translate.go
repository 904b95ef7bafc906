package graph

// Names maps nodes of one module to symbol names.
type Names struct {
	Funcs map[uint32]string // function index to name
	Data  map[uint32]string // data symbol index to name
}

type index struct {
	funcs map[string]uint32
	data  map[string]uint32
}

// invert maps names back to indices. When a name is used twice the lowest
// index wins.
func (n Names) invert() index {
	idx := index{
		funcs: make(map[string]uint32, len(n.Funcs)),
		data:  make(map[string]uint32, len(n.Data)),
	}
	fill := func(dst map[string]uint32, src map[uint32]string) {
		for i, name := range src {
			if prev, ok := dst[name]; !ok || i < prev {
				dst[name] = i
			}
		}
	}
	fill(idx.funcs, n.Funcs)
	fill(idx.data, n.Data)
	return idx
}

// Translation is a graph carried into another module's index space.
type Translation struct {
	Graph *Graph

	// Injected holds translated nodes referenced from a node that has no
	// counterpart. They must never be deleted.
	Injected Set

	// Untranslated lists source nodes without a counterpart, in node order.
	Untranslated []Node
}

// Translate maps g from the module described by from into the module
// described by to, matching functions and data symbols by name.
func Translate(g *Graph, from, to Names) *Translation {
	target := to.invert()
	lookup := func(n Node) (Node, bool) {
		var name string
		var ok bool
		if n.Kind == Function {
			name, ok = from.Funcs[n.Index]
		} else {
			name, ok = from.Data[n.Index]
		}
		if !ok {
			return Node{}, false
		}
		var idx uint32
		if n.Kind == Function {
			idx, ok = target.funcs[name]
		} else {
			idx, ok = target.data[name]
		}
		return Node{Kind: n.Kind, Index: idx}, ok
	}

	t := &Translation{Graph: New(), Injected: make(Set)}
	missing := make(Set)
	for _, src := range g.Nodes() {
		dst, ok := lookup(src)
		if ok {
			t.Graph.AddNode(dst)
		} else {
			missing.Add(src)
		}
		for _, child := range g.Children(src) {
			to, found := lookup(child)
			if !found {
				missing.Add(child)
				continue
			}
			if ok {
				t.Graph.AddEdge(dst, to)
			} else {
				t.Injected.Add(to)
			}
		}
	}
	t.Untranslated = missing.Sorted()
	return t
}
