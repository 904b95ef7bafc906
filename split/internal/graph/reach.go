package graph

// Reachable returns every node reachable from roots without entering
// exclude. Roots are included unless excluded. Traversal is breadth-first
// with a visited set, so cycles terminate.
func Reachable(g *Graph, roots []Node, exclude Set) Set {
	seen := make(Set, len(roots))
	queue := make([]Node, 0, len(roots))
	for _, r := range roots {
		if exclude.Has(r) || seen.Has(r) {
			continue
		}
		seen.Add(r)
		queue = append(queue, r)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for child := range g.edges[n] {
			if exclude.Has(child) || seen.Has(child) {
				continue
			}
			seen.Add(child)
			queue = append(queue, child)
		}
	}
	return seen
}

// Union returns a new set holding the members of every input.
func Union(sets ...Set) Set {
	out := make(Set)
	for _, s := range sets {
		for n := range s {
			out.Add(n)
		}
	}
	return out
}

// Intersect returns the members of a that are also in b.
func Intersect(a, b Set) Set {
	out := make(Set)
	for n := range a {
		if b.Has(n) {
			out.Add(n)
		}
	}
	return out
}

// Difference returns the members of a that are not in b.
func Difference(a, b Set) Set {
	out := make(Set)
	for n := range a {
		if !b.Has(n) {
			out.Add(n)
		}
	}
	return out
}
