// Package chunk groups nodes shared by several split points into bounded
// shared modules.
package chunk

import (
	"sort"

	"github.com/wippyai/wasm-split/split/internal/graph"
)

// Config bounds chunk sizes.
type Config struct {
	// MaxSize is the largest number of nodes in a chunk.
	MaxSize int
	// MinFloor is the lower bound of the merge threshold base.
	MinFloor int
}

// MergeThreshold returns the size below which a chunk is merged into a
// partner: max(MaxSize/2, MinFloor)/2.
func (c Config) MergeThreshold() int {
	base := c.MaxSize / 2
	if c.MinFloor > base {
		base = c.MinFloor
	}
	return base / 2
}

// Partition groups every node used by more than one split point. usage
// maps a node to the number of split points that need it; callers leave
// out nodes main can reach and split entry functions. Chunks are returned
// sorted by their smallest node, each in node order.
func Partition(g *graph.Graph, usage map[graph.Node]int, cfg Config) [][]graph.Node {
	maxSize := cfg.MaxSize
	if maxSize < 1 {
		maxSize = 1
	}

	candidates := make(graph.Set)
	for n, count := range usage {
		if count > 1 {
			candidates.Add(n)
		}
	}

	assigned := make(graph.Set, len(candidates))
	var chunks [][]graph.Node
	for _, seed := range candidates.Sorted() {
		if assigned.Has(seed) {
			continue
		}
		assigned.Add(seed)
		chunk := []graph.Node{seed}
		for i := 0; i < len(chunk) && len(chunk) < maxSize; i++ {
			for _, next := range neighbors(g, chunk[i]) {
				if len(chunk) >= maxSize {
					break
				}
				if !candidates.Has(next) || assigned.Has(next) {
					continue
				}
				assigned.Add(next)
				chunk = append(chunk, next)
			}
		}
		graph.SortNodes(chunk)
		chunks = append(chunks, chunk)
	}

	chunks = merge(g, chunks, maxSize, cfg.MergeThreshold())
	sort.Slice(chunks, func(i, j int) bool { return chunks[i][0].Less(chunks[j][0]) })
	return chunks
}

func neighbors(g *graph.Graph, n graph.Node) []graph.Node {
	set := graph.NewSet(g.Children(n)...)
	for _, p := range g.Parents(n) {
		set.Add(p)
	}
	return set.Sorted()
}

func merge(g *graph.Graph, chunks [][]graph.Node, maxSize, threshold int) [][]graph.Node {
	for {
		merged := false
		for i := range chunks {
			if len(chunks[i]) >= threshold {
				continue
			}
			j := partner(g, chunks, i, maxSize)
			if j < 0 {
				continue
			}
			lo, hi := i, j
			if hi < lo {
				lo, hi = hi, lo
			}
			combined := append(append([]graph.Node{}, chunks[lo]...), chunks[hi]...)
			graph.SortNodes(combined)
			chunks[lo] = combined
			chunks = append(chunks[:hi], chunks[hi+1:]...)
			merged = true
			break
		}
		if !merged {
			return chunks
		}
	}
}

// partner picks the chunk to merge chunks[i] into: connected chunks first,
// then the smallest, then the lowest index. Combined size must fit.
func partner(g *graph.Graph, chunks [][]graph.Node, i, maxSize int) int {
	best := -1
	bestConnected := false
	for j := range chunks {
		if j == i || len(chunks[i])+len(chunks[j]) > maxSize {
			continue
		}
		conn := connected(g, chunks[i], chunks[j])
		switch {
		case best < 0:
		case conn && !bestConnected:
		case conn == bestConnected && len(chunks[j]) < len(chunks[best]):
		default:
			continue
		}
		best, bestConnected = j, conn
	}
	return best
}

func connected(g *graph.Graph, a, b []graph.Node) bool {
	members := graph.NewSet(b...)
	for _, n := range a {
		for _, c := range g.Children(n) {
			if members.Has(c) {
				return true
			}
		}
		for _, p := range g.Parents(n) {
			if members.Has(p) {
				return true
			}
		}
	}
	return false
}
