package mincut

import (
	"cmp"
	"slices"

	"github.com/starford/coherence/internal/graph"
)

// BoundaryNodes returns the nodes of sideA incident to at least one edge
// crossing the cut, heaviest crossing weight first (ties by index). limit <= 0
// returns all of them.
func BoundaryNodes(edges []graph.Edge, sideA []int, n, limit int) []int {
	inA := make([]bool, n)
	for _, v := range sideA {
		inA[v] = true
	}

	crossing := make(map[int]float64)
	for _, e := range edges {
		if inA[e.Source] == inA[e.Target] {
			continue
		}
		v := e.Target
		if inA[e.Source] {
			v = e.Source
		}
		crossing[v] += e.Weight
	}

	out := make([]int, 0, len(crossing))
	for v := range crossing {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b int) int {
		if c := cmp.Compare(crossing[b], crossing[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
