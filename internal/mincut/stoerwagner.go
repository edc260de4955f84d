package mincut

import (
	"math"

	"github.com/starford/coherence/internal/graph"
)

// stoerWagner computes the exact global minimum cut of an n-node weighted
// graph (n >= 2). It returns the cut value and a mask of one side.
//
// Each phase starts from the lowest active vertex and breaks ties toward the
// lowest index, so the result is deterministic. Self-loops are ignored and
// parallel edges are summed into the weight matrix.
func stoerWagner(n int, edges []graph.Edge) (float64, []bool) {
	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
	}
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		w[e.Source][e.Target] += e.Weight
		w[e.Target][e.Source] += e.Weight
	}

	groups := make([][]int, n)
	active := make([]int, n)
	for i := range active {
		active[i] = i
		groups[i] = []int{i}
	}

	best := math.Inf(1)
	var bestSide []int

	added := make([]bool, n)
	conn := make([]float64, n)
	for len(active) > 1 {
		m := len(active)
		for j := 0; j < m; j++ {
			added[j] = false
			conn[j] = 0
		}

		prev, last := -1, -1
		var cutOfPhase float64
		for k := 0; k < m; k++ {
			sel := -1
			for j := 0; j < m; j++ {
				if added[j] {
					continue
				}
				if sel == -1 || conn[j] > conn[sel] {
					sel = j
				}
			}
			added[sel] = true
			prev, last = last, sel
			cutOfPhase = conn[sel]

			row := w[active[sel]]
			for j := 0; j < m; j++ {
				if !added[j] {
					conn[j] += row[active[j]]
				}
			}
		}

		s, t := active[prev], active[last]
		if cutOfPhase < best {
			best = cutOfPhase
			bestSide = append(bestSide[:0], groups[t]...)
		}

		// Merge t into s.
		for _, x := range active {
			if x == s || x == t {
				continue
			}
			w[s][x] += w[t][x]
			w[x][s] = w[s][x]
		}
		groups[s] = append(groups[s], groups[t]...)
		groups[t] = nil
		active = append(active[:last], active[last+1:]...)
	}

	mask := make([]bool, n)
	for _, v := range bestSide {
		mask[v] = true
	}
	return best, mask
}
