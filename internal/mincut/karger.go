package mincut

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/starford/coherence/internal/graph"
)

// baseCaseSize is the node count at or below which recursion stops and the
// contracted graph is solved exactly.
const baseCaseSize = 6

// TrialCount returns the number of Karger–Stein trials needed so that the
// probability of missing the minimum cut is at most epsilon. A single trial
// succeeds with probability Ω(1/log n); maxTrials > 0 caps the result.
func TrialCount(n int, epsilon float64, maxTrials int) int {
	trials := 1
	if epsilon < 1 && n > 1 {
		trials = int(math.Ceil((math.Log2(float64(n)) + 1) * math.Log(1/epsilon)))
	}
	if trials < 1 {
		trials = 1
	}
	if maxTrials > 0 && trials > maxTrials {
		trials = maxTrials
	}
	return trials
}

// kargerStein runs one recursive contraction trial and returns the best cut
// found together with a mask of one side.
func kargerStein(n int, edges []graph.Edge, rng *rand.Rand) (float64, []bool) {
	if n <= baseCaseSize {
		return stoerWagner(n, edges)
	}

	t := int(math.Ceil(1 + float64(n)/math.Sqrt2))
	if t >= n {
		t = n - 1
	}

	best := math.Inf(1)
	var bestMask []bool
	for range 2 {
		cn, cedges, labels := contract(n, edges, t, rng)
		v, sub := kargerStein(cn, cedges, rng)
		if v < best {
			best = v
			bestMask = make([]bool, n)
			for i, l := range labels {
				bestMask[i] = sub[l]
			}
		}
	}
	return best, bestMask
}

// contract randomly contracts the graph down to t super-nodes. Edges are
// contracted in order of exponential clocks Exp(1)/w, which picks each next
// edge with probability proportional to its weight among the edges still
// crossing super-nodes. If the positive-weight edges run out first, the
// remaining components are merged at random (the merged sides share no weight).
//
// It returns the contracted node count, the aggregated edges between distinct
// super-nodes, and the super-node label of every original node.
func contract(n int, edges []graph.Edge, t int, rng *rand.Rand) (int, []graph.Edge, []int) {
	type clocked struct {
		idx int
		key float64
	}
	order := make([]clocked, 0, len(edges))
	for i, e := range edges {
		if e.Source == e.Target || e.Weight <= 0 {
			continue
		}
		order = append(order, clocked{idx: i, key: rng.ExpFloat64() / e.Weight})
	}
	slices.SortFunc(order, func(a, b clocked) int {
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
		return cmp.Compare(a.idx, b.idx)
	})

	ds := graph.NewDisjointSet(n)
	for _, c := range order {
		if ds.Count() <= t {
			break
		}
		e := edges[c.idx]
		ds.Union(e.Source, e.Target)
	}

	if ds.Count() > t {
		var roots []int
		for i := 0; i < n; i++ {
			if ds.Find(i) == i {
				roots = append(roots, i)
			}
		}
		rng.Shuffle(len(roots), func(i, j int) { roots[i], roots[j] = roots[j], roots[i] })
		for k := 1; ds.Count() > t; k++ {
			ds.Union(roots[0], roots[k])
		}
	}

	labels, cn := ds.Labels()
	agg := make(map[[2]int]float64)
	for _, e := range edges {
		a, b := labels[e.Source], labels[e.Target]
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		agg[[2]int{a, b}] += e.Weight
	}
	out := make([]graph.Edge, 0, len(agg))
	for k, w := range agg {
		out = append(out, graph.Edge{Source: k[0], Target: k[1], Weight: w})
	}
	slices.SortFunc(out, func(x, y graph.Edge) int {
		if c := cmp.Compare(x.Source, y.Source); c != 0 {
			return c
		}
		return cmp.Compare(x.Target, y.Target)
	})
	return cn, out, labels
}
