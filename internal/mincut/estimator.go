// Package mincut computes the global minimum edge cut of a weighted undirected
// multigraph, exactly (Stoer–Wagner) or by randomized Karger–Stein trials.
package mincut

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/coherence/internal/apperr"
	"github.com/starford/coherence/internal/graph"
)

// Options configures an Estimator.
type Options struct {
	// Approximate selects randomized trials for graphs of at least ExactThreshold nodes.
	Approximate bool
	// ExactThreshold is the node count below which the exact algorithm is always used.
	ExactThreshold int
	// Epsilon bounds the probability of missing the minimum in approximate mode.
	// Zero disables approximation.
	Epsilon float64
	// Parallel runs trials on a worker pool.
	Parallel bool
	// Workers limits the pool; zero means GOMAXPROCS.
	Workers int
	// Seed makes trials reproducible.
	Seed uint64
	// MaxTrials caps the trial count; zero means no cap.
	MaxTrials int
	// TimeBudget stops scheduling trials once elapsed; zero means no budget.
	TimeBudget time.Duration
}

// Result is a minimum cut and its bipartition.
//
// SideA is the smaller side (the side holding the lowest index when sizes are
// equal); both sides are sorted ascending. Graphs with fewer than two nodes
// have Value +Inf and no sides.
type Result struct {
	Value  float64
	SideA  []int
	SideB  []int
	Exact  bool
	Trials int
}

// HasPartition reports whether the result carries a bipartition.
func (r Result) HasPartition() bool {
	return len(r.SideA) > 0 && len(r.SideB) > 0
}

// Estimator computes minimum cuts according to its Options.
type Estimator struct {
	opts Options
}

// New returns an Estimator.
func New(opts Options) *Estimator {
	return &Estimator{opts: opts}
}

// UsesExact reports whether a graph of n nodes takes the exact path.
func (e *Estimator) UsesExact(n int) bool {
	return !e.opts.Approximate || e.opts.Epsilon == 0 || n < e.opts.ExactThreshold
}

// Estimate computes the minimum cut of the n-node graph described by edges.
func (e *Estimator) Estimate(ctx context.Context, n int, edges []graph.Edge) (Result, error) {
	const op = "mincut: estimate"

	if n < 2 {
		return Result{Value: math.Inf(1), Exact: true}, nil
	}
	for _, edge := range edges {
		if edge.Source < 0 || edge.Source >= n || edge.Target < 0 || edge.Target >= n {
			return Result{}, apperr.Errorf(apperr.KindEstimationFailure, op,
				"edge %d-%d out of range for %d nodes", edge.Source, edge.Target, n)
		}
		if math.IsNaN(edge.Weight) || math.IsInf(edge.Weight, 0) || edge.Weight < 0 {
			return Result{}, apperr.Errorf(apperr.KindEstimationFailure, op,
				"edge %d-%d has invalid weight %v", edge.Source, edge.Target, edge.Weight)
		}
	}

	var (
		mask   []bool
		exact  bool
		trials int
	)
	if e.UsesExact(n) {
		_, mask = stoerWagner(n, edges)
		exact = true
	} else {
		var err error
		mask, trials, err = e.runTrials(ctx, n, edges)
		if err != nil {
			return Result{}, apperr.E(apperr.KindEstimationFailure, op, err)
		}
	}

	res := partition(n, mask)
	res.Value = CutValue(edges, res.SideA, n)
	res.Exact = exact
	res.Trials = trials
	if !res.HasPartition() || math.IsNaN(res.Value) {
		return Result{}, apperr.Errorf(apperr.KindEstimationFailure, op, "degenerate cut for %d nodes", n)
	}
	return res, nil
}

type trialResult struct {
	value float64
	mask  []bool
	done  bool
}

func (e *Estimator) runTrials(ctx context.Context, n int, edges []graph.Edge) ([]bool, int, error) {
	trials := TrialCount(n, e.opts.Epsilon, e.opts.MaxTrials)
	if e.opts.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.TimeBudget)
		defer cancel()
	}

	results := make([]trialResult, trials)
	run := func(i int) {
		if ctx.Err() != nil {
			return
		}
		rng := rand.New(rand.NewPCG(e.opts.Seed, uint64(i)))
		_, mask := kargerStein(n, edges, rng)
		results[i] = trialResult{value: cutMask(edges, mask), mask: mask, done: true}
	}

	if e.opts.Parallel && trials > 1 {
		workers := e.opts.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		var g errgroup.Group
		g.SetLimit(workers)
		for i := range trials {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range trials {
			run(i)
		}
	}

	best, done := -1, 0
	for i, r := range results {
		if !r.done {
			continue
		}
		done++
		if best < 0 || r.value < results[best].value {
			best = i
		}
	}
	if best < 0 {
		return nil, 0, fmt.Errorf("no trial completed: %w", context.Cause(ctx))
	}
	return results[best].mask, done, nil
}

// partition turns a side mask into a normalized Result.
func partition(n int, mask []bool) Result {
	var a, b []int
	for i := 0; i < n; i++ {
		if mask[i] {
			a = append(a, i)
		} else {
			b = append(b, i)
		}
	}
	if len(a) > len(b) || (len(a) == len(b) && len(b) > 0 && b[0] < a[0]) {
		a, b = b, a
	}
	return Result{SideA: a, SideB: b}
}

// CutValue sums the weight of edges crossing between side and the rest of an
// n-node graph.
func CutValue(edges []graph.Edge, side []int, n int) float64 {
	mask := make([]bool, n)
	for _, v := range side {
		mask[v] = true
	}
	return cutMask(edges, mask)
}

func cutMask(edges []graph.Edge, mask []bool) float64 {
	var sum float64
	for _, e := range edges {
		if mask[e.Source] != mask[e.Target] {
			sum += e.Weight
		}
	}
	return sum
}
