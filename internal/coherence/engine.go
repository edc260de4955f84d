// Package coherence turns a window's relationship graph into coherence
// signals, and derives events and persistent boundaries from the signal history.
package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/starford/coherence/internal/graph"
	"github.com/starford/coherence/internal/mincut"
	"github.com/starford/coherence/internal/models"
)

// maxCutNodes caps the boundary nodes reported on a signal.
const maxCutNodes = 10

// Observer is notified after every appended signal.
type Observer interface {
	ObserveSignal(sig models.CoherenceSignal, elapsed time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for synthetic windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine owns one graph, its signal history and tracked boundaries.
// It is not safe for concurrent use.
type Engine struct {
	cfg       Config
	graph     *graph.Graph
	estimator *mincut.Estimator
	signals   []models.CoherenceSignal
	tracker   *BoundaryTracker

	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		graph: graph.New(cfg.MinEdgeWeight),
		estimator: mincut.New(mincut.Options{
			Approximate:    cfg.Approximate,
			ExactThreshold: cfg.ExactThreshold,
			Epsilon:        cfg.Epsilon,
			Parallel:       cfg.Parallel,
			Seed:           cfg.Seed,
			MaxTrials:      cfg.MaxTrials,
			TimeBudget:     cfg.TimeBudget,
		}),
		logger: slog.Default(),
		now:    time.Now,
	}
	if cfg.TrackBoundaries {
		e.tracker = NewBoundaryTracker(cfg.Boundary)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// AddNode registers id and returns its index.
func (e *Engine) AddNode(id string) int { return e.graph.AddNode(id) }

// AddEdge registers an edge; light edges are dropped.
func (e *Engine) AddEdge(source, target string, weight float64) {
	e.graph.AddEdge(source, target, weight)
}

// NodeCount returns the current node count.
func (e *Engine) NodeCount() int { return e.graph.NodeCount() }

// EdgeCount returns the current edge count.
func (e *Engine) EdgeCount() int { return e.graph.EdgeCount() }

// BuildFromRecords adds the records' nodes and relationships to the graph.
func (e *Engine) BuildFromRecords(records []models.Record) {
	e.graph.BuildFromRecords(records)
}

// Clear empties the graph. Signal history and boundaries are kept.
func (e *Engine) Clear() { e.graph.Clear() }

// Reset empties the graph, the signal history and the tracked boundaries.
func (e *Engine) Reset() {
	e.graph.Clear()
	e.signals = nil
	if e.tracker != nil {
		e.tracker.Reset()
	}
}

// ComputeFromRecords builds the graph from records and computes signals.
func (e *Engine) ComputeFromRecords(ctx context.Context, records []models.Record) ([]models.CoherenceSignal, error) {
	e.BuildFromRecords(records)
	return e.ComputeSignals(ctx)
}

// ComputeSignals computes a signal for the current graph over a synthetic
// window starting now, and returns the full history.
func (e *Engine) ComputeSignals(ctx context.Context) ([]models.CoherenceSignal, error) {
	w := models.NewTemporalWindow(e.now(), e.cfg.WindowSize, uint64(len(e.signals)))
	return e.ComputeWindow(ctx, w)
}

// ComputeWindow computes a signal for the current graph attributed to window
// and returns the full history. An empty graph yields an empty result. On
// failure nothing is appended.
func (e *Engine) ComputeWindow(ctx context.Context, window models.TemporalWindow) ([]models.CoherenceSignal, error) {
	n := e.graph.NodeCount()
	if n == 0 {
		return nil, nil
	}

	edges := e.graph.Edges()
	started := time.Now()
	res, err := e.estimator.Estimate(ctx, n, edges)
	if err != nil {
		return nil, fmt.Errorf("coherence: compute signals: %w", err)
	}
	elapsed := time.Since(started)

	sig := models.CoherenceSignal{
		ID:             fmt.Sprintf("signal_%d", len(e.signals)),
		Window:         window,
		MinCutValue:    res.Value,
		NodeCount:      n,
		EdgeCount:      len(edges),
		ComponentCount: e.graph.Components(),
		IsExact:        res.Exact,
		Trials:         res.Trials,
		CutNodes:       []string{},
	}
	if res.HasPartition() {
		sizes := [2]int{len(res.SideA), len(res.SideB)}
		sig.PartitionSizes = &sizes
		sig.CutNodes = e.graph.IDs(mincut.BoundaryNodes(edges, res.SideA, n, maxCutNodes))
	}
	if len(e.signals) > 0 {
		d := delta(res.Value, e.signals[len(e.signals)-1].MinCutValue)
		sig.Delta = &d
	}

	e.signals = append(e.signals, sig)

	if e.tracker != nil && res.HasPartition() {
		b, created := e.tracker.Observe(window.Start, e.graph.IDs(res.SideA), e.graph.IDs(res.SideB), res.Value)
		e.logger.Debug("boundary observed",
			slog.String("boundary_id", b.ID),
			slog.Bool("created", created),
			slog.Bool("stable", b.Stable))
	}
	if e.observer != nil {
		e.observer.ObserveSignal(sig.Clone(), elapsed)
	}

	e.logger.Debug("signal computed",
		slog.String("signal_id", sig.ID),
		slog.Uint64("window_id", window.WindowID),
		slog.Float64("min_cut", sig.MinCutValue),
		slog.Int("nodes", sig.NodeCount),
		slog.Int("edges", sig.EdgeCount),
		slog.Bool("exact", sig.IsExact),
		slog.Duration("elapsed", elapsed))

	return e.Signals(), nil
}

// delta is current minus previous; two undefined cuts compare equal.
func delta(current, previous float64) float64 {
	if math.IsInf(current, 1) && math.IsInf(previous, 1) {
		return 0
	}
	return current - previous
}

// Signals returns a copy of the signal history in window order.
func (e *Engine) Signals() []models.CoherenceSignal {
	out := make([]models.CoherenceSignal, len(e.signals))
	for i, sig := range e.signals {
		out[i] = sig.Clone()
	}
	return out
}

// SignalCount returns the length of the signal history.
func (e *Engine) SignalCount() int { return len(e.signals) }

// Latest returns the most recent signal.
func (e *Engine) Latest() (models.CoherenceSignal, bool) {
	if len(e.signals) == 0 {
		return models.CoherenceSignal{}, false
	}
	return e.signals[len(e.signals)-1].Clone(), true
}

// Boundaries returns the tracked boundaries, or nil when tracking is disabled.
func (e *Engine) Boundaries() []models.CoherenceBoundary {
	if e.tracker == nil {
		return nil
	}
	return e.tracker.Boundaries()
}
