package coherence

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/starford/coherence/internal/apperr"
	"github.com/starford/coherence/internal/models"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Approximate = false
	cfg.Parallel = false
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func addTriangle(e *Engine) {
	e.AddEdge("A", "B", 1.0)
	e.AddEdge("A", "C", 0.5)
	e.AddEdge("B", "C", 1.0)
}

func TestComputeSignals_Triangle(t *testing.T) {
	e := newTestEngine(t, testConfig())
	addTriangle(e)

	signals, err := e.ComputeSignals(context.Background())
	if err != nil {
		t.Fatalf("ComputeSignals: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(signals))
	}
	s := signals[0]
	if math.Abs(s.MinCutValue-1.5) > 1e-12 {
		t.Errorf("MinCutValue = %v, want 1.5", s.MinCutValue)
	}
	if s.NodeCount != 3 || s.EdgeCount != 3 || s.ComponentCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/3/1", s.NodeCount, s.EdgeCount, s.ComponentCount)
	}
	if s.PartitionSizes == nil || *s.PartitionSizes != [2]int{1, 2} {
		t.Errorf("PartitionSizes = %v, want [1 2]", s.PartitionSizes)
	}
	if !s.IsExact {
		t.Error("IsExact = false on the exact path")
	}
	if s.Delta != nil {
		t.Errorf("first signal has delta %v", *s.Delta)
	}
	if len(s.CutNodes) != 1 || (s.CutNodes[0] != "A" && s.CutNodes[0] != "C") {
		t.Errorf("CutNodes = %v, want the isolated node", s.CutNodes)
	}
	if s.ID != "signal_0" || s.Window.WindowID != 0 {
		t.Errorf("ID = %q window = %d", s.ID, s.Window.WindowID)
	}
	if s.Window.Duration() != e.Config().WindowSize {
		t.Errorf("synthetic window lasts %v", s.Window.Duration())
	}
}

func TestComputeSignals_Idempotent(t *testing.T) {
	e := newTestEngine(t, testConfig())
	addTriangle(e)
	ctx := context.Background()

	if _, err := e.ComputeSignals(ctx); err != nil {
		t.Fatal(err)
	}
	signals, err := e.ComputeSignals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 2 {
		t.Fatalf("len(signals) = %d, want 2", len(signals))
	}
	if signals[1].Delta == nil || *signals[1].Delta != 0 {
		t.Errorf("second delta = %v, want 0", signals[1].Delta)
	}
	if signals[0].MinCutValue != signals[1].MinCutValue {
		t.Errorf("values differ: %v vs %v", signals[0].MinCutValue, signals[1].MinCutValue)
	}
	if got := e.DetectEvents(0.1); len(got) != 0 {
		t.Errorf("DetectEvents on unchanged graph = %v", got)
	}
}

func TestComputeSignals_EmptyGraph(t *testing.T) {
	e := newTestEngine(t, testConfig())
	signals, err := e.ComputeSignals(context.Background())
	if err != nil {
		t.Fatalf("ComputeSignals: %v", err)
	}
	if len(signals) != 0 || len(e.Signals()) != 0 {
		t.Errorf("empty graph produced %v", signals)
	}
}

func TestComputeSignals_SingleNodeIsInfinite(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.AddNode("solo")
	ctx := context.Background()
	if _, err := e.ComputeSignals(ctx); err != nil {
		t.Fatal(err)
	}
	signals, err := e.ComputeSignals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s := signals[1]
	if !math.IsInf(s.MinCutValue, 1) || s.PartitionSizes != nil || len(s.CutNodes) != 0 {
		t.Errorf("single node signal = %+v", s)
	}
	if s.Delta == nil || *s.Delta != 0 {
		t.Errorf("delta between two undefined cuts = %v, want 0", s.Delta)
	}
	if len(e.Boundaries()) != 0 {
		t.Error("no boundary expected without a partition")
	}
}

func TestComputeSignals_Disconnected(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.BuildFromRecords([]models.Record{
		{ID: "a", Relationships: []models.Relationship{{TargetID: "b", Weight: 1}}},
		{ID: "c", Relationships: []models.Relationship{{TargetID: "d", Weight: 1}}},
	})
	signals, err := e.ComputeSignals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s := signals[0]
	if s.MinCutValue != 0 || s.ComponentCount != 2 {
		t.Errorf("value=%v components=%d, want 0/2", s.MinCutValue, s.ComponentCount)
	}
	if len(s.CutNodes) != 0 {
		t.Errorf("zero cut has no crossing edges, got %v", s.CutNodes)
	}
}

func TestComputeSignals_Approximate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactThreshold = 0
	cfg.Epsilon = 0.05
	e := newTestEngine(t, cfg)
	for _, off := range []string{"x", "y"} {
		for i := range 5 {
			for j := i + 1; j < 5; j++ {
				e.AddEdge(off+string(rune('0'+i)), off+string(rune('0'+j)), 1)
			}
		}
	}
	e.AddEdge("x4", "y0", 0.2)

	signals, err := e.ComputeSignals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s := signals[0]
	if s.IsExact || s.Trials == 0 {
		t.Errorf("IsExact=%v Trials=%d, want approximate", s.IsExact, s.Trials)
	}
	if math.Abs(s.MinCutValue-0.2) > 1e-9 {
		t.Errorf("MinCutValue = %v, want 0.2", s.MinCutValue)
	}
}

func TestClearKeepsHistoryResetWipes(t *testing.T) {
	e := newTestEngine(t, testConfig())
	addTriangle(e)
	if _, err := e.ComputeSignals(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.Clear()
	if e.NodeCount() != 0 || e.EdgeCount() != 0 {
		t.Errorf("Clear left %d nodes %d edges", e.NodeCount(), e.EdgeCount())
	}
	if len(e.Signals()) != 1 || len(e.Boundaries()) != 1 {
		t.Errorf("Clear dropped history: %d signals %d boundaries", len(e.Signals()), len(e.Boundaries()))
	}

	addTriangle(e)
	e.Reset()
	if e.NodeCount() != 0 || len(e.Signals()) != 0 || len(e.Boundaries()) != 0 {
		t.Error("Reset must wipe graph, history and boundaries")
	}
	if _, ok := e.Latest(); ok {
		t.Error("Latest after Reset")
	}
}

func TestComputeSignals_TracksBoundary(t *testing.T) {
	e := newTestEngine(t, testConfig())
	addTriangle(e)
	ctx := context.Background()
	for range 3 {
		if _, err := e.ComputeSignals(ctx); err != nil {
			t.Fatal(err)
		}
	}
	bs := e.Boundaries()
	if len(bs) != 1 {
		t.Fatalf("len(Boundaries) = %d, want 1", len(bs))
	}
	if bs[0].Observations != 3 || !bs[0].Stable {
		t.Errorf("boundary = %+v, want 3 stable observations", bs[0])
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 0
	if _, err := NewEngine(cfg); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("zero window: err = %v", err)
	}

	cfg = DefaultConfig()
	cfg.Epsilon = -1
	if _, err := NewEngine(cfg); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("negative epsilon: err = %v", err)
	}

	cfg = DefaultConfig()
	cfg.Boundary.MatchThreshold = 1.5
	if _, err := NewEngine(cfg); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("match threshold > 1: err = %v", err)
	}

	nan, inf := math.NaN(), math.Inf(1)
	for name, mutate := range map[string]func(*Config){
		"nan min edge weight":     func(c *Config) { c.MinEdgeWeight = nan },
		"nan epsilon":             func(c *Config) { c.Epsilon = nan },
		"inf epsilon":             func(c *Config) { c.Epsilon = inf },
		"nan default threshold":   func(c *Config) { c.Detection.DefaultThreshold = nan },
		"nan cut threshold":       func(c *Config) { c.Detection.CutThreshold = &nan },
		"nan anomaly sigma":       func(c *Config) { c.Detection.AnomalySigma = nan },
		"nan match threshold":     func(c *Config) { c.Boundary.MatchThreshold = nan },
		"inf stability tolerance": func(c *Config) { c.Boundary.StabilityTolerance = inf },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewEngine(cfg); !errors.Is(err, apperr.ErrConfiguration) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestComputeFromRecords(t *testing.T) {
	e := newTestEngine(t, testConfig())
	signals, err := e.ComputeFromRecords(context.Background(), []models.Record{
		{ID: "A", Relationships: []models.Relationship{{TargetID: "B", Weight: 1}, {TargetID: "C", Weight: 0.5}}},
		{ID: "B", Relationships: []models.Relationship{{TargetID: "C", Weight: 1}}},
		{ID: "C", Relationships: []models.Relationship{{TargetID: "A", Weight: 0.001}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.EdgeCount() != 3 {
		t.Errorf("EdgeCount = %d, want 3 (light edge dropped)", e.EdgeCount())
	}
	if math.Abs(signals[0].MinCutValue-1.5) > 1e-12 {
		t.Errorf("MinCutValue = %v", signals[0].MinCutValue)
	}
}

func TestSignals_ReturnsDeepCopies(t *testing.T) {
	e := newTestEngine(t, testConfig())
	addTriangle(e)
	ctx := context.Background()
	for range 2 {
		if _, err := e.ComputeSignals(ctx); err != nil {
			t.Fatal(err)
		}
	}

	sigs := e.Signals()
	*sigs[1].Delta = 9
	sigs[1].PartitionSizes[0] = 7
	sigs[1].CutNodes[0] = "mutated"
	latest, _ := e.Latest()
	latest.CutNodes[0] = "mutated"

	got := e.Signals()[1]
	if *got.Delta != 0 || *got.PartitionSizes != [2]int{1, 2} || got.CutNodes[0] == "mutated" {
		t.Errorf("history mutated through a returned signal: %+v", got)
	}
}
