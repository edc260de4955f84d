package coherence

import (
	"errors"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/coherence/internal/apperr"
)

// Config holds the coherence engine and window settings.
type Config struct {
	// MinEdgeWeight drops lighter edges at ingestion.
	MinEdgeWeight float64 `yaml:"min_edge_weight"`
	// WindowSize is the duration of each temporal window.
	WindowSize time.Duration `yaml:"window_size"`
	// WindowStep is the distance between consecutive window starts.
	WindowStep time.Duration `yaml:"window_step"`
	// Approximate selects randomized minimum cuts for large graphs.
	Approximate bool `yaml:"approximate"`
	// Epsilon is the approximation slack; zero forces the exact algorithm.
	Epsilon float64 `yaml:"epsilon"`
	// Parallel runs approximation trials concurrently.
	Parallel bool `yaml:"parallel"`
	// TrackBoundaries enables boundary bookkeeping.
	TrackBoundaries bool `yaml:"track_boundaries"`

	ExactThreshold int           `yaml:"exact_threshold"`
	Seed           uint64        `yaml:"seed"`
	MaxTrials      int           `yaml:"max_trials"`
	TimeBudget     time.Duration `yaml:"time_budget"`

	Detection DetectionConfig `yaml:"detection"`
	Boundary  BoundaryConfig  `yaml:"boundary"`
}

// DetectionConfig tunes event classification.
type DetectionConfig struct {
	// DefaultThreshold is the delta threshold used when callers do not pass one.
	DefaultThreshold float64 `yaml:"default_threshold"`
	// CutThreshold enables ThresholdCrossed events when set.
	CutThreshold *float64 `yaml:"cut_threshold"`
	// AnomalySigma is the number of standard deviations that marks an anomaly.
	AnomalySigma float64 `yaml:"anomaly_sigma"`
	// AnomalyWindow is how many preceding deltas feed the rolling statistics.
	AnomalyWindow int `yaml:"anomaly_window"`
}

// BoundaryConfig tunes boundary matching and stability.
type BoundaryConfig struct {
	// MatchThreshold is the minimum Jaccard similarity of both sides for two
	// observations to be the same boundary.
	MatchThreshold float64 `yaml:"match_threshold"`
	// StabilityTolerance is the variance below which a boundary is stable.
	StabilityTolerance float64 `yaml:"stability_tolerance"`
	// StabilityWindow is how many recent values the variance covers.
	StabilityWindow int `yaml:"stability_window"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinEdgeWeight:   0.01,
		WindowSize:      7 * 24 * time.Hour,
		WindowStep:      24 * time.Hour,
		Approximate:     true,
		Epsilon:         0.1,
		Parallel:        true,
		TrackBoundaries: true,
		ExactThreshold:  64,
		Seed:            1,
		Detection: DetectionConfig{
			DefaultThreshold: 0.1,
			AnomalySigma:     3,
			AnomalyWindow:    10,
		},
		Boundary: BoundaryConfig{
			MatchThreshold:     0.8,
			StabilityTolerance: 0.01,
			StabilityWindow:    5,
		},
	}
}

// Validate rejects out-of-range settings. Values are never clamped.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.MinEdgeWeight, validation.By(finite), validation.Min(0.0)),
		validation.Field(&c.WindowSize, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.WindowStep, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.Epsilon, validation.By(finite), validation.Min(0.0)),
		validation.Field(&c.ExactThreshold, validation.Min(0)),
		validation.Field(&c.MaxTrials, validation.Min(0)),
		validation.Field(&c.TimeBudget, validation.Min(time.Duration(0))),
	)
	if err == nil {
		err = c.Detection.Validate()
	}
	if err == nil {
		err = c.Boundary.Validate()
	}
	if err != nil {
		return apperr.E(apperr.KindConfiguration, "coherence: config", err)
	}
	return nil
}

// Validate validates the detection settings.
func (c *DetectionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultThreshold, validation.By(finite), validation.Min(0.0)),
		validation.Field(&c.CutThreshold, validation.By(finite)),
		validation.Field(&c.AnomalySigma, validation.Required, validation.By(finite), validation.Min(0.0)),
		validation.Field(&c.AnomalyWindow, validation.Required, validation.Min(minAnomalySamples)),
	)
}

// Validate validates the boundary settings.
func (c *BoundaryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MatchThreshold, validation.Required, validation.By(finite), validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.StabilityTolerance, validation.By(finite), validation.Min(0.0)),
		validation.Field(&c.StabilityWindow, validation.Required, validation.Min(2)),
	)
}

// finite rejects NaN and infinities, which pass Min and Max unnoticed.
func finite(value any) error {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case *float64:
		if v == nil {
			return nil
		}
		f = *v
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("must be a finite number")
	}
	return nil
}
