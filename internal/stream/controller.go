// Package stream partitions a timestamp-ordered record stream into temporal
// windows and drives the coherence engine as each window closes.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/coherence/internal/apperr"
	"github.com/starford/coherence/internal/coherence"
	"github.com/starford/coherence/internal/models"
)

// State is the controller's lifecycle state.
type State int

const (
	// StateNoWindow means no record has been seen yet.
	StateNoWindow State = iota
	// StateAccumulating means a window is open.
	StateAccumulating
)

func (s State) String() string {
	switch s {
	case StateNoWindow:
		return "no_window"
	case StateAccumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns the open window and its record buffer. Each record is
// assigned to exactly one window, even when windows overlap in time.
// It is not safe for concurrent use.
type Controller struct {
	engine *coherence.Engine
	size   time.Duration
	step   time.Duration

	open   bool
	window models.TemporalWindow
	buffer []models.Record
	// closedUntil is the end of the window preceding the open one. Only
	// [closedUntil, window.Start) is a gap; anything earlier is out of order.
	closedUntil time.Time

	logger *slog.Logger
}

// NewController returns a controller that takes its window size and step
// from the engine configuration.
func NewController(engine *coherence.Engine, opts ...Option) *Controller {
	cfg := engine.Config()
	c := &Controller{
		engine: engine,
		size:   cfg.WindowSize,
		step:   cfg.WindowStep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the driven engine.
func (c *Controller) Engine() *coherence.Engine { return c.engine }

// State returns the lifecycle state.
func (c *Controller) State() State {
	if !c.open {
		return StateNoWindow
	}
	return StateAccumulating
}

// Window returns the open window.
func (c *Controller) Window() (models.TemporalWindow, bool) {
	return c.window, c.open
}

// Pending returns the number of buffered records.
func (c *Controller) Pending() int { return len(c.buffer) }

// Accepts reports whether a record at ts would be accepted by Process rather
// than rejected as out of order.
func (c *Controller) Accepts(ts time.Time) bool {
	if !c.open || !ts.Before(c.window.Start) {
		return true
	}
	return !c.closedUntil.IsZero() && !ts.Before(c.closedUntil)
}

// Process assigns rec to the open window. A record at or past the window end
// finalizes the window first and returns its signal. Records earlier than the
// open window are rejected with an out-of-order error, except those falling in
// the gap between a closed window and the next one, which are dropped.
func (c *Controller) Process(ctx context.Context, rec models.Record) (*models.CoherenceSignal, error) {
	const op = "stream: process"

	if !c.open {
		c.window = models.NewTemporalWindow(rec.Timestamp, c.size, 0)
		c.open = true
	}

	ts := rec.Timestamp
	if ts.Before(c.window.Start) {
		if c.Accepts(ts) {
			c.dropGap(rec)
			return nil, nil
		}
		return nil, apperr.Errorf(apperr.KindOutOfOrderRecord, op,
			"record %q at %s precedes window %d starting %s",
			rec.ID, ts.Format(time.RFC3339Nano), c.window.WindowID, c.window.Start.Format(time.RFC3339Nano))
	}
	if ts.Before(c.window.End) {
		c.buffer = append(c.buffer, rec)
		return nil, nil
	}

	sig, err := c.FinalizeWindow(ctx)
	if err != nil {
		return nil, err
	}
	c.advance(ts)
	if c.window.Contains(ts) {
		c.buffer = append(c.buffer, rec)
	} else {
		c.dropGap(rec)
	}
	return sig, nil
}

// ProcessAll processes records in order and returns the emitted signals. It
// stops at the first error.
func (c *Controller) ProcessAll(ctx context.Context, records []models.Record) ([]models.CoherenceSignal, error) {
	var out []models.CoherenceSignal
	for _, rec := range records {
		sig, err := c.Process(ctx, rec)
		if err != nil {
			return out, err
		}
		if sig != nil {
			out = append(out, *sig)
		}
	}
	return out, nil
}

// FinalizeWindow rebuilds the engine graph from the buffered records and
// computes the window's signal. An empty buffer yields no signal. On failure
// the buffer is kept.
func (c *Controller) FinalizeWindow(ctx context.Context) (*models.CoherenceSignal, error) {
	if len(c.buffer) == 0 {
		return nil, nil
	}

	c.engine.Clear()
	c.engine.BuildFromRecords(c.buffer)
	signals, err := c.engine.ComputeWindow(ctx, c.window)
	if err != nil {
		return nil, err
	}

	c.logger.Info("window finalized",
		slog.Uint64("window_id", c.window.WindowID),
		slog.Time("start", c.window.Start),
		slog.Int("records", len(c.buffer)),
		slog.Int("nodes", c.engine.NodeCount()),
		slog.Int("edges", c.engine.EdgeCount()))

	c.buffer = nil
	if len(signals) == 0 {
		return nil, nil
	}
	latest := signals[len(signals)-1]
	return &latest, nil
}

// Flush finalizes the open window at end of stream and moves to the next
// window so that the flushed window is never computed twice.
func (c *Controller) Flush(ctx context.Context) (*models.CoherenceSignal, error) {
	if !c.open {
		return nil, nil
	}
	sig, err := c.FinalizeWindow(ctx)
	if err != nil {
		return nil, err
	}
	if sig != nil {
		c.next()
	}
	return sig, nil
}

// advance moves the window forward by whole steps until ts is before its end.
func (c *Controller) advance(ts time.Time) {
	for !ts.Before(c.window.End) {
		c.next()
	}
}

func (c *Controller) next() {
	c.closedUntil = c.window.End
	c.window = models.NewTemporalWindow(c.window.Start.Add(c.step), c.size, c.window.WindowID+1)
}

func (c *Controller) dropGap(rec models.Record) {
	c.logger.Debug("record between windows dropped",
		slog.String("record_id", rec.ID),
		slog.Time("timestamp", rec.Timestamp),
		slog.Uint64("next_window_id", c.window.WindowID))
}
