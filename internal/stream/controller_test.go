package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/starford/coherence/internal/apperr"
	"github.com/starford/coherence/internal/coherence"
	"github.com/starford/coherence/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newController(t *testing.T, size, step time.Duration) *Controller {
	t.Helper()
	cfg := coherence.DefaultConfig()
	cfg.WindowSize = size
	cfg.WindowStep = step
	cfg.Approximate = false
	cfg.Parallel = false
	e, err := coherence.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewController(e)
}

func rec(id string, at time.Duration, targets ...string) models.Record {
	r := models.Record{ID: id, Timestamp: t0.Add(at)}
	for _, tgt := range targets {
		r.Relationships = append(r.Relationships, models.Relationship{TargetID: tgt, Weight: 1})
	}
	return r
}

func TestProcess_TumblingRollover(t *testing.T) {
	c := newController(t, 10*time.Second, 10*time.Second)
	ctx := context.Background()

	if c.State() != StateNoWindow {
		t.Fatalf("initial state = %v", c.State())
	}
	for i := range 5 {
		id := fmt.Sprintf("n%d", i)
		next := fmt.Sprintf("n%d", (i+1)%5)
		sig, err := c.Process(ctx, rec(id, time.Duration(2*i)*time.Second, next))
		if err != nil {
			t.Fatalf("Process(%s): %v", id, err)
		}
		if sig != nil {
			t.Fatalf("record %d emitted a signal inside the window", i)
		}
	}
	if c.State() != StateAccumulating || c.Pending() != 5 {
		t.Fatalf("state=%v pending=%d", c.State(), c.Pending())
	}

	sig, err := c.Process(ctx, rec("x", 10*time.Second, "y"))
	if err != nil {
		t.Fatalf("Process(x): %v", err)
	}
	if sig == nil {
		t.Fatal("record at window end must finalize the window")
	}
	if sig.Window.WindowID != 0 || !sig.Window.Start.Equal(t0) {
		t.Errorf("signal window = %+v, want window 0 at t0", sig.Window)
	}
	if sig.NodeCount != 5 || sig.EdgeCount != 5 || sig.MinCutValue != 2 {
		t.Errorf("signal = nodes %d edges %d cut %v, want 5/5/2", sig.NodeCount, sig.EdgeCount, sig.MinCutValue)
	}

	w, ok := c.Window()
	if !ok || w.WindowID != 1 || !w.Start.Equal(t0.Add(10*time.Second)) {
		t.Errorf("open window = %+v", w)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want only the triggering record", c.Pending())
	}
}

func TestProcess_OutOfOrder(t *testing.T) {
	c := newController(t, 10*time.Second, 10*time.Second)
	ctx := context.Background()
	if _, err := c.Process(ctx, rec("a", 100*time.Second, "b")); err != nil {
		t.Fatal(err)
	}
	_, err := c.Process(ctx, rec("late", 50*time.Second, "b"))
	if !errors.Is(err, apperr.ErrOutOfOrderRecord) {
		t.Fatalf("err = %v, want out of order", err)
	}
	if c.Pending() != 1 {
		t.Errorf("rejected record was buffered: pending = %d", c.Pending())
	}
}

func TestProcess_OutOfOrderAfterSkippedWindows(t *testing.T) {
	c := newController(t, 10*time.Second, 10*time.Second)
	ctx := context.Background()
	if _, err := c.Process(ctx, rec("a", 0, "b")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Process(ctx, rec("c", 100*time.Second, "d")); err != nil {
		t.Fatal(err)
	}

	for _, at := range []time.Duration{5 * time.Second, 50 * time.Second, 95 * time.Second} {
		if c.Accepts(t0.Add(at)) {
			t.Errorf("Accepts(+%v) = true for a skipped window", at)
		}
		_, err := c.Process(ctx, rec("late", at, "b"))
		if !errors.Is(err, apperr.ErrOutOfOrderRecord) {
			t.Errorf("Process(+%v): err = %v, want out of order", at, err)
		}
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
}

func TestProcess_GapAfterSkippedWindows(t *testing.T) {
	c := newController(t, 5*time.Second, 10*time.Second)
	ctx := context.Background()
	if _, err := c.Process(ctx, rec("a", 0, "b")); err != nil {
		t.Fatal(err)
	}
	// Windows [10,15) [20,25) [30,35) are skipped; [40,45) opens.
	if _, err := c.Process(ctx, rec("c", 42*time.Second, "d")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Process(ctx, rec("gap", 37*time.Second, "d")); err != nil {
		t.Errorf("record in the last gap: err = %v", err)
	}
	for _, at := range []time.Duration{17 * time.Second, 32 * time.Second} {
		if _, err := c.Process(ctx, rec("late", at, "d")); !errors.Is(err, apperr.ErrOutOfOrderRecord) {
			t.Errorf("Process(+%v): err = %v, want out of order", at, err)
		}
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
}

func TestProcess_SkipsEmptyWindows(t *testing.T) {
	c := newController(t, 10*time.Second, 10*time.Second)
	ctx := context.Background()
	if _, err := c.Process(ctx, rec("a", 0, "b")); err != nil {
		t.Fatal(err)
	}
	sig, err := c.Process(ctx, rec("c", 35*time.Second, "d"))
	if err != nil || sig == nil {
		t.Fatalf("sig=%v err=%v", sig, err)
	}
	w, _ := c.Window()
	if w.WindowID != 3 || !w.Contains(t0.Add(35*time.Second)) {
		t.Errorf("window = %+v, want id 3 containing the record", w)
	}
}

func TestProcess_GapBetweenWindows(t *testing.T) {
	c := newController(t, 5*time.Second, 10*time.Second)
	ctx := context.Background()

	if _, err := c.Process(ctx, rec("a", 0, "b")); err != nil {
		t.Fatal(err)
	}
	sig, err := c.Process(ctx, rec("g1", 6*time.Second, "b"))
	if err != nil || sig == nil {
		t.Fatalf("sig=%v err=%v", sig, err)
	}
	if _, err := c.Process(ctx, rec("g2", 7*time.Second, "b")); err != nil {
		t.Fatalf("gap record rejected: %v", err)
	}
	if c.Pending() != 0 {
		t.Errorf("gap records buffered: %d", c.Pending())
	}
	if _, err := c.Process(ctx, rec("c", 12*time.Second, "d")); err != nil {
		t.Fatal(err)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
	if _, err := c.Process(ctx, rec("old", 3*time.Second, "d")); !errors.Is(err, apperr.ErrOutOfOrderRecord) {
		t.Errorf("record from a closed window: err = %v", err)
	}
}

func TestProcess_OverlappingWindows(t *testing.T) {
	c := newController(t, 10*time.Second, 5*time.Second)
	ctx := context.Background()
	if _, err := c.Process(ctx, rec("a", 0, "b")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Process(ctx, rec("c", 10*time.Second, "d")); err != nil {
		t.Fatal(err)
	}
	w, _ := c.Window()
	if w.WindowID != 1 || !w.Start.Equal(t0.Add(5*time.Second)) {
		t.Errorf("window = %+v, want id 1 starting at +5s", w)
	}
}

func TestFinalizeWindow_Empty(t *testing.T) {
	c := newController(t, time.Minute, time.Minute)
	sig, err := c.FinalizeWindow(context.Background())
	if sig != nil || err != nil {
		t.Errorf("empty finalize = %v, %v", sig, err)
	}
}

func TestFlush(t *testing.T) {
	c := newController(t, time.Minute, time.Minute)
	ctx := context.Background()

	signals, err := c.ProcessAll(ctx, []models.Record{rec("a", 0, "b"), rec("b", time.Second, "c")})
	if err != nil || len(signals) != 0 {
		t.Fatalf("signals=%v err=%v", signals, err)
	}
	sig, err := c.Flush(ctx)
	if err != nil || sig == nil {
		t.Fatalf("Flush = %v, %v", sig, err)
	}
	if sig.NodeCount != 3 || sig.Window.WindowID != 0 {
		t.Errorf("flushed signal = %+v", sig)
	}
	if again, _ := c.Flush(ctx); again != nil {
		t.Error("second flush must not emit")
	}
	if w, _ := c.Window(); w.WindowID != 1 {
		t.Errorf("window after flush = %d, want 1", w.WindowID)
	}
	if got := len(c.Engine().Signals()); got != 1 {
		t.Errorf("engine history = %d signals", got)
	}
}

func TestAccepts(t *testing.T) {
	c := newController(t, 5*time.Second, 10*time.Second)
	if !c.Accepts(t0) {
		t.Error("first record must be accepted")
	}
	ctx := context.Background()
	_, _ = c.Process(ctx, rec("a", 0, "b"))
	_, _ = c.Process(ctx, rec("b", 12*time.Second, "c"))

	for at, want := range map[time.Duration]bool{
		3 * time.Second:  false,
		6 * time.Second:  true,
		12 * time.Second: true,
	} {
		if got := c.Accepts(t0.Add(at)); got != want {
			t.Errorf("Accepts(+%v) = %v, want %v", at, got, want)
		}
	}
}
