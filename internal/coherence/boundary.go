package coherence

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/starford/coherence/internal/models"
)

var boundaryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("coherence:boundary"))

type trackedBoundary struct {
	models.CoherenceBoundary
	setA, setB map[string]struct{}
	// originA and originB are the sides at first sighting. A seam that drifts
	// away and returns still matches them.
	originA, originB map[string]struct{}
}

// BoundaryTracker matches successive minimum-cut partitions to known
// boundaries and keeps a value history per boundary.
type BoundaryTracker struct {
	cfg        BoundaryConfig
	boundaries []*trackedBoundary
}

// NewBoundaryTracker returns an empty tracker.
func NewBoundaryTracker(cfg BoundaryConfig) *BoundaryTracker {
	return &BoundaryTracker{cfg: cfg}
}

// Reset forgets every boundary.
func (t *BoundaryTracker) Reset() { t.boundaries = nil }

// Observe records a partition seen at ts with cut value. The partition joins
// the most similar known boundary whose sides both reach the match threshold
// in either orientation; otherwise a new boundary is created.
func (t *BoundaryTracker) Observe(ts time.Time, sideA, sideB []string, value float64) (models.CoherenceBoundary, bool) {
	a, b := sorted(sideA), sorted(sideB)
	setA, setB := toSet(a), toSet(b)

	var (
		best    *trackedBoundary
		bestSim = -1.0
		swapped bool
	)
	for _, tb := range t.boundaries {
		sim, sw := similarity(setA, setB, tb.setA, tb.setB)
		if osim, osw := similarity(setA, setB, tb.originA, tb.originB); osim > sim {
			sim, sw = osim, osw
		}
		if sim >= t.cfg.MatchThreshold && sim > bestSim {
			best, bestSim, swapped = tb, sim, sw
		}
	}

	point := models.BoundaryPoint{Timestamp: ts, Value: value}
	if best == nil {
		tb := &trackedBoundary{
			CoherenceBoundary: models.CoherenceBoundary{
				ID:           t.newID(a, b),
				SideA:        a,
				SideB:        b,
				CutValue:     value,
				History:      []models.BoundaryPoint{point},
				FirstSeen:    ts,
				LastUpdated:  ts,
				Observations: 1,
			},
			setA:    setA,
			setB:    setB,
			originA: setA,
			originB: setB,
		}
		t.boundaries = append(t.boundaries, tb)
		return tb.snapshot(), true
	}

	if swapped {
		a, b = b, a
		setA, setB = setB, setA
	}
	best.SideA, best.SideB = a, b
	best.setA, best.setB = setA, setB
	best.CutValue = value
	best.History = append(best.History, point)
	best.LastUpdated = ts
	best.Observations++
	best.Stable = t.stable(best.History)
	return best.snapshot(), false
}

// stable reports whether the recent cut values vary less than the tolerance.
func (t *BoundaryTracker) stable(history []models.BoundaryPoint) bool {
	if len(history) < 2 {
		return false
	}
	recent := history[max(0, len(history)-t.cfg.StabilityWindow):]
	values := make([]float64, len(recent))
	for i, p := range recent {
		values[i] = p.Value
	}
	return stat.Variance(values, nil) < t.cfg.StabilityTolerance
}

// Boundaries returns snapshots of all tracked boundaries in creation order.
func (t *BoundaryTracker) Boundaries() []models.CoherenceBoundary {
	out := make([]models.CoherenceBoundary, len(t.boundaries))
	for i, tb := range t.boundaries {
		out[i] = tb.snapshot()
	}
	return out
}

func (tb *trackedBoundary) snapshot() models.CoherenceBoundary {
	b := tb.CoherenceBoundary
	b.SideA = slices.Clone(b.SideA)
	b.SideB = slices.Clone(b.SideB)
	b.History = slices.Clone(b.History)
	return b
}

// newID derives the id from the sides, folding in a sequence number while
// that id is taken.
func (t *BoundaryTracker) newID(a, b []string) string {
	id := boundaryID(a, b)
	for seq := len(t.boundaries); t.hasID(id); seq++ {
		id = uuid.NewSHA1(boundaryNamespace, []byte(id+"\x1e"+strconv.Itoa(seq))).String()
	}
	return id
}

func (t *BoundaryTracker) hasID(id string) bool {
	return slices.ContainsFunc(t.boundaries, func(tb *trackedBoundary) bool { return tb.ID == id })
}

// similarity is the smaller Jaccard index of the two sides, taking the better
// orientation. swapped reports that a matches y and b matches x.
func similarity(a, b, x, y map[string]struct{}) (sim float64, swapped bool) {
	straight := min(jaccard(a, x), jaccard(b, y))
	crossed := min(jaccard(a, y), jaccard(b, x))
	if crossed > straight {
		return crossed, true
	}
	return straight, false
}

func boundaryID(a, b []string) string {
	x, y := strings.Join(a, "\x1f"), strings.Join(b, "\x1f")
	if y < x {
		x, y = y, x
	}
	return uuid.NewSHA1(boundaryNamespace, []byte(x+"\x1e"+y)).String()
}

func sorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func jaccard(x, y map[string]struct{}) float64 {
	if len(x) == 0 && len(y) == 0 {
		return 1
	}
	inter := 0
	for k := range x {
		if _, ok := y[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(x)+len(y)-inter)
}
