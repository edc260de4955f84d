package coherence

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/starford/coherence/internal/models"
)

// minAnomalySamples is the smallest history the anomaly detector will judge against.
const minAnomalySamples = 4

// DetectEvents classifies every consecutive pair of signals in the history.
func (e *Engine) DetectEvents(threshold float64) []models.CoherenceEvent {
	return e.DetectEventsSince(threshold, 1)
}

// DetectEventsSince classifies the pairs ending at signal indexes from..len-1.
// Callers that append one signal at a time pass the index of the new signal.
func (e *Engine) DetectEventsSince(threshold float64, from int) []models.CoherenceEvent {
	if from < 1 {
		from = 1
	}
	var events []models.CoherenceEvent
	for i := from; i < len(e.signals); i++ {
		events = append(events, e.classify(i, threshold)...)
	}
	return events
}

// classify returns the events for the pair (i-1, i), in a fixed order:
// delta, component change, threshold crossing, anomaly.
func (e *Engine) classify(i int, threshold float64) []models.CoherenceEvent {
	prev, curr := e.signals[i-1], e.signals[i]
	d := signalDelta(prev, curr)
	magnitude := math.Abs(d)

	newEvent := func(t models.EventType, extra map[string]any) models.CoherenceEvent {
		ctx := map[string]any{
			"window_id":              curr.Window.WindowID,
			"previous_window_id":     prev.Window.WindowID,
			"min_cut_value":          curr.MinCutValue,
			"previous_min_cut_value": prev.MinCutValue,
			"delta":                  d,
		}
		for k, v := range extra {
			ctx[k] = v
		}
		nodes := make([]string, len(curr.CutNodes))
		copy(nodes, curr.CutNodes)
		return models.CoherenceEvent{
			Type:      t,
			Timestamp: curr.Window.Start,
			Nodes:     nodes,
			Magnitude: magnitude,
			Context:   ctx,
		}
	}

	var events []models.CoherenceEvent

	if magnitude > threshold && d != 0 {
		t := models.EventStrengthened
		if d < 0 {
			t = models.EventWeakened
		}
		events = append(events, newEvent(t, nil))
	}

	switch {
	case curr.ComponentCount > prev.ComponentCount:
		events = append(events, newEvent(models.EventSplit, map[string]any{
			"components":          curr.ComponentCount,
			"previous_components": prev.ComponentCount,
		}))
	case curr.ComponentCount < prev.ComponentCount:
		events = append(events, newEvent(models.EventMerged, map[string]any{
			"components":          curr.ComponentCount,
			"previous_components": prev.ComponentCount,
		}))
	}

	if ct := e.cfg.Detection.CutThreshold; ct != nil {
		wasBelow, isBelow := prev.MinCutValue < *ct, curr.MinCutValue < *ct
		if wasBelow != isBelow {
			direction := "up"
			if isBelow {
				direction = "down"
			}
			events = append(events, newEvent(models.EventThresholdCrossed, map[string]any{
				"threshold": *ct,
				"direction": direction,
			}))
		}
	}

	if ev, ok := e.anomaly(i, d, threshold); ok {
		events = append(events, newEvent(models.EventAnomaly, ev))
	}

	return events
}

// anomaly compares delta d of signal i against the finite deltas of the
// preceding AnomalyWindow signals.
func (e *Engine) anomaly(i int, d, threshold float64) (map[string]any, bool) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, false
	}
	lo := max(1, i-e.cfg.Detection.AnomalyWindow)
	samples := make([]float64, 0, i-lo)
	for j := lo; j < i; j++ {
		v := signalDelta(e.signals[j-1], e.signals[j])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		samples = append(samples, v)
	}
	if len(samples) < minAnomalySamples {
		return nil, false
	}

	mean, std := stat.MeanStdDev(samples, nil)
	deviation := math.Abs(d - mean)
	if std == 0 {
		if deviation > threshold && deviation > 0 {
			return map[string]any{"mean": mean, "stddev": std}, true
		}
		return nil, false
	}
	z := deviation / std
	if z <= e.cfg.Detection.AnomalySigma {
		return nil, false
	}
	return map[string]any{"mean": mean, "stddev": std, "z_score": z}, true
}

func signalDelta(prev, curr models.CoherenceSignal) float64 {
	if curr.Delta != nil {
		return *curr.Delta
	}
	return delta(curr.MinCutValue, prev.MinCutValue)
}
