package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

// CoherenceSignal is the result of one minimum-cut computation. Signals are
// immutable once appended to an engine's history.
type CoherenceSignal struct {
	ID             string         `json:"id"`
	Window         TemporalWindow `json:"window"`
	MinCutValue    float64        `json:"min_cut_value"`
	NodeCount      int            `json:"node_count"`
	EdgeCount      int            `json:"edge_count"`
	ComponentCount int            `json:"component_count"`
	PartitionSizes *[2]int        `json:"partition_sizes"`
	IsExact        bool           `json:"is_exact"`
	Trials         int            `json:"trials,omitempty"`
	CutNodes       []string       `json:"cut_nodes"`
	Delta          *float64       `json:"delta"`
}

// HasCut reports whether the signal carries a finite cut and a partition.
func (s CoherenceSignal) HasCut() bool {
	return s.PartitionSizes != nil && !math.IsInf(s.MinCutValue, 0)
}

// Clone returns a copy that shares no memory with s.
func (s CoherenceSignal) Clone() CoherenceSignal {
	out := s
	out.CutNodes = slices.Clone(s.CutNodes)
	if s.PartitionSizes != nil {
		sizes := *s.PartitionSizes
		out.PartitionSizes = &sizes
	}
	if s.Delta != nil {
		d := *s.Delta
		out.Delta = &d
	}
	return out
}

// MarshalJSON encodes non-finite values as "+Inf"/"-Inf" strings.
func (s CoherenceSignal) MarshalJSON() ([]byte, error) {
	type alias CoherenceSignal
	out := struct {
		alias
		MinCutValue jsonFloat  `json:"min_cut_value"`
		Delta       *jsonFloat `json:"delta"`
	}{alias: alias(s), MinCutValue: jsonFloat(s.MinCutValue)}
	if s.Delta != nil {
		d := jsonFloat(*s.Delta)
		out.Delta = &d
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON.
func (s *CoherenceSignal) UnmarshalJSON(data []byte) error {
	type alias CoherenceSignal
	in := struct {
		*alias
		MinCutValue jsonFloat  `json:"min_cut_value"`
		Delta       *jsonFloat `json:"delta"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.MinCutValue = float64(in.MinCutValue)
	s.Delta = nil
	if in.Delta != nil {
		d := float64(*in.Delta)
		s.Delta = &d
	}
	return nil
}

// EventType is the closed set of coherence event kinds.
type EventType int

const (
	EventStrengthened EventType = iota + 1
	EventWeakened
	EventSplit
	EventMerged
	EventThresholdCrossed
	EventAnomaly
)

var eventTypeNames = map[EventType]string{
	EventStrengthened:     "strengthened",
	EventWeakened:         "weakened",
	EventSplit:            "split",
	EventMerged:           "merged",
	EventThresholdCrossed: "threshold_crossed",
	EventAnomaly:          "anomaly",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType resolves the textual name of an event type.
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	name, ok := eventTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %d", int(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// CoherenceEvent is derived from the signal history on demand.
type CoherenceEvent struct {
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Nodes     []string       `json:"nodes"`
	Magnitude float64        `json:"magnitude"`
	Context   map[string]any `json:"context"`
}

// MarshalJSON encodes an infinite magnitude as a string.
func (e CoherenceEvent) MarshalJSON() ([]byte, error) {
	type alias CoherenceEvent
	ctx := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		if f, ok := v.(float64); ok {
			ctx[k] = jsonFloat(f)
			continue
		}
		ctx[k] = v
	}
	return json.Marshal(struct {
		alias
		Magnitude jsonFloat      `json:"magnitude"`
		Context   map[string]any `json:"context"`
	}{alias: alias(e), Magnitude: jsonFloat(e.Magnitude), Context: ctx})
}

// BoundaryPoint is one observation of a boundary's cut value.
type BoundaryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// CoherenceBoundary is a seam between two node groups that recurs across windows.
type CoherenceBoundary struct {
	ID           string          `json:"id"`
	SideA        []string        `json:"side_a"`
	SideB        []string        `json:"side_b"`
	CutValue     float64         `json:"cut_value"`
	History      []BoundaryPoint `json:"history"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastUpdated  time.Time       `json:"last_updated"`
	Stable       bool            `json:"stable"`
	Observations int             `json:"observations"`
}

// jsonFloat is a float64 that survives JSON even when it is not finite.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "null":
		*f = jsonFloat(math.NaN())
		return nil
	case `"+Inf"`, `"Inf"`:
		*f = jsonFloat(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = jsonFloat(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("models: decode float %s: %w", b, err)
	}
	*f = jsonFloat(v)
	return nil
}
