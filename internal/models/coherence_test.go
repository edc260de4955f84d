package models

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestSignalJSON_InfiniteCut(t *testing.T) {
	sig := CoherenceSignal{ID: "signal_0", MinCutValue: math.Inf(1), NodeCount: 1}
	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"min_cut_value":"+Inf"`) {
		t.Errorf("infinite cut not encoded as string: %s", data)
	}
	if !strings.Contains(string(data), `"delta":null`) {
		t.Errorf("absent delta should be null: %s", data)
	}

	var back CoherenceSignal
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !math.IsInf(back.MinCutValue, 1) {
		t.Errorf("MinCutValue = %v, want +Inf", back.MinCutValue)
	}
	if back.Delta != nil {
		t.Errorf("Delta = %v, want nil", *back.Delta)
	}
}

func TestSignalJSON_FiniteDelta(t *testing.T) {
	d := -0.25
	sig := CoherenceSignal{ID: "signal_1", MinCutValue: 1.5, PartitionSizes: &[2]int{1, 2}, Delta: &d}
	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back CoherenceSignal
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.MinCutValue != 1.5 || back.Delta == nil || *back.Delta != -0.25 {
		t.Errorf("decoded = %+v", back)
	}
	if back.PartitionSizes == nil || *back.PartitionSizes != [2]int{1, 2} {
		t.Errorf("partition sizes = %v", back.PartitionSizes)
	}
}

func TestEventType_Text(t *testing.T) {
	ev := CoherenceEvent{Type: EventThresholdCrossed, Timestamp: time.Unix(0, 0).UTC(), Magnitude: math.Inf(1)}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"event_type":"threshold_crossed"`) {
		t.Errorf("event type not encoded by name: %s", s)
	}
	if !strings.Contains(s, `"magnitude":"+Inf"`) {
		t.Errorf("magnitude not encoded: %s", s)
	}
	if _, err := ParseEventType("sideways"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestTemporalWindowContains(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewTemporalWindow(start, 10*time.Second, 3)
	if !w.Contains(start) {
		t.Error("start must be inside the window")
	}
	if w.Contains(start.Add(10 * time.Second)) {
		t.Error("end is exclusive")
	}
	if w.Contains(start.Add(-time.Nanosecond)) {
		t.Error("before start must be outside")
	}
	if w.Duration() != 10*time.Second {
		t.Errorf("Duration = %v", w.Duration())
	}
}
