// Package models defines the domain types shared by the coherence engine and its adapters.
package models

import "time"

// Relationship is a weighted link from a record to another entity.
type Relationship struct {
	TargetID string  `json:"target_id" yaml:"target_id"`
	Type     string  `json:"type,omitempty" yaml:"type,omitempty"`
	Weight   float64 `json:"weight" yaml:"weight"`
}

// Record is one timestamped item of the relational stream.
type Record struct {
	ID            string         `json:"id" yaml:"id"`
	Timestamp     time.Time      `json:"timestamp" yaml:"timestamp"`
	Source        string         `json:"source,omitempty" yaml:"source,omitempty"`
	Type          string         `json:"type,omitempty" yaml:"type,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// TemporalWindow is the half-open interval [Start, End).
type TemporalWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	WindowID uint64    `json:"window_id"`
}

// NewTemporalWindow returns the window starting at start and lasting size.
func NewTemporalWindow(start time.Time, size time.Duration, id uint64) TemporalWindow {
	return TemporalWindow{Start: start, End: start.Add(size), WindowID: id}
}

// Contains reports whether t falls inside the window.
func (w TemporalWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w TemporalWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// FileMetadata describes a record file in the records directory.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
