package api

import (
	"github.com/starford/coherence/internal/index"
	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/monitor"
)

// IngestRequest is the request body for POST /api/records.
type IngestRequest struct {
	Records []models.Record `json:"records" validate:"required"`
}

// IngestResult is the response for record and batch ingestion (aliased from the domain layer).
type IngestResult = monitor.IngestResult

// Status is the window controller state (aliased from the domain layer).
type Status = monitor.Status

// SaveBatchRequest is the request body for POST /api/batches.
type SaveBatchRequest struct {
	Name    string `json:"name" example:"2024-03-01.jsonl" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// SignalsResponse wraps the signal history.
type SignalsResponse struct {
	Signals []models.CoherenceSignal `json:"signals" validate:"required"`
	Total   int                      `json:"total" example:"42" validate:"required"`
}

// EventsResponse wraps detected events.
type EventsResponse struct {
	Events    []models.CoherenceEvent `json:"events" validate:"required"`
	Threshold float64                 `json:"threshold" example:"0.1" validate:"required"`
}

// BoundariesResponse wraps tracked boundaries.
type BoundariesResponse struct {
	Boundaries []models.CoherenceBoundary `json:"boundaries" validate:"required"`
}

// FlushResponse is returned by POST /api/flush. Signal is null when the open
// window was empty.
type FlushResponse struct {
	Signal *models.CoherenceSignal `json:"signal"`
	Events []models.CoherenceEvent `json:"events" validate:"required"`
}

// BatchListResponse wraps the indexed record files.
type BatchListResponse struct {
	Batches []index.FileRow `json:"batches" validate:"required"`
}
