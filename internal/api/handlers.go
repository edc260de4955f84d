package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/monitor"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *monitor.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *monitor.Service) *Handler {
	return &Handler{svc: svc}
}

// batchName extracts the batch path from the URL (everything after /api/batches/).
// Supports encoded slashes from OpenAPI clients (e.g. 2024%2F03.jsonl).
func batchName(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListSignals handles GET /api/signals.
//
//	@Summary		List computed coherence signals, oldest first
//	@Tags			signals
//	@Produce		json
//	@Param			limit	query		int	false	"Return only the most recent N signals"
//	@Success		200		{object}	SignalsResponse
//	@Security		BearerAuth
//	@Router			/signals [get]
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	signals := h.svc.Signals()
	total := len(signals)
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 && limit < total {
		signals = signals[total-limit:]
	}
	writeJSON(w, http.StatusOK, SignalsResponse{Signals: signals, Total: total})
}

// LatestSignal handles GET /api/signals/latest.
//
//	@Summary		Get the most recent coherence signal
//	@Tags			signals
//	@Produce		json
//	@Success		200	{object}	models.CoherenceSignal
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/signals/latest [get]
func (h *Handler) LatestSignal(w http.ResponseWriter, _ *http.Request) {
	sig, err := h.svc.Latest()
	if err != nil {
		writeError(w, "latest signal", err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// Events handles GET /api/events.
//
//	@Summary		Detect coherence events over the signal history
//	@Tags			events
//	@Produce		json
//	@Param			threshold	query		number	false	"Minimum |delta| for strengthened/weakened events"
//	@Success		200			{object}	EventsResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/events [get]
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	threshold := h.svc.Config().Detection.DefaultThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			writeJSON(w, http.StatusBadRequest, errorBody("threshold must be a non-negative number"))
			return
		}
		threshold = v
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: h.svc.Events(threshold), Threshold: threshold})
}

// Boundaries handles GET /api/boundaries.
//
//	@Summary		List tracked coherence boundaries
//	@Tags			boundaries
//	@Produce		json
//	@Success		200	{object}	BoundariesResponse
//	@Security		BearerAuth
//	@Router			/boundaries [get]
func (h *Handler) Boundaries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BoundariesResponse{Boundaries: h.svc.Boundaries()})
}

// Window handles GET /api/window.
//
//	@Summary		Get the window controller state
//	@Tags			window
//	@Produce		json
//	@Success		200	{object}	Status
//	@Security		BearerAuth
//	@Router			/window [get]
func (h *Handler) Window(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Flush handles POST /api/flush.
//
//	@Summary		Finalize the open window
//	@Tags			window
//	@Produce		json
//	@Success		200	{object}	FlushResponse
//	@Security		BearerAuth
//	@Router			/flush [post]
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	sig, events, err := h.svc.Flush(r.Context())
	if err != nil {
		writeError(w, "flush", err)
		return
	}
	if events == nil {
		events = []models.CoherenceEvent{}
	}
	writeJSON(w, http.StatusOK, FlushResponse{Signal: sig, Events: events})
}

// IngestRecords handles POST /api/records.
//
//	@Summary		Ingest timestamped records
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestRequest	true	"Records to ingest"
//	@Success		200		{object}	IngestResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records [post]
func (h *Handler) IngestRecords(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("records are required"))
		return
	}
	res, err := h.svc.Ingest(r.Context(), req.Records)
	if err != nil {
		writeError(w, "ingest records", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListBatches handles GET /api/batches.
//
//	@Summary		List indexed record files
//	@Tags			batches
//	@Produce		json
//	@Success		200	{object}	BatchListResponse
//	@Security		BearerAuth
//	@Router			/batches [get]
func (h *Handler) ListBatches(w http.ResponseWriter, _ *http.Request) {
	files, err := h.svc.ListBatches()
	if err != nil {
		writeError(w, "list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, BatchListResponse{Batches: files})
}

// SaveBatch handles POST /api/batches.
//
//	@Summary		Store a record file and ingest its new records
//	@Tags			batches
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveBatchRequest	true	"Record file"
//	@Success		201		{object}	IngestResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/batches [post]
func (h *Handler) SaveBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SaveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and content are required"))
		return
	}
	res, err := h.svc.SaveBatch(r.Context(), req.Name, []byte(req.Content))
	if err != nil {
		writeError(w, "save batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// DeleteBatch handles DELETE /api/batches/*.
//
//	@Summary		Delete a record file; its records stay in the history
//	@Tags			batches
//	@Param			path	path	string	true	"Batch path"
//	@Success		204		"Batch deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/batches/{path} [delete]
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	name := batchName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteBatch(name); err != nil {
		writeError(w, "delete batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
