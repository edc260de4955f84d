package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/coherence/internal/monitor"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /stream inside the auth group.
func NewRouter(svc *monitor.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Signals and events.
	r.Get("/signals", h.ListSignals)
	r.Get("/signals/latest", h.LatestSignal)
	r.Get("/events", h.Events)
	r.Get("/boundaries", h.Boundaries)

	// Window controller.
	r.Get("/window", h.Window)
	r.Post("/flush", h.Flush)

	// Ingestion.
	r.Post("/records", h.IngestRecords)
	r.Get("/batches", h.ListBatches)
	r.Post("/batches", h.SaveBatch)
	r.Delete("/batches/*", h.DeleteBatch)

	if sseHandler != nil {
		r.Get("/stream", sseHandler.ServeHTTP)
	}

	return r
}
