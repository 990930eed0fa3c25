package api

import (
	"context"
	"log/slog"
	"net/http"
)

// Pinger probes one dependency's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	postgres Pinger
	index    Pinger
	embedder Pinger
	summary  map[string]any
	logger   *slog.Logger
}

// NewHealthHandler creates a new health handler. summary is the
// sanitized configuration snapshot reported by /api/health; it must
// never contain credentials.
func NewHealthHandler(postgres, index, embedder Pinger, summary map[string]any, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{postgres: postgres, index: index, embedder: embedder, summary: summary, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
	mux.HandleFunc("GET /api/health", h.detail)
}

// liveness is a liveness probe endpoint.
// Returns 200 OK if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness is a readiness probe endpoint.
// Returns 200 OK only when the primary store is reachable.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.postgres == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.postgres.Ping(r.Context()); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// detail reports per-dependency status and the sanitized config
// summary. The vector index or embedder being down degrades retrieval
// but not the service, so neither fails the overall status alone; the
// relational store does.
func (h *HealthHandler) detail(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}

	probe := func(name string, p Pinger, critical bool) {
		if p == nil {
			checks[name] = "not configured"
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Warn("health probe failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			if critical {
				status = http.StatusServiceUnavailable
			}
			return
		}
		checks[name] = "ok"
	}

	probe("postgres", h.postgres, true)
	probe("vector_index", h.index, false)
	probe("embedder", h.embedder, false)

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	} else if checks["vector_index"] == "unavailable" || checks["embedder"] == "unavailable" {
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
		"config": h.summary,
	})
}
