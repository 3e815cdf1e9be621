package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maxamillion/rhails/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	backend interface {
		Ping(ctx context.Context) error
	}
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, backend interface {
	Ping(ctx context.Context) error
}) *HealthHandler {
	return &HealthHandler{repo: repo, backend: backend}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("health check failed", "dependency", "database", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.backend != nil {
		if err := h.backend.Ping(ctx); err != nil {
			slog.Error("health check failed", "dependency", "backend", "error", err)
			checks["backend"] = "unreachable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["backend"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}
