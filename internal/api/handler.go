// Package api provides HTTP handlers for the conversation orchestration API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxamillion/rhails/internal/conversation"
	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/orchestrator"
)

// Orchestrator is the engine surface the handlers need. Narrow by intent so
// tests can substitute a fake.
type Orchestrator interface {
	StartSession(ctx context.Context, userID string) (*domain.Session, error)
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	History(ctx context.Context, actor, sessionID string) ([]*domain.Turn, error)
	EndSession(ctx context.Context, actor, sessionID string) error
	HandleTurn(ctx context.Context, actor, sessionID, text string) (*orchestrator.TurnOutcome, error)
	Confirm(ctx context.Context, actor, requestID string, approve bool) (*orchestrator.TurnOutcome, error)
	GetOperation(ctx context.Context, actor, requestID string) (*domain.OperationRequest, *domain.ExecutionResult, error)
}

// Handler provides common handler utilities.
type Handler struct {
	engine Orchestrator
}

// NewHandler creates a new Handler.
func NewHandler(engine Orchestrator) *Handler {
	return &Handler{engine: engine}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps engine errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, orchestrator.ErrOperationNotFound):
		Error(w, http.StatusNotFound, "operation not found")
	case errors.Is(err, orchestrator.ErrForbidden):
		Error(w, http.StatusForbidden, "session belongs to another user")
	case errors.Is(err, orchestrator.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "too many operations, slow down")
	case errors.Is(err, orchestrator.ErrAlreadyResolved), errors.Is(err, orchestrator.ErrNotPending):
		Error(w, http.StatusConflict, "request already resolved")
	case errors.Is(err, orchestrator.ErrConfirmationExpired):
		Error(w, http.StatusGone, "confirmation window expired")
	case errors.Is(err, conversation.ErrSessionClosed):
		Error(w, http.StatusConflict, "session is no longer active")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
