package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/identity"
	"github.com/maxamillion/rhails/internal/orchestrator"
)

const maxQueryBytes = 16 * 1024

// RegisterRoutes mounts the orchestration API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.StartSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{sessionID}/history", h.History)
		r.Delete("/sessions/{sessionID}", h.EndSession)
		r.Post("/query", h.Query)
		r.Post("/confirm", h.Confirm)
		r.Get("/operations/{requestID}", h.GetOperation)
	})
}

// StartSession opens a new conversation session for the acting user.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	session, err := h.engine.StartSession(r.Context(), actor)
	if err != nil {
		slog.Error("start session failed", "actor", actor, "error", err)
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// ListSessions returns the acting user's sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	sessions, err := h.engine.ListSessions(r.Context(), actor)
	if err != nil {
		slog.Error("list sessions failed", "actor", actor, "error", err)
		writeEngineError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// History returns the retained turn window of a session, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	turns, err := h.engine.History(r.Context(), actor, sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if turns == nil {
		turns = []*domain.Turn{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}

// EndSession archives a session and abandons its pending confirmations.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.engine.EndSession(r.Context(), actor, sessionID); err != nil {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Query processes one natural language turn.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	// A turn without a session opens one for the acting user.
	if req.SessionID == "" {
		session, err := h.engine.StartSession(r.Context(), actor)
		if err != nil {
			slog.Error("implicit session creation failed", "actor", actor, "error", err)
			writeEngineError(w, err)
			return
		}
		req.SessionID = session.SessionID
	}

	outcome, err := h.engine.HandleTurn(r.Context(), actor, req.SessionID, req.Query)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, struct {
		SessionID string `json:"session_id"`
		*orchestrator.TurnOutcome
	}{req.SessionID, outcome})
}

type confirmRequest struct {
	RequestID string `json:"request_id"`
	Approve   bool   `json:"approve"`
}

// Confirm resolves a pending destructive operation request.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())

	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequestID == "" {
		Error(w, http.StatusBadRequest, "request_id is required")
		return
	}

	outcome, err := h.engine.Confirm(r.Context(), actor, req.RequestID, req.Approve)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, outcome)
}

// GetOperation returns an operation request with its execution result.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	requestID := chi.URLParam(r, "requestID")

	req, result, err := h.engine.GetOperation(r.Context(), actor, requestID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"request": req,
		"result":  result,
	})
}
