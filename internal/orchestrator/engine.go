package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/audit"
	"github.com/maxamillion/rhails/internal/conversation"
	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/interpret"
	"github.com/maxamillion/rhails/internal/store"
)

// ErrForbidden is returned when an actor touches a session they do not own.
var ErrForbidden = errors.New("orchestrator: session belongs to another user")

// TurnOutcome is the engine's answer to one user turn.
type TurnOutcome struct {
	Reply                string                    `json:"reply"`
	Clarification        bool                      `json:"clarification,omitempty"`
	RequiresConfirmation bool                      `json:"requires_confirmation,omitempty"`
	RequestID            string                    `json:"request_id,omitempty"`
	ConfirmBy            time.Time                 `json:"confirm_by,omitempty"`
	Results              []*domain.ExecutionResult `json:"results,omitempty"`
}

// Config carries the engine's tunables.
type Config struct {
	RatePerMinute     int
	RateBurst         int
	SessionInactivity time.Duration
	SweepInterval     time.Duration
}

// Engine drives the full turn pipeline: interpret, compile, gate, execute,
// reply. Turns within one session are processed strictly in order.
type Engine struct {
	parser   *interpret.Parser
	compiler *Compiler
	executor *Executor
	gate     *Gate
	convo    *conversation.Manager
	repo     store.Repository
	auditw   *audit.Writer
	limiter  *sessionLimiter
	log      *slog.Logger
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the engine from its parts.
func NewEngine(parser *interpret.Parser, compiler *Compiler, executor *Executor, gate *Gate,
	convo *conversation.Manager, repo store.Repository, auditw *audit.Writer,
	log *slog.Logger, cfg Config) *Engine {
	return &Engine{
		parser:   parser,
		compiler: compiler,
		executor: executor,
		gate:     gate,
		convo:    convo,
		repo:     repo,
		auditw:   auditw,
		limiter:  newSessionLimiter(cfg.RatePerMinute, cfg.RateBurst),
		log:      log,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// StartSession opens a new conversation for a user.
func (e *Engine) StartSession(ctx context.Context, userID string) (*domain.Session, error) {
	return e.convo.StartSession(ctx, userID)
}

// ListSessions returns a user's sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return e.repo.ListSessions(ctx, userID)
}

// History returns the retained turn window of a session, oldest first.
func (e *Engine) History(ctx context.Context, actor, sessionID string) ([]*domain.Turn, error) {
	if _, err := e.ownedSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return e.convo.Window(ctx, sessionID)
}

// EndSession archives a session. Unresolved confirmations are abandoned and
// audited; they never execute afterwards.
func (e *Engine) EndSession(ctx context.Context, actor, sessionID string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.ownedSession(ctx, actor, sessionID); err != nil {
		return err
	}

	for _, req := range e.gate.ExpireSession(sessionID) {
		e.abandon(ctx, actor, req, "session_ended")
	}
	if err := e.convo.EndSession(ctx, sessionID); err != nil {
		return err
	}
	e.limiter.Forget(sessionID)
	e.forgetLock(sessionID)
	return nil
}

// HandleTurn processes one user turn end to end.
func (e *Engine) HandleTurn(ctx context.Context, actor, sessionID, text string) (*TurnOutcome, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.ownedSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}

	window, err := e.convo.Window(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userTurn, err := e.convo.AppendTurn(ctx, sessionID, domain.RoleUser, text)
	if err != nil {
		return nil, err
	}

	intent, err := e.parser.Parse(text, window)
	if err != nil {
		if errors.Is(err, interpret.ErrEmptyQuery) || errors.Is(err, interpret.ErrNoInterpretation) {
			return e.reply(ctx, sessionID, &TurnOutcome{
				Reply:         "Sorry, I couldn't work out what you'd like me to do. Could you rephrase that?",
				Clarification: true,
			})
		}
		return nil, fmt.Errorf("interpret turn: %w", err)
	}
	intent.SessionID = sessionID
	intent.TurnID = userTurn.TurnID

	outcome, err := e.compiler.Compile(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("compile intent: %w", err)
	}

	if err := e.repo.InsertIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	if outcome.Clarification != "" {
		e.auditIntent(actor, intent, text, "clarification")
		return e.reply(ctx, sessionID, &TurnOutcome{
			Reply:         outcome.Clarification,
			Clarification: true,
		})
	}

	if !e.limiter.Allow(sessionID) {
		e.auditIntent(actor, intent, text, "rate_limited")
		return nil, ErrRateLimited
	}

	for _, req := range outcome.Requests {
		if err := e.repo.InsertOperationRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("persist operation request: %w", err)
		}
		if req.Target.Name != "" {
			e.convo.NoteMention(sessionID, req.Target, userTurn.Seq)
		}
	}

	// The intent and its requests are audited before any execution begins.
	e.auditIntent(actor, intent, text, "compiled")

	head := outcome.Requests[0]
	if head.Destructive {
		confirmBy := e.gate.Submit(outcome.Requests)
		return e.reply(ctx, sessionID, &TurnOutcome{
			Reply:                confirmPrompt(head, confirmBy),
			RequiresConfirmation: true,
			RequestID:            head.RequestID,
			ConfirmBy:            confirmBy,
		})
	}

	results, reply := e.executeBatch(ctx, actor, outcome.Requests)
	return e.reply(ctx, sessionID, &TurnOutcome{Reply: reply, Results: results})
}

// Confirm resolves a pending destructive request. approve=false rejects it.
func (e *Engine) Confirm(ctx context.Context, actor, requestID string, approve bool) (*TurnOutcome, error) {
	req, err := e.repo.GetOperationRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load operation request: %w", err)
	}
	if req == nil {
		return nil, ErrOperationNotFound
	}

	lock := e.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.ownedSession(ctx, actor, req.SessionID); err != nil {
		return nil, err
	}

	if !req.Destructive {
		return nil, ErrNotPending
	}

	if !approve {
		if _, err := e.gate.Reject(requestID); err != nil {
			if errors.Is(err, ErrConfirmationExpired) {
				e.abandon(ctx, actor, req, "expired")
			}
			return nil, err
		}
		if err := e.repo.UpdateConfirmationState(ctx, requestID, domain.ConfirmationRejected); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, ErrAlreadyResolved
			}
			return nil, fmt.Errorf("persist rejection: %w", err)
		}
		e.auditw.Record(&domain.AuditRecord{
			RecordID:  uuid.NewString(),
			Stage:     domain.AuditOperationResult,
			Actor:     actor,
			SessionID: req.SessionID,
			Verb:      string(req.Verb),
			Target:    req.Target.Key(),
			Outcome:   "rejected",
		})
		return e.reply(ctx, req.SessionID, &TurnOutcome{
			Reply: fmt.Sprintf("Okay, I won't proceed. %s has been cancelled.", req.Description),
		})
	}

	batch, err := e.gate.Confirm(requestID)
	if err != nil {
		if errors.Is(err, ErrConfirmationExpired) {
			e.abandon(ctx, actor, req, "expired")
		}
		return nil, err
	}
	if err := e.repo.UpdateConfirmationState(ctx, requestID, domain.ConfirmationConfirmed); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("persist confirmation: %w", err)
	}

	results, reply := e.executeBatch(ctx, actor, batch)
	return e.reply(ctx, req.SessionID, &TurnOutcome{Reply: reply, Results: results})
}

// GetOperation returns a request together with its result, if executed yet.
func (e *Engine) GetOperation(ctx context.Context, actor, requestID string) (*domain.OperationRequest, *domain.ExecutionResult, error) {
	req, err := e.repo.GetOperationRequest(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load operation request: %w", err)
	}
	if req == nil {
		return nil, nil, ErrOperationNotFound
	}
	if _, err := e.ownedSession(ctx, actor, req.SessionID); err != nil {
		return nil, nil, err
	}

	result, err := e.repo.GetExecutionResultByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load execution result: %w", err)
	}

	// Refresh asynchronous operations on read.
	if result != nil && result.Status == domain.ExecutionPendingAsync && result.BackendOpID != "" {
		if polled, pollErr := e.executor.Poll(ctx, actor, result.BackendOpID); pollErr == nil {
			result = polled
		} else {
			e.log.Warn("polling backend operation failed",
				"backend_op_id", result.BackendOpID, "error", pollErr)
		}
	}
	return req, result, nil
}

// RunMaintenance sweeps expired confirmations and inactive sessions until
// the context is cancelled.
func (e *Engine) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	for _, req := range e.gate.SweepExpired() {
		e.abandon(ctx, "system", req, "expired")
	}

	sessions, err := e.repo.GetInactiveSessions(ctx, e.cfg.SessionInactivity)
	if err != nil {
		e.log.Error("list inactive sessions failed", "error", err)
		return
	}
	for _, session := range sessions {
		for _, req := range e.gate.ExpireSession(session.SessionID) {
			e.abandon(ctx, "system", req, "session_expired")
		}
		if err := e.repo.UpdateSessionStatus(ctx, session.SessionID, domain.SessionExpired); err != nil {
			e.log.Error("expire session failed", "session_id", session.SessionID, "error", err)
			continue
		}
		e.convo.Forget(session.SessionID)
		e.limiter.Forget(session.SessionID)
		e.forgetLock(session.SessionID)
		e.log.Info("expired inactive session",
			"session_id", session.SessionID, "user_id", session.UserID)
	}
}

// executeBatch runs requests in sequence order, stopping at the first
// non-success so later requests never run against a broken precondition.
func (e *Engine) executeBatch(ctx context.Context, actor string, batch []*domain.OperationRequest) ([]*domain.ExecutionResult, string) {
	var results []*domain.ExecutionResult
	for i, req := range batch {
		result, err := e.executor.Execute(ctx, actor, req)
		if err != nil {
			e.log.Error("execution infrastructure failure",
				"request_id", req.RequestID, "error", err)
			return results, "Something went wrong while carrying that out. Please try again."
		}
		results = append(results, result)

		if result.Status == domain.ExecutionFailure {
			reply := result.ErrorMessage
			if i < len(batch)-1 {
				reply += fmt.Sprintf(" The remaining %d step(s) were not attempted.", len(batch)-1-i)
			}
			return results, reply
		}
	}
	return results, batchReply(batch, results)
}

func (e *Engine) abandon(ctx context.Context, actor string, req *domain.OperationRequest, reason string) {
	if err := e.repo.UpdateConfirmationState(ctx, req.RequestID, domain.ConfirmationExpired); err != nil &&
		!errors.Is(err, store.ErrConflict) {
		e.log.Error("persist abandoned confirmation failed",
			"request_id", req.RequestID, "error", err)
	}
	e.auditw.Record(&domain.AuditRecord{
		RecordID:  uuid.NewString(),
		Stage:     domain.AuditRequestAbandoned,
		Actor:     actor,
		SessionID: req.SessionID,
		Verb:      string(req.Verb),
		Target:    req.Target.Key(),
		Outcome:   reason,
	})
}

func (e *Engine) auditIntent(actor string, intent *domain.Intent, text, outcome string) {
	e.auditw.Record(&domain.AuditRecord{
		RecordID:     uuid.NewString(),
		Stage:        domain.AuditIntentCompiled,
		Actor:        actor,
		SessionID:    intent.SessionID,
		OriginalText: text,
		IntentKind:   string(intent.Kind),
		Outcome:      outcome,
	})
}

// reply appends the assistant turn and returns the outcome.
func (e *Engine) reply(ctx context.Context, sessionID string, outcome *TurnOutcome) (*TurnOutcome, error) {
	if _, err := e.convo.AppendTurn(ctx, sessionID, domain.RoleAssistant, outcome.Reply); err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	return outcome, nil
}

func (e *Engine) ownedSession(ctx context.Context, actor, sessionID string) (*domain.Session, error) {
	session, err := e.convo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actor {
		return nil, ErrForbidden
	}
	return session, nil
}

// forgetLock drops a session's serialization mutex once the session is
// closed. A goroutine still holding the old mutex keeps a valid reference;
// only the map entry goes away.
func (e *Engine) forgetLock(sessionID string) {
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}
