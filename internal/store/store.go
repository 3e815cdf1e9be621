// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/maxamillion/rhails/internal/domain"
)

// ErrConflict is returned when an optimistic state transition loses the race,
// e.g. confirming an operation request that is no longer pending.
var ErrConflict = errors.New("store: conflicting state transition")

// Repository defines the interface for persisting conversation and operation data.
type Repository interface {
	// CreateSession inserts a new conversation session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns all sessions owned by a user, newest first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// TouchSession bumps the session's updated_at timestamp.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// UpdateSessionStatus transitions a session's lifecycle status.
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error

	// GetInactiveSessions returns active sessions idle longer than the threshold.
	GetInactiveSessions(ctx context.Context, olderThan time.Duration) ([]*domain.Session, error)

	// AppendTurn appends a turn to a session's log. Turns are immutable.
	AppendTurn(ctx context.Context, turn *domain.Turn) error

	// ListRecentTurns returns the most recent turns of a session in
	// chronological order, at most limit.
	ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error)

	// InsertIntent records a compiled intent.
	InsertIntent(ctx context.Context, intent *domain.Intent) error

	// InsertOperationRequest records a compiled operation request.
	InsertOperationRequest(ctx context.Context, req *domain.OperationRequest) error

	// GetOperationRequest retrieves a request by ID. Returns (nil, nil) when absent.
	GetOperationRequest(ctx context.Context, requestID string) (*domain.OperationRequest, error)

	// UpdateConfirmationState transitions a request's confirmation state.
	// The update only applies while the stored state is still pending;
	// otherwise ErrConflict is returned.
	UpdateConfirmationState(ctx context.Context, requestID string, state domain.ConfirmationState) error

	// InsertExecutionResult records the outcome of an executed request.
	InsertExecutionResult(ctx context.Context, result *domain.ExecutionResult) error

	// GetExecutionResultByRequest retrieves the result for a request, if any.
	GetExecutionResultByRequest(ctx context.Context, requestID string) (*domain.ExecutionResult, error)

	// GetExecutionResultByBackendOp retrieves a result by its backend operation ID.
	GetExecutionResultByBackendOp(ctx context.Context, backendOpID string) (*domain.ExecutionResult, error)

	// UpdateExecutionResult finalizes a previously pending result.
	UpdateExecutionResult(ctx context.Context, result *domain.ExecutionResult) error

	// InsertAuditRecord appends a record to the audit trail. Records are
	// never updated or deleted.
	InsertAuditRecord(ctx context.Context, record *domain.AuditRecord) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
