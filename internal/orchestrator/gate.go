package orchestrator

import (
	"sync"
	"time"

	"github.com/maxamillion/rhails/internal/domain"
)

// pendingEntry is one gated operation batch. The head request is the
// destructive one awaiting confirmation; successors execute after it once
// confirmed.
type pendingEntry struct {
	requests  []*domain.OperationRequest
	sessionID string
	expiresAt time.Time
}

// Gate holds destructive operation requests until the user confirms,
// rejects, or the confirmation window lapses. Each pending request resolves
// exactly once; late decisions get ErrAlreadyResolved or
// ErrConfirmationExpired, never a second execution.
type Gate struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// NewGate creates a confirmation gate with the given window.
func NewGate(window time.Duration) *Gate {
	return &Gate{
		window:  window,
		now:     time.Now,
		pending: make(map[string]*pendingEntry),
	}
}

// Submit parks a batch behind its head request's confirmation and returns
// the expiry deadline.
func (g *Gate) Submit(requests []*domain.OperationRequest) time.Time {
	head := requests[0]
	expiresAt := g.now().Add(g.window)

	g.mu.Lock()
	g.pending[head.RequestID] = &pendingEntry{
		requests:  requests,
		sessionID: head.SessionID,
		expiresAt: expiresAt,
	}
	g.mu.Unlock()

	return expiresAt
}

// Confirm resolves a pending request positively and releases its batch for
// execution. An expired entry is removed and reported; it never executes.
func (g *Gate) Confirm(requestID string) ([]*domain.OperationRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.pending[requestID]
	if !ok {
		return nil, ErrAlreadyResolved
	}
	if g.now().After(entry.expiresAt) {
		delete(g.pending, requestID)
		return nil, ErrConfirmationExpired
	}

	delete(g.pending, requestID)
	return entry.requests, nil
}

// Reject resolves a pending request negatively.
func (g *Gate) Reject(requestID string) (*domain.OperationRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.pending[requestID]
	if !ok {
		return nil, ErrAlreadyResolved
	}
	expired := g.now().After(entry.expiresAt)
	delete(g.pending, requestID)
	if expired {
		return nil, ErrConfirmationExpired
	}
	return entry.requests[0], nil
}

// Pending reports whether a request is still gated and unexpired.
func (g *Gate) Pending(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.pending[requestID]
	return ok && !g.now().After(entry.expiresAt)
}

// SweepExpired removes entries whose window has lapsed and returns their
// head requests so the caller can mark them abandoned.
func (g *Gate) SweepExpired() []*domain.OperationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	var abandoned []*domain.OperationRequest
	now := g.now()
	for id, entry := range g.pending {
		if now.After(entry.expiresAt) {
			abandoned = append(abandoned, entry.requests[0])
			delete(g.pending, id)
		}
	}
	return abandoned
}

// ExpireSession removes all pending entries for a session, returning their
// head requests. Ending a session abandons its unconfirmed work.
func (g *Gate) ExpireSession(sessionID string) []*domain.OperationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	var abandoned []*domain.OperationRequest
	for id, entry := range g.pending {
		if entry.sessionID == sessionID {
			abandoned = append(abandoned, entry.requests[0])
			delete(g.pending, id)
		}
	}
	return abandoned
}
