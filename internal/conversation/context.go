// Package conversation maintains the bounded per-session context window and
// the resource mention index used for reference resolution.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/interpret"
	"github.com/maxamillion/rhails/internal/store"
)

// ErrSessionNotFound is returned when a turn references a session that does
// not exist. Sessions are never created implicitly.
var ErrSessionNotFound = errors.New("conversation: session not found")

// ErrSessionClosed is returned when appending to an archived or expired session.
var ErrSessionClosed = errors.New("conversation: session is not active")

// ResolutionStatus is the outcome of resolving a resource reference against
// the mention index.
type ResolutionStatus string

const (
	ResolutionFound     ResolutionStatus = "found"
	ResolutionAmbiguous ResolutionStatus = "ambiguous"
	ResolutionNotFound  ResolutionStatus = "not_found"
)

// Resolution is the result of resolving a name or pronoun to a resource.
type Resolution struct {
	Status     ResolutionStatus
	Ref        domain.ResourceRef
	Candidates []domain.ResourceRef
}

// mention records one resource reference observed in a session, stamped with
// the turn sequence where it appeared.
type mention struct {
	ref domain.ResourceRef
	seq int64
}

type sessionState struct {
	lastSeq  int64
	mentions []mention
}

// Manager owns session turn logs and mention tracking. The history window is
// a strict FIFO bound: only the most recent turns participate in context.
type Manager struct {
	repo  store.Repository
	limit int

	mu     sync.Mutex
	states map[string]*sessionState
}

// NewManager creates a context manager with the given window size.
func NewManager(repo store.Repository, historyLimit int) *Manager {
	return &Manager{
		repo:   repo,
		limit:  historyLimit,
		states: make(map[string]*sessionState),
	}
}

// StartSession creates a new active session for a user.
func (m *Manager) StartSession(ctx context.Context, userID string) (*domain.Session, error) {
	now := time.Now().UTC()
	session := &domain.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Status:    domain.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session, or ErrSessionNotFound.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// AppendTurn persists a turn and advances the session's sequence counter.
// The returned turn carries its assigned sequence number.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, role domain.TurnRole, content string) (*domain.Turn, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionActive {
		return nil, ErrSessionClosed
	}

	state, err := m.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	state.lastSeq++
	seq := state.lastSeq
	m.mu.Unlock()

	turn := &domain.Turn{
		TurnID:    uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	if err := m.repo.TouchSession(ctx, sessionID, turn.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	// Every appended turn feeds the mention index, so resources named
	// together in one turn tie on recency and resolve as ambiguous.
	for _, ref := range interpret.ScanMentions(content) {
		m.NoteMention(sessionID, ref, seq)
	}
	return turn, nil
}

// Window returns the session's recent turns in chronological order, bounded
// by the history limit.
func (m *Manager) Window(ctx context.Context, sessionID string) ([]*domain.Turn, error) {
	turns, err := m.repo.ListRecentTurns(ctx, sessionID, m.limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	return turns, nil
}

// NoteMention records that a resource was referenced at the given turn.
// Later mentions shadow earlier ones during resolution.
func (m *Manager) NoteMention(sessionID string, ref domain.ResourceRef, seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.states[sessionID]
	if state == nil {
		state = &sessionState{}
		m.states[sessionID] = state
	}

	// Refresh an existing mention of the same resource in place. Matching
	// ignores namespace: a text scan notes a bare name while the compiled
	// request carries the resolved namespace, and both are the same resource.
	for i := range state.mentions {
		if state.mentions[i].ref.Type == ref.Type && state.mentions[i].ref.Name == ref.Name {
			state.mentions[i].seq = seq
			if ref.Namespace != "" {
				state.mentions[i].ref.Namespace = ref.Namespace
			}
			return
		}
	}

	state.mentions = append(state.mentions, mention{ref: ref, seq: seq})
	if len(state.mentions) > m.limit {
		state.mentions = state.mentions[len(state.mentions)-m.limit:]
	}
}

// ResolveReference resolves an unnamed or pronoun reference of the given
// type to a concrete resource. The most recently mentioned matching resource
// wins; distinct resources mentioned at the same turn are ambiguous and are
// surfaced as candidates rather than guessed between.
func (m *Manager) ResolveReference(sessionID string, typ domain.ResourceType) Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.states[sessionID]
	if state == nil {
		return Resolution{Status: ResolutionNotFound}
	}

	var best []domain.ResourceRef
	var bestSeq int64 = -1
	for _, mn := range state.mentions {
		if mn.ref.Type != typ {
			continue
		}
		switch {
		case mn.seq > bestSeq:
			bestSeq = mn.seq
			best = []domain.ResourceRef{mn.ref}
		case mn.seq == bestSeq:
			best = append(best, mn.ref)
		}
	}

	switch len(best) {
	case 0:
		return Resolution{Status: ResolutionNotFound}
	case 1:
		return Resolution{Status: ResolutionFound, Ref: best[0]}
	default:
		return Resolution{Status: ResolutionAmbiguous, Candidates: best}
	}
}

// EndSession archives a session and drops its in-memory state.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	if err := m.repo.UpdateSessionStatus(ctx, sessionID, domain.SessionArchived); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	m.Forget(sessionID)
	return nil
}

// Forget drops a session's in-memory state. Persisted turns are unaffected.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.states, sessionID)
	m.mu.Unlock()
}

// state loads or initializes the in-memory counters for a session. The
// sequence counter resumes from the newest persisted turn.
func (m *Manager) state(ctx context.Context, sessionID string) (*sessionState, error) {
	m.mu.Lock()
	if state, ok := m.states[sessionID]; ok {
		m.mu.Unlock()
		return state, nil
	}
	m.mu.Unlock()

	turns, err := m.repo.ListRecentTurns(ctx, sessionID, 1)
	if err != nil {
		return nil, fmt.Errorf("load last turn: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[sessionID]; ok {
		return state, nil
	}
	state := &sessionState{}
	if len(turns) > 0 {
		state.lastSeq = turns[len(turns)-1].Seq
	}
	m.states[sessionID] = state
	return state, nil
}
