// Package domain contains core domain types for the conversation
// orchestration engine.
package domain

import (
	"time"
)

// SessionStatus tracks the lifecycle of a conversation session.
type SessionStatus string

const (
	// SessionActive is a session currently accepting turns.
	SessionActive SessionStatus = "active"
	// SessionArchived is a session closed after inactivity.
	SessionArchived SessionStatus = "archived"
	// SessionExpired is a session invalidated by the auth boundary or sweeper.
	SessionExpired SessionStatus = "expired"
)

// Session represents one user's ongoing interaction.
type Session struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Open returns true if the session still accepts turns.
func (s *Session) Open() bool {
	return s.Status == SessionActive
}

// TurnRole identifies the author of a turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

// Turn is one exchange unit in a session. Turns are immutable once written:
// the store exposes no update or delete path for them.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
