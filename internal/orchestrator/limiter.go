package orchestrator

import (
	"sync"

	"golang.org/x/time/rate"
)

// sessionLimiter throttles operation submission per session with a token
// bucket. Queries and clarifications are not counted; only compiled
// operations draw tokens.
type sessionLimiter struct {
	perMinute int
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newSessionLimiter(perMinute, burst int) *sessionLimiter {
	return &sessionLimiter{
		perMinute: perMinute,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the session may submit another operation now.
func (l *sessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
		l.limiters[sessionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget releases the limiter state for an ended session.
func (l *sessionLimiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.limiters, sessionID)
	l.mu.Unlock()
}
