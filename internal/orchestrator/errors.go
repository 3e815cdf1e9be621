// Package orchestrator compiles intents into operation requests, gates
// destructive work behind confirmation, and executes requests against the
// resource backend.
package orchestrator

import "errors"

var (
	// ErrRateLimited is returned when a session exceeds its operation budget.
	ErrRateLimited = errors.New("orchestrator: session rate limit exceeded")

	// ErrUnknownAction is returned when an intent carries an action kind the
	// compiler has no mapping for.
	ErrUnknownAction = errors.New("orchestrator: unknown action kind")

	// ErrNotPending is returned when confirming or rejecting a request that
	// was never gated.
	ErrNotPending = errors.New("orchestrator: request is not awaiting confirmation")

	// ErrAlreadyResolved is returned when a confirmation decision arrives for
	// a request that already left the pending state.
	ErrAlreadyResolved = errors.New("orchestrator: request already resolved")

	// ErrConfirmationExpired is returned when the confirmation window lapsed
	// before a decision arrived.
	ErrConfirmationExpired = errors.New("orchestrator: confirmation window expired")

	// ErrOperationNotFound is returned when looking up an unknown request or
	// backend operation.
	ErrOperationNotFound = errors.New("orchestrator: operation not found")
)
