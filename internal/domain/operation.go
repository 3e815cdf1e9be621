package domain

import (
	"time"
)

// Verb is the backend operation applied to a resource.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbGet    Verb = "get"
	VerbList   Verb = "list"
	VerbPatch  Verb = "patch"
	VerbDelete Verb = "delete"
)

// Mutating reports whether the verb changes backend state. Successful
// mutating operations invalidate the resource cache entry for their target.
func (v Verb) Mutating() bool {
	switch v {
	case VerbCreate, VerbPatch, VerbDelete:
		return true
	}
	return false
}

// ConfirmationState is the confirmation gate state of an operation request.
// pending transitions exactly once, to confirmed, rejected, or expired.
type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationRejected  ConfirmationState = "rejected"
	ConfirmationExpired   ConfirmationState = "expired"
)

// Terminal reports whether the state permits no further transitions.
func (c ConfirmationState) Terminal() bool {
	return c != ConfirmationPending
}

// OperationRequest is a fully-resolved, about-to-execute command. Requests
// within one intent carry increasing Seq values and execute in that order.
type OperationRequest struct {
	RequestID    string            `json:"request_id"`
	IntentID     string            `json:"intent_id"`
	SessionID    string            `json:"session_id"`
	Seq          int               `json:"seq"`
	Verb         Verb              `json:"verb"`
	Target       ResourceRef       `json:"target"`
	Payload      Params            `json:"payload"`
	Destructive  bool              `json:"destructive"`
	Confirmation ConfirmationState `json:"confirmation"`
	Description  string            `json:"description"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ExecutionStatus is the outcome category of one operation request.
type ExecutionStatus string

const (
	ExecutionSuccess      ExecutionStatus = "success"
	ExecutionFailure      ExecutionStatus = "failure"
	ExecutionPartial      ExecutionStatus = "partial"
	ExecutionPendingAsync ExecutionStatus = "pending_async"
)

// Terminal reports whether the executor may still update the result.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailure || s == ExecutionPartial
}

// ErrorClass categorizes an execution failure for retry policy.
type ErrorClass string

const (
	ErrorClassNone      ErrorClass = ""
	ErrorClassRetryable ErrorClass = "retryable"
	ErrorClassTerminal  ErrorClass = "terminal"
)

// ExecutionResult is the outcome of exactly one OperationRequest. Only the
// operation executor writes to it, and only until it reaches a terminal
// status.
type ExecutionResult struct {
	ResultID     string          `json:"result_id"`
	RequestID    string          `json:"request_id"`
	Status       ExecutionStatus `json:"status"`
	BackendOpID  string          `json:"backend_op_id,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	ErrorClass   ErrorClass      `json:"error_class,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	LatencyMS    int64           `json:"latency_ms"`
	CompletedAt  time.Time       `json:"completed_at"`
}
