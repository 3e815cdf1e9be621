package domain

import (
	"time"
)

// AuditStage marks which point of the pipeline produced a record.
type AuditStage string

const (
	// AuditIntentCompiled is written after an intent (and its operation
	// request set) is produced, before any execution begins.
	AuditIntentCompiled AuditStage = "intent_compiled"
	// AuditOperationResult is written for every terminal execution result
	// and for every transition into pending_async.
	AuditOperationResult AuditStage = "operation_result"
	// AuditRequestAbandoned is written when a pending confirmation expires
	// or its session ends before resolution.
	AuditRequestAbandoned AuditStage = "request_abandoned"
)

// AuditRecord is an immutable compliance entry. The store exposes insert
// only; no update or delete path exists at any layer. Audit records carry no
// foreign keys so retention never depends on the conversational tables.
type AuditRecord struct {
	RecordID     string     `json:"record_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Stage        AuditStage `json:"stage"`
	Actor        string     `json:"actor"`
	SessionID    string     `json:"session_id"`
	OriginalText string     `json:"original_text,omitempty"`
	IntentKind   string     `json:"intent_kind,omitempty"`
	Verb         string     `json:"verb,omitempty"`
	Target       string     `json:"target,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
}
