package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL with a busy timeout on every pool connection. modernc only
	// understands the _pragma=name(value) query form.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON conversation_sessions(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON conversation_sessions(status, updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		turn_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS user_intents (
		intent_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		raw_targets TEXT,
		params TEXT NOT NULL,
		confidence REAL NOT NULL,
		ambiguities TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intents_session ON user_intents(session_id, created_at);

	CREATE TABLE IF NOT EXISTS operation_requests (
		request_id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		verb TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_namespace TEXT NOT NULL,
		target_name TEXT NOT NULL,
		payload TEXT NOT NULL,
		destructive INTEGER NOT NULL DEFAULT 0,
		confirmation TEXT NOT NULL,
		description TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_intent ON operation_requests(intent_id, seq);
	CREATE INDEX IF NOT EXISTS idx_requests_session ON operation_requests(session_id, created_at);

	CREATE TABLE IF NOT EXISTS execution_results (
		result_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		backend_op_id TEXT,
		summary TEXT,
		error_class TEXT,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_backend_op ON execution_results(backend_op_id) WHERE backend_op_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS audit_records (
		record_id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		stage TEXT NOT NULL,
		actor TEXT NOT NULL,
		session_id TEXT NOT NULL,
		original_text TEXT,
		intent_kind TEXT,
		verb TEXT,
		target TEXT,
		outcome TEXT,
		error_message TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id, ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new conversation session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO conversation_sessions (session_id, user_id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.UserID, string(session.Status),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, status, created_at, updated_at
		FROM conversation_sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions owned by a user, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT session_id, user_id, status, created_at, updated_at
		FROM conversation_sessions WHERE user_id = ?
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "user sessions")

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// TouchSession bumps the session's updated_at timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE conversation_sessions SET updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// UpdateSessionStatus transitions a session's lifecycle status.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	query := `UPDATE conversation_sessions SET status = ?, updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// GetInactiveSessions returns active sessions idle longer than the threshold.
func (s *SQLiteStore) GetInactiveSessions(ctx context.Context, olderThan time.Duration) ([]*domain.Session, error) {
	threshold := time.Now().Add(-olderThan).Unix()
	query := `
		SELECT session_id, user_id, status, created_at, updated_at
		FROM conversation_sessions
		WHERE status = ? AND updated_at < ?`

	rows, err := s.db.QueryContext(ctx, query, string(domain.SessionActive), threshold)
	if err != nil {
		return nil, fmt.Errorf("query inactive sessions: %w", err)
	}
	defer closeRows(rows, "inactive sessions")

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inactive session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inactive sessions: %w", err)
	}
	return sessions, nil
}

// AppendTurn appends a turn to a session's log.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	query := `
	INSERT INTO turns (turn_id, session_id, seq, role, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	err := s.execWithRetry(ctx, query,
		turn.TurnID, turn.SessionID, turn.Seq,
		string(turn.Role), turn.Content, turn.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// execWithRetry retries writes that hit SQLite concurrency errors with
// exponential backoff: 100ms, 200ms, 400ms.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("retrying write after sqlite conflict", "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return err
}

// ListRecentTurns returns the last limit turns of a session in chronological order.
func (s *SQLiteStore) ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error) {
	// Select the newest turns, then reverse into chronological order.
	query := `
		SELECT turn_id, session_id, seq, role, content, created_at
		FROM turns WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer closeRows(rows, "recent turns")

	var turns []*domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role string
		var createdAt int64

		if err := rows.Scan(
			&turn.TurnID, &turn.SessionID, &turn.Seq,
			&role, &turn.Content, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Role = domain.TurnRole(role)
		turn.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// InsertIntent records a compiled intent.
func (s *SQLiteStore) InsertIntent(ctx context.Context, intent *domain.Intent) error {
	rawTargets, err := json.Marshal(intent.RawTargets)
	if err != nil {
		return fmt.Errorf("marshal raw targets: %w", err)
	}
	params, err := json.Marshal(intent.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	ambiguities, err := json.Marshal(intent.Ambiguities)
	if err != nil {
		return fmt.Errorf("marshal ambiguities: %w", err)
	}

	query := `
	INSERT INTO user_intents (
		intent_id, session_id, turn_id, kind,
		raw_targets, params, confidence, ambiguities, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		intent.IntentID, intent.SessionID, intent.TurnID, string(intent.Kind),
		string(rawTargets), string(params), intent.Confidence,
		string(ambiguities), intent.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

// InsertOperationRequest records a compiled operation request.
func (s *SQLiteStore) InsertOperationRequest(ctx context.Context, req *domain.OperationRequest) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
	INSERT INTO operation_requests (
		request_id, intent_id, session_id, seq, verb,
		target_type, target_namespace, target_name,
		payload, destructive, confirmation, description, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		req.RequestID, req.IntentID, req.SessionID, req.Seq, string(req.Verb),
		string(req.Target.Type), req.Target.Namespace, req.Target.Name,
		string(payload), boolToInt(req.Destructive),
		string(req.Confirmation), req.Description, req.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert operation request: %w", err)
	}
	return nil
}

// GetOperationRequest retrieves a request by ID.
func (s *SQLiteStore) GetOperationRequest(ctx context.Context, requestID string) (*domain.OperationRequest, error) {
	query := `
		SELECT request_id, intent_id, session_id, seq, verb,
		       target_type, target_namespace, target_name,
		       payload, destructive, confirmation, description, created_at
		FROM operation_requests WHERE request_id = ?`

	row := s.db.QueryRowContext(ctx, query, requestID)

	var req domain.OperationRequest
	var verb, targetType, payload, confirmation string
	var destructive int
	var createdAt int64

	err := row.Scan(
		&req.RequestID, &req.IntentID, &req.SessionID, &req.Seq, &verb,
		&targetType, &req.Target.Namespace, &req.Target.Name,
		&payload, &destructive, &confirmation, &req.Description, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan operation request row: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	req.Verb = domain.Verb(verb)
	req.Target.Type = domain.ResourceType(targetType)
	req.Destructive = destructive != 0
	req.Confirmation = domain.ConfirmationState(confirmation)
	req.CreatedAt = time.Unix(createdAt, 0)

	return &req, nil
}

// UpdateConfirmationState transitions a request out of the pending state.
// Optimistic: the write applies only while the stored state is still pending.
func (s *SQLiteStore) UpdateConfirmationState(ctx context.Context, requestID string, state domain.ConfirmationState) error {
	query := `
	UPDATE operation_requests SET confirmation = ?
	WHERE request_id = ? AND confirmation = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(state), requestID, string(domain.ConfirmationPending))
	if err != nil {
		return fmt.Errorf("update confirmation state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// InsertExecutionResult records the outcome of an executed request.
func (s *SQLiteStore) InsertExecutionResult(ctx context.Context, result *domain.ExecutionResult) error {
	query := `
	INSERT INTO execution_results (
		result_id, request_id, status, backend_op_id, summary,
		error_class, error_message, retry_count, latency_ms, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		result.ResultID, result.RequestID, string(result.Status),
		nullable(result.BackendOpID), nullable(result.Summary),
		nullable(string(result.ErrorClass)), nullable(result.ErrorMessage),
		result.RetryCount, result.LatencyMS, result.CompletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert execution result: %w", err)
	}
	return nil
}

// GetExecutionResultByRequest retrieves the result for a request, if any.
func (s *SQLiteStore) GetExecutionResultByRequest(ctx context.Context, requestID string) (*domain.ExecutionResult, error) {
	return s.getExecutionResult(ctx, `request_id`, requestID)
}

// GetExecutionResultByBackendOp retrieves a result by its backend operation ID.
func (s *SQLiteStore) GetExecutionResultByBackendOp(ctx context.Context, backendOpID string) (*domain.ExecutionResult, error) {
	return s.getExecutionResult(ctx, `backend_op_id`, backendOpID)
}

func (s *SQLiteStore) getExecutionResult(ctx context.Context, column, value string) (*domain.ExecutionResult, error) {
	query := `
		SELECT result_id, request_id, status, backend_op_id, summary,
		       error_class, error_message, retry_count, latency_ms, completed_at
		FROM execution_results WHERE ` + column + ` = ?`

	row := s.db.QueryRowContext(ctx, query, value)

	var result domain.ExecutionResult
	var status string
	var backendOpID, summary, errorClass, errorMessage sql.NullString
	var completedAt int64

	err := row.Scan(
		&result.ResultID, &result.RequestID, &status,
		&backendOpID, &summary, &errorClass, &errorMessage,
		&result.RetryCount, &result.LatencyMS, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution result row: %w", err)
	}

	result.Status = domain.ExecutionStatus(status)
	result.BackendOpID = backendOpID.String
	result.Summary = summary.String
	result.ErrorClass = domain.ErrorClass(errorClass.String)
	result.ErrorMessage = errorMessage.String
	result.CompletedAt = time.Unix(completedAt, 0)

	return &result, nil
}

// UpdateExecutionResult finalizes a previously pending result. Results that
// already reached a terminal status are never overwritten.
func (s *SQLiteStore) UpdateExecutionResult(ctx context.Context, result *domain.ExecutionResult) error {
	query := `
	UPDATE execution_results SET
		status = ?, summary = ?, error_class = ?, error_message = ?,
		retry_count = ?, latency_ms = ?, completed_at = ?
	WHERE result_id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, query,
		string(result.Status), nullable(result.Summary),
		nullable(string(result.ErrorClass)), nullable(result.ErrorMessage),
		result.RetryCount, result.LatencyMS, result.CompletedAt.Unix(),
		result.ResultID, string(domain.ExecutionPendingAsync),
	)
	if err != nil {
		return fmt.Errorf("update execution result: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// InsertAuditRecord appends a record to the audit trail.
func (s *SQLiteStore) InsertAuditRecord(ctx context.Context, record *domain.AuditRecord) error {
	query := `
	INSERT INTO audit_records (
		record_id, ts, stage, actor, session_id, original_text,
		intent_kind, verb, target, outcome, error_message, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.execWithRetry(ctx, query,
		record.RecordID, record.Timestamp.Unix(), string(record.Stage),
		record.Actor, record.SessionID, nullable(record.OriginalText),
		nullable(record.IntentKind), nullable(record.Verb), nullable(record.Target),
		nullable(record.Outcome), nullable(record.ErrorMessage), record.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var status string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.SessionID, &session.UserID, &status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	session.Status = domain.SessionStatus(status)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
