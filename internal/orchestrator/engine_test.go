package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maxamillion/rhails/internal/audit"
	"github.com/maxamillion/rhails/internal/backend"
	"github.com/maxamillion/rhails/internal/cache"
	"github.com/maxamillion/rhails/internal/conversation"
	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/interpret"
	"github.com/maxamillion/rhails/internal/store"
)

type engineHarness struct {
	engine  *Engine
	gate    *Gate
	fb      *fakeBackend
	repo    store.Repository
	session *domain.Session
}

func newEngineHarness(t *testing.T, cfg Config) *engineHarness {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	auditw, err := audit.NewWriter(repo, audit.Config{QueueSize: 64, FallbackDir: t.TempDir()}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	t.Cleanup(func() { _ = auditw.Close() })

	fb := &fakeBackend{}
	snapshots := cache.New(fb, 30*time.Second)
	convo := conversation.NewManager(repo, 20)
	compiler := NewCompiler(0.7, snapshots, convo)
	executor := NewExecutor(fb, repo, snapshots, auditw, slog.Default(),
		2*time.Second, RetryPolicy{BaseDelay: time.Millisecond, MaxRetries: 3})
	executor.sleep = func(time.Duration) {}
	gate := NewGate(5 * time.Minute)

	engine := NewEngine(interpret.NewParser(), compiler, executor, gate, convo, repo, auditw,
		slog.Default(), cfg)

	session, err := engine.StartSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	return &engineHarness{engine: engine, gate: gate, fb: fb, repo: repo, session: session}
}

func defaultEngineConfig() Config {
	return Config{
		RatePerMinute:     10,
		RateBurst:         5,
		SessionInactivity: 30 * 24 * time.Hour,
		SweepInterval:     time.Minute,
	}
}

func TestHandleTurnExecutesListQuery(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{Items: []backend.ResourceState{
			{Ref: domain.ResourceRef{Type: typ, Namespace: namespace, Name: "fraud-detector"}, Phase: "Ready"},
		}}, nil
	}

	outcome, err := h.engine.HandleTurn(context.Background(), "user-1", h.session.SessionID, "list all models")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if outcome.Clarification || outcome.RequiresConfirmation {
		t.Fatalf("expected a direct execution, got %+v", outcome)
	}
	if len(outcome.Results) != 1 || outcome.Results[0].Status != domain.ExecutionSuccess {
		t.Fatalf("unexpected results: %+v", outcome.Results)
	}
	if outcome.Reply != "Here are your models." {
		t.Fatalf("unexpected reply: %q", outcome.Reply)
	}
}

func TestHandleTurnGatesDestructiveOperation(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())

	outcome, err := h.engine.HandleTurn(context.Background(), "user-1", h.session.SessionID,
		"delete the fraud-detector model")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !outcome.RequiresConfirmation || outcome.RequestID == "" {
		t.Fatalf("expected a confirmation gate, got %+v", outcome)
	}
	if outcome.ConfirmBy.IsZero() {
		t.Fatal("expected a confirmation deadline")
	}
	if n := h.fb.callCount("delete"); n != 0 {
		t.Fatalf("nothing may execute before confirmation, saw %d deletes", n)
	}

	stored, err := h.repo.GetOperationRequest(context.Background(), outcome.RequestID)
	if err != nil {
		t.Fatalf("GetOperationRequest failed: %v", err)
	}
	if stored.Confirmation != domain.ConfirmationPending {
		t.Fatalf("expected pending confirmation persisted, got %s", stored.Confirmation)
	}
}

func TestConfirmExecutesGatedOperation(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	gated, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "delete the fraud-detector model")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	h.fb.deleteFn = func(ref domain.ResourceRef) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	outcome, err := h.engine.Confirm(ctx, "user-1", gated.RequestID, true)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if len(outcome.Results) != 1 || outcome.Results[0].Status != domain.ExecutionSuccess {
		t.Fatalf("unexpected results: %+v", outcome.Results)
	}
	if n := h.fb.callCount("delete"); n != 1 {
		t.Fatalf("expected 1 delete, got %d", n)
	}

	stored, err := h.repo.GetOperationRequest(ctx, gated.RequestID)
	if err != nil {
		t.Fatalf("GetOperationRequest failed: %v", err)
	}
	if stored.Confirmation != domain.ConfirmationConfirmed {
		t.Fatalf("expected confirmed persisted, got %s", stored.Confirmation)
	}
}

func TestConfirmRejectCancelsWithoutExecuting(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	gated, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "delete the fraud-detector model")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	outcome, err := h.engine.Confirm(ctx, "user-1", gated.RequestID, false)
	if err != nil {
		t.Fatalf("Confirm(reject) failed: %v", err)
	}
	if !strings.Contains(outcome.Reply, "won't proceed") {
		t.Fatalf("unexpected reply: %q", outcome.Reply)
	}
	if n := h.fb.callCount("delete"); n != 0 {
		t.Fatalf("rejected operation must not execute, saw %d deletes", n)
	}

	stored, err := h.repo.GetOperationRequest(ctx, gated.RequestID)
	if err != nil {
		t.Fatalf("GetOperationRequest failed: %v", err)
	}
	if stored.Confirmation != domain.ConfirmationRejected {
		t.Fatalf("expected rejected persisted, got %s", stored.Confirmation)
	}

	// A second decision on the same request is refused.
	_, err = h.engine.Confirm(ctx, "user-1", gated.RequestID, true)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestConfirmExpiredNeverExecutes(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	gated, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "delete the fraud-detector model")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	h.gate.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	_, err = h.engine.Confirm(ctx, "user-1", gated.RequestID, true)
	if !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("expected ErrConfirmationExpired, got %v", err)
	}
	if n := h.fb.callCount("delete"); n != 0 {
		t.Fatalf("expired operation must not execute, saw %d deletes", n)
	}

	stored, err := h.repo.GetOperationRequest(ctx, gated.RequestID)
	if err != nil {
		t.Fatalf("GetOperationRequest failed: %v", err)
	}
	if stored.Confirmation != domain.ConfirmationExpired {
		t.Fatalf("expected expired persisted, got %s", stored.Confirmation)
	}
}

func TestHandleTurnAsksClarificationOnVagueQuery(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())

	outcome, err := h.engine.HandleTurn(context.Background(), "user-1", h.session.SessionID, "delete")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !outcome.Clarification {
		t.Fatalf("expected a clarification, got %+v", outcome)
	}
	if len(outcome.Results) != 0 {
		t.Fatal("clarification turns must not execute anything")
	}
}

func TestHandleTurnRejectsForeignSession(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())

	_, err := h.engine.HandleTurn(context.Background(), "mallory", h.session.SessionID, "list all models")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestHandleTurnRateLimited(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.RateBurst = 2
	h := newEngineHarness(t, cfg)
	ctx := context.Background()

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	for i := 0; i < 2; i++ {
		if _, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "list all models"); err != nil {
			t.Fatalf("turn %d failed: %v", i+1, err)
		}
	}

	_, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "list all models")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestEndSessionAbandonsPendingConfirmation(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	gated, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "delete the fraud-detector model")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if err := h.engine.EndSession(ctx, "user-1", h.session.SessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	stored, err := h.repo.GetOperationRequest(ctx, gated.RequestID)
	if err != nil {
		t.Fatalf("GetOperationRequest failed: %v", err)
	}
	if stored.Confirmation != domain.ConfirmationExpired {
		t.Fatalf("expected abandoned confirmation persisted, got %s", stored.Confirmation)
	}
	if n := h.fb.callCount("delete"); n != 0 {
		t.Fatalf("abandoned operation must not execute, saw %d deletes", n)
	}
}

func TestGetOperationReturnsStoredResult(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	outcome, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "list all models")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	requestID := outcome.Results[0].RequestID

	req, result, err := h.engine.GetOperation(ctx, "user-1", requestID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if req == nil || req.Verb != domain.VerbList {
		t.Fatalf("unexpected request: %+v", req)
	}
	if result == nil || result.Status != domain.ExecutionSuccess {
		t.Fatalf("unexpected result: %+v", result)
	}

	_, _, err = h.engine.GetOperation(ctx, "user-1", "missing")
	if !errors.Is(err, ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestHandleTurnAmbiguousReferenceListsCandidates(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	if _, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID,
		"compare the fraud-detector model and the churn-predictor model"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	// Both models were named in the same turn, so "it" has two equally
	// recent referents and the engine must ask instead of guessing.
	outcome, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "delete it")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !outcome.Clarification {
		t.Fatalf("expected a clarification, got %+v", outcome)
	}
	if !strings.Contains(outcome.Reply, "fraud-detector") || !strings.Contains(outcome.Reply, "churn-predictor") {
		t.Fatalf("expected both candidates listed, got %q", outcome.Reply)
	}
	if n := h.fb.callCount("delete"); n != 0 {
		t.Fatalf("an ambiguous delete must not execute, saw %d deletes", n)
	}
}

func TestConfirmNonDestructiveRequestNotPending(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	outcome, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "list all models")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	_, err = h.engine.Confirm(ctx, "user-1", outcome.Results[0].RequestID, true)
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestEndSessionReleasesSessionLock(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig())
	ctx := context.Background()

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	if _, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "list all models"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if err := h.engine.EndSession(ctx, "user-1", h.session.SessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	h.engine.mu.Lock()
	_, held := h.engine.locks[h.session.SessionID]
	h.engine.mu.Unlock()
	if held {
		t.Fatal("expected the session lock to be released with the session")
	}
}

func TestSweepReleasesSessionLock(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.SessionInactivity = 24 * time.Hour
	h := newEngineHarness(t, cfg)
	ctx := context.Background()

	h.fb.listFn = func(typ domain.ResourceType, namespace string) (*backend.CallResult, error) {
		return &backend.CallResult{}, nil
	}

	if _, err := h.engine.HandleTurn(ctx, "user-1", h.session.SessionID, "list all models"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	// Back-date the session past the inactivity threshold.
	if err := h.repo.TouchSession(ctx, h.session.SessionID, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}
	h.engine.sweep(ctx)

	h.engine.mu.Lock()
	_, held := h.engine.locks[h.session.SessionID]
	h.engine.mu.Unlock()
	if held {
		t.Fatal("expected the expired session's lock to be released")
	}
}
