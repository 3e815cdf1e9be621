package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/domain"
)

func gatedRequest(sessionID string) *domain.OperationRequest {
	return &domain.OperationRequest{
		RequestID: uuid.NewString(),
		SessionID: sessionID,
		Verb:      domain.VerbDelete,
		Target: domain.ResourceRef{
			Type: domain.ResourceModelDeployment, Namespace: "default", Name: "fraud-detector",
		},
		Destructive:  true,
		Confirmation: domain.ConfirmationPending,
	}
}

func TestGateConfirmReleasesBatch(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Minute)
	head := gatedRequest("sess-1")
	batch := []*domain.OperationRequest{head}

	expiresAt := g.Submit(batch)
	if !expiresAt.After(time.Now()) {
		t.Fatal("expiry should be in the future")
	}
	if !g.Pending(head.RequestID) {
		t.Fatal("request should be pending after submit")
	}

	released, err := g.Confirm(head.RequestID)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if len(released) != 1 || released[0].RequestID != head.RequestID {
		t.Fatalf("unexpected released batch: %+v", released)
	}
	if g.Pending(head.RequestID) {
		t.Fatal("request should no longer be pending")
	}
}

func TestGateConfirmResolvesExactlyOnce(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Minute)
	head := gatedRequest("sess-1")
	g.Submit([]*domain.OperationRequest{head})

	if _, err := g.Confirm(head.RequestID); err != nil {
		t.Fatalf("first Confirm failed: %v", err)
	}
	_, err := g.Confirm(head.RequestID)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	_, err = g.Reject(head.RequestID)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved on late reject, got %v", err)
	}
}

func TestGateExpiredConfirmationNeverReleases(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Minute)
	head := gatedRequest("sess-1")
	g.Submit([]*domain.OperationRequest{head})

	g.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	_, err := g.Confirm(head.RequestID)
	if !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("expected ErrConfirmationExpired, got %v", err)
	}

	// The entry is gone; a second attempt reports already resolved.
	_, err = g.Confirm(head.RequestID)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved after expiry, got %v", err)
	}
}

func TestGateRejectReturnsHead(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Minute)
	head := gatedRequest("sess-1")
	g.Submit([]*domain.OperationRequest{head})

	rejected, err := g.Reject(head.RequestID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.RequestID != head.RequestID {
		t.Fatalf("unexpected rejected request: %+v", rejected)
	}
	if g.Pending(head.RequestID) {
		t.Fatal("rejected request should not remain pending")
	}
}

func TestGateSweepExpired(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Minute)

	base := time.Now()
	g.now = func() time.Time { return base }

	expired := gatedRequest("sess-1")
	g.Submit([]*domain.OperationRequest{expired})

	g.now = func() time.Time { return base.Add(3 * time.Minute) }
	fresh := gatedRequest("sess-2")
	g.Submit([]*domain.OperationRequest{fresh})

	g.now = func() time.Time { return base.Add(6 * time.Minute) }
	swept := g.SweepExpired()
	if len(swept) != 1 || swept[0].RequestID != expired.RequestID {
		t.Fatalf("expected only the lapsed entry swept, got %+v", swept)
	}
	if !g.Pending(fresh.RequestID) {
		t.Fatal("unexpired entry should survive the sweep")
	}
}

func TestGateExpireSession(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Minute)
	mine := gatedRequest("sess-1")
	other := gatedRequest("sess-2")
	g.Submit([]*domain.OperationRequest{mine})
	g.Submit([]*domain.OperationRequest{other})

	abandoned := g.ExpireSession("sess-1")
	if len(abandoned) != 1 || abandoned[0].RequestID != mine.RequestID {
		t.Fatalf("expected sess-1 entries abandoned, got %+v", abandoned)
	}
	if g.Pending(mine.RequestID) {
		t.Fatal("abandoned entry should not remain pending")
	}
	if !g.Pending(other.RequestID) {
		t.Fatal("other session's entry should be untouched")
	}
}
