package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/audit"
	"github.com/maxamillion/rhails/internal/backend"
	"github.com/maxamillion/rhails/internal/cache"
	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/store"
)

// maxExecReplicas is the operational ceiling enforced at execution time.
// The parser accepts a wider range; anything above this fails terminally
// before reaching the backend.
const maxExecReplicas = 10

// RetryPolicy shapes the executor's backoff between attempts.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// Executor runs operation requests against the backend, retrying transient
// failures with exponential backoff and recording exactly one execution
// result per request.
type Executor struct {
	client    backend.Client
	repo      store.Repository
	snapshots *cache.ResourceCache
	auditw    *audit.Writer
	log       *slog.Logger

	timeout time.Duration
	policy  RetryPolicy
	sleep   func(time.Duration)
}

// NewExecutor creates an operation executor. timeout caps each backend
// attempt individually.
func NewExecutor(client backend.Client, repo store.Repository, snapshots *cache.ResourceCache,
	auditw *audit.Writer, log *slog.Logger, timeout time.Duration, policy RetryPolicy) *Executor {
	return &Executor{
		client:    client,
		repo:      repo,
		snapshots: snapshots,
		auditw:    auditw,
		log:       log,
		timeout:   timeout,
		policy:    policy,
		sleep:     time.Sleep,
	}
}

// Execute runs one request. A request that already holds a successful or
// in-flight result is not re-executed; the existing result is returned.
// The returned error reports infrastructure failures only; backend failures
// land in the result.
func (e *Executor) Execute(ctx context.Context, actor string, req *domain.OperationRequest) (*domain.ExecutionResult, error) {
	existing, err := e.repo.GetExecutionResultByRequest(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load prior result: %w", err)
	}
	if existing != nil && (existing.Status == domain.ExecutionSuccess || existing.Status == domain.ExecutionPendingAsync) {
		e.log.Info("skipping re-execution of completed request",
			"request_id", req.RequestID, "status", existing.Status)
		return existing, nil
	}

	start := time.Now()
	if msg := e.precheck(req); msg != "" {
		result := e.buildResult(req, domain.ExecutionFailure, nil, domain.ErrorClassTerminal, msg, 0, start)
		return result, e.finish(ctx, actor, req, result)
	}

	call, retries, callErr := e.attempt(ctx, req)

	var result *domain.ExecutionResult
	switch {
	case callErr != nil:
		class := domain.ErrorClassTerminal
		if backend.IsRetryable(callErr) {
			class = domain.ErrorClassRetryable
		}
		msg := backend.UserMessageFor(string(req.Verb), string(req.Target.Type), req.Target.Name, callErr)
		result = e.buildResult(req, domain.ExecutionFailure, nil, class, msg, retries, start)

	case call.OperationID != "":
		result = e.buildResult(req, domain.ExecutionPendingAsync, call, domain.ErrorClassNone, "", retries, start)

	default:
		result = e.buildResult(req, domain.ExecutionSuccess, call, domain.ErrorClassNone, "", retries, start)
		if req.Verb.Mutating() {
			e.snapshots.Invalidate(req.Target)
		}
		if call.State != nil {
			e.snapshots.Put(*call.State)
		}
	}

	return result, e.finish(ctx, actor, req, result)
}

// Poll checks a pending asynchronous operation and finalizes its result when
// the backend reports completion.
func (e *Executor) Poll(ctx context.Context, actor string, backendOpID string) (*domain.ExecutionResult, error) {
	result, err := e.repo.GetExecutionResultByBackendOp(ctx, backendOpID)
	if err != nil {
		return nil, fmt.Errorf("load result by backend op: %w", err)
	}
	if result == nil {
		return nil, ErrOperationNotFound
	}
	if result.Status.Terminal() {
		return result, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	status, err := e.client.PollOperation(callCtx, backendOpID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("poll backend operation: %w", err)
	}
	if !status.Done {
		return result, nil
	}

	if status.Err != nil {
		result.Status = domain.ExecutionFailure
		result.ErrorClass = domain.ErrorClassTerminal
		result.ErrorMessage = status.Err.Error()
	} else {
		result.Status = domain.ExecutionSuccess
		result.Summary = status.Summary
	}
	result.CompletedAt = time.Now().UTC()

	if err := e.repo.UpdateExecutionResult(ctx, result); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another poller finalized first; return the stored truth.
			return e.repo.GetExecutionResultByBackendOp(ctx, backendOpID)
		}
		return nil, fmt.Errorf("finalize execution result: %w", err)
	}

	req, err := e.repo.GetOperationRequest(ctx, result.RequestID)
	if err == nil && req != nil {
		if result.Status == domain.ExecutionSuccess && req.Verb.Mutating() {
			e.snapshots.Invalidate(req.Target)
		}
		e.auditResult(actor, req, result)
	}
	return result, nil
}

// attempt runs the backend call with exponential backoff on retryable
// failures. It returns the retry count actually consumed.
func (e *Executor) attempt(ctx context.Context, req *domain.OperationRequest) (*backend.CallResult, int, error) {
	var lastErr error
	for i := 0; i <= e.policy.MaxRetries; i++ {
		if i > 0 {
			delay := e.policy.BaseDelay * time.Duration(1<<(i-1))
			e.log.Debug("retrying backend call",
				"request_id", req.RequestID, "attempt", i+1, "delay", delay)
			e.sleep(delay)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		call, err := e.dispatch(callCtx, req)
		cancel()
		if err == nil {
			return call, i, nil
		}

		lastErr = err
		if !backend.IsRetryable(err) {
			return nil, i, err
		}
	}
	return nil, e.policy.MaxRetries, lastErr
}

func (e *Executor) dispatch(ctx context.Context, req *domain.OperationRequest) (*backend.CallResult, error) {
	switch req.Verb {
	case domain.VerbCreate:
		return e.client.Create(ctx, req.Target, req.Payload)
	case domain.VerbGet:
		return e.client.Get(ctx, req.Target)
	case domain.VerbList:
		return e.client.List(ctx, req.Target.Type, req.Target.Namespace)
	case domain.VerbPatch:
		return e.client.Patch(ctx, req.Target, req.Payload)
	case domain.VerbDelete:
		return e.client.Delete(ctx, req.Target)
	}
	return nil, fmt.Errorf("unsupported verb: %s", req.Verb)
}

// precheck applies execution-time parameter bounds. A non-empty return is a
// terminal failure message.
func (e *Executor) precheck(req *domain.OperationRequest) string {
	if req.Verb == domain.VerbPatch && req.Payload.Replicas != nil {
		if n := *req.Payload.Replicas; n < 0 || n > maxExecReplicas {
			return fmt.Sprintf("Cannot scale '%s' to %d replicas. Please choose a replica count between 0 and %d.",
				req.Target.Name, n, maxExecReplicas)
		}
	}
	return ""
}

func (e *Executor) buildResult(req *domain.OperationRequest, status domain.ExecutionStatus,
	call *backend.CallResult, class domain.ErrorClass, errMsg string, retries int, start time.Time) *domain.ExecutionResult {

	result := &domain.ExecutionResult{
		ResultID:     uuid.NewString(),
		RequestID:    req.RequestID,
		Status:       status,
		ErrorClass:   class,
		ErrorMessage: errMsg,
		RetryCount:   retries,
		LatencyMS:    time.Since(start).Milliseconds(),
		CompletedAt:  time.Now().UTC(),
	}
	if call != nil {
		result.BackendOpID = call.OperationID
		result.Summary = call.Summary
	}
	return result
}

// finish persists the result and writes its audit record.
func (e *Executor) finish(ctx context.Context, actor string, req *domain.OperationRequest, result *domain.ExecutionResult) error {
	if err := e.repo.InsertExecutionResult(ctx, result); err != nil {
		return fmt.Errorf("persist execution result: %w", err)
	}
	e.auditResult(actor, req, result)
	return nil
}

func (e *Executor) auditResult(actor string, req *domain.OperationRequest, result *domain.ExecutionResult) {
	e.auditw.Record(&domain.AuditRecord{
		RecordID:     uuid.NewString(),
		Timestamp:    result.CompletedAt,
		Stage:        domain.AuditOperationResult,
		Actor:        actor,
		SessionID:    req.SessionID,
		Verb:         string(req.Verb),
		Target:       req.Target.Key(),
		Outcome:      string(result.Status),
		ErrorMessage: result.ErrorMessage,
		DurationMS:   result.LatencyMS,
	})
}
