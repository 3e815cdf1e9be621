// Package backend defines the resource orchestration API client used by the
// operation executor.
package backend

import (
	"context"

	"github.com/maxamillion/rhails/internal/domain"
)

// ResourceState is the backend's view of one resource.
type ResourceState struct {
	Ref      domain.ResourceRef `json:"ref"`
	Phase    string             `json:"phase"`
	Replicas int                `json:"replicas"`
	Details  map[string]string  `json:"details,omitempty"`
}

// CallResult is the outcome of one backend call. For synchronous calls State
// or Items is set; for long-running operations OperationID identifies the
// backend-side operation to poll.
type CallResult struct {
	State       *ResourceState
	Items       []ResourceState
	OperationID string
	Summary     string
}

// OperationStatus is the polled state of a long-running backend operation.
type OperationStatus struct {
	OperationID string
	Done        bool
	Summary     string
	Err         error
}

// Client is the resource backend boundary. All calls honor the context
// deadline; the executor sets a per-call timeout.
type Client interface {
	// Create provisions a new resource.
	Create(ctx context.Context, ref domain.ResourceRef, payload domain.Params) (*CallResult, error)

	// Get fetches the live state of one resource.
	Get(ctx context.Context, ref domain.ResourceRef) (*CallResult, error)

	// List fetches all resources of a type within a namespace. An empty
	// namespace lists across all namespaces the caller can see.
	List(ctx context.Context, typ domain.ResourceType, namespace string) (*CallResult, error)

	// Patch applies a partial update to an existing resource.
	Patch(ctx context.Context, ref domain.ResourceRef, payload domain.Params) (*CallResult, error)

	// Delete removes a resource.
	Delete(ctx context.Context, ref domain.ResourceRef) (*CallResult, error)

	// PollOperation checks a long-running backend operation.
	PollOperation(ctx context.Context, operationID string) (*OperationStatus, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
