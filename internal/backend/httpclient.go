package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/maxamillion/rhails/internal/domain"
)

// HTTPClient implements Client against the platform's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a backend client. timeout caps each individual call;
// callers may tighten it further via the context.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// WaitForReady pings the backend until it responds or the context expires.
// Fail-fast: the server refuses to start against an unreachable backend.
func (c *HTTPClient) WaitForReady(ctx context.Context, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		err := c.Ping(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("backend not ready after %s: %w", maxWait, err)
		}
		slog.Warn("backend not ready, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Ping verifies the backend is reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

// Create provisions a new resource.
func (c *HTTPClient) Create(ctx context.Context, ref domain.ResourceRef, payload domain.Params) (*CallResult, error) {
	var out callResponse
	path := fmt.Sprintf("/v1/namespaces/%s/%s",
		url.PathEscape(ref.Namespace), resourcePath(ref.Type))
	body := resourceBody{Name: ref.Name, Params: payload}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// Get fetches the live state of one resource.
func (c *HTTPClient) Get(ctx context.Context, ref domain.ResourceRef) (*CallResult, error) {
	var out callResponse
	if err := c.do(ctx, http.MethodGet, refPath(ref), nil, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// List fetches all resources of a type within a namespace.
func (c *HTTPClient) List(ctx context.Context, typ domain.ResourceType, namespace string) (*CallResult, error) {
	path := "/v1/" + resourcePath(typ)
	if namespace != "" {
		path = fmt.Sprintf("/v1/namespaces/%s/%s", url.PathEscape(namespace), resourcePath(typ))
	}
	var out callResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// Patch applies a partial update to an existing resource.
func (c *HTTPClient) Patch(ctx context.Context, ref domain.ResourceRef, payload domain.Params) (*CallResult, error) {
	var out callResponse
	body := resourceBody{Name: ref.Name, Params: payload}
	if err := c.do(ctx, http.MethodPatch, refPath(ref), body, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// Delete removes a resource.
func (c *HTTPClient) Delete(ctx context.Context, ref domain.ResourceRef) (*CallResult, error) {
	var out callResponse
	if err := c.do(ctx, http.MethodDelete, refPath(ref), nil, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// PollOperation checks a long-running backend operation.
func (c *HTTPClient) PollOperation(ctx context.Context, operationID string) (*OperationStatus, error) {
	var out struct {
		OperationID string `json:"operation_id"`
		Done        bool   `json:"done"`
		Summary     string `json:"summary"`
		Error       string `json:"error"`
	}
	path := "/v1/operations/" + url.PathEscape(operationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	status := &OperationStatus{
		OperationID: out.OperationID,
		Done:        out.Done,
		Summary:     out.Summary,
	}
	if out.Error != "" {
		status.Err = fmt.Errorf("backend operation failed: %s", out.Error)
	}
	return status, nil
}

type resourceBody struct {
	Name   string        `json:"name"`
	Params domain.Params `json:"params"`
}

type callResponse struct {
	State       *ResourceState  `json:"state,omitempty"`
	Items       []ResourceState `json:"items,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
	Summary     string          `json:"summary,omitempty"`
}

func (r *callResponse) result() *CallResult {
	return &CallResult{
		State:       r.State,
		Items:       r.Items,
		OperationID: r.OperationID,
		Summary:     r.Summary,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close response body", "path", path, "error", closeErr)
		}
	}()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err != nil || body.Reason == "" {
		body.Reason = http.StatusText(resp.StatusCode)
		body.Message = string(raw)
	}
	return &Error{
		StatusCode: resp.StatusCode,
		Reason:     body.Reason,
		Message:    body.Message,
	}
}

func resourcePath(typ domain.ResourceType) string {
	switch typ {
	case domain.ResourceModelDeployment:
		return "models"
	case domain.ResourcePipeline:
		return "pipelines"
	case domain.ResourceNotebook:
		return "notebooks"
	case domain.ResourceProject:
		return "projects"
	}
	return string(typ) + "s"
}

func refPath(ref domain.ResourceRef) string {
	return fmt.Sprintf("/v1/namespaces/%s/%s/%s",
		url.PathEscape(ref.Namespace), resourcePath(ref.Type), url.PathEscape(ref.Name))
}
