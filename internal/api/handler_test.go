package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/identity"
	"github.com/maxamillion/rhails/internal/orchestrator"
)

type fakeEngine struct {
	startSessionFn func(userID string) (*domain.Session, error)
	listSessionsFn func(userID string) ([]*domain.Session, error)
	historyFn      func(actor, sessionID string) ([]*domain.Turn, error)
	endSessionFn   func(actor, sessionID string) error
	handleTurnFn   func(actor, sessionID, text string) (*orchestrator.TurnOutcome, error)
	confirmFn      func(actor, requestID string, approve bool) (*orchestrator.TurnOutcome, error)
	getOperationFn func(actor, requestID string) (*domain.OperationRequest, *domain.ExecutionResult, error)
}

var _ Orchestrator = (*fakeEngine)(nil)

func (f *fakeEngine) StartSession(ctx context.Context, userID string) (*domain.Session, error) {
	return f.startSessionFn(userID)
}

func (f *fakeEngine) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return f.listSessionsFn(userID)
}

func (f *fakeEngine) History(ctx context.Context, actor, sessionID string) ([]*domain.Turn, error) {
	return f.historyFn(actor, sessionID)
}

func (f *fakeEngine) EndSession(ctx context.Context, actor, sessionID string) error {
	return f.endSessionFn(actor, sessionID)
}

func (f *fakeEngine) HandleTurn(ctx context.Context, actor, sessionID, text string) (*orchestrator.TurnOutcome, error) {
	return f.handleTurnFn(actor, sessionID, text)
}

func (f *fakeEngine) Confirm(ctx context.Context, actor, requestID string, approve bool) (*orchestrator.TurnOutcome, error) {
	return f.confirmFn(actor, requestID, approve)
}

func (f *fakeEngine) GetOperation(ctx context.Context, actor, requestID string) (*domain.OperationRequest, *domain.ExecutionResult, error) {
	return f.getOperationFn(actor, requestID)
}

func newTestServer(engine *fakeEngine) *httptest.Server {
	r := chi.NewRouter()
	r.Use(identity.Middleware(false))
	NewHandler(engine).RegisterRoutes(r)
	return httptest.NewServer(r)
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.UserHeaderName, "user-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestStartSessionReturnsCreated(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		startSessionFn: func(userID string) (*domain.Session, error) {
			return &domain.Session{
				SessionID: "sess-1", UserID: userID, Status: domain.SessionActive,
				CreatedAt: time.Now(), UpdatedAt: time.Now(),
			}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var session domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if session.SessionID != "sess-1" || session.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestQueryOpensSessionWhenNoneGiven(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		startSessionFn: func(userID string) (*domain.Session, error) {
			return &domain.Session{SessionID: "sess-new", UserID: userID, Status: domain.SessionActive}, nil
		},
		handleTurnFn: func(actor, sessionID, text string) (*orchestrator.TurnOutcome, error) {
			if sessionID != "sess-new" {
				t.Errorf("expected the freshly opened session, got %q", sessionID)
			}
			return &orchestrator.TurnOutcome{Reply: "Here are your models."}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/query", map[string]string{"query": "list models"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"session_id"`
		Reply     string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID != "sess-new" || body.Reply == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHistoryReturnsTurnWindow(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		historyFn: func(actor, sessionID string) ([]*domain.Turn, error) {
			return []*domain.Turn{
				{TurnID: "t1", SessionID: sessionID, Seq: 1, Role: domain.RoleUser, Content: "list models"},
				{TurnID: "t2", SessionID: sessionID, Seq: 2, Role: domain.RoleAssistant, Content: "Here are your models."},
			}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/sess-1/history", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Turns []*domain.Turn `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Turns) != 2 || body.Turns[0].Seq != 1 {
		t.Fatalf("unexpected turns: %+v", body.Turns)
	}
}

func TestQueryRequiresNonEmptyQuery(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/query",
		map[string]string{"session_id": "sess-1", "query": "   "})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestQueryReturnsOutcome(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		handleTurnFn: func(actor, sessionID, text string) (*orchestrator.TurnOutcome, error) {
			if actor != "user-1" || sessionID != "sess-1" {
				t.Errorf("unexpected actor/session: %s/%s", actor, sessionID)
			}
			return &orchestrator.TurnOutcome{Reply: "Here are your models."}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/query",
		map[string]string{"session_id": "sess-1", "query": "list all models"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var outcome orchestrator.TurnOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if outcome.Reply != "Here are your models." {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestQueryRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	body := bytes.NewBufferString(`{"session_id":"sess-1","query":"list models"}`)
	resp, err := http.Post(srv.URL+"/v1/query", "application/json", body)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestConfirmRequiresRequestID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/confirm", map[string]bool{"approve": true})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEngineErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"operation not found", orchestrator.ErrOperationNotFound, http.StatusNotFound},
		{"forbidden", orchestrator.ErrForbidden, http.StatusForbidden},
		{"rate limited", orchestrator.ErrRateLimited, http.StatusTooManyRequests},
		{"already resolved", orchestrator.ErrAlreadyResolved, http.StatusConflict},
		{"expired", orchestrator.ErrConfirmationExpired, http.StatusGone},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{
				confirmFn: func(actor, requestID string, approve bool) (*orchestrator.TurnOutcome, error) {
					return nil, tc.err
				},
			}
			srv := newTestServer(engine)
			defer srv.Close()

			resp := doJSON(t, http.MethodPost, srv.URL+"/v1/confirm",
				map[string]interface{}{"request_id": "req-1", "approve": true})
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestGetOperationReturnsRequestAndResult(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		getOperationFn: func(actor, requestID string) (*domain.OperationRequest, *domain.ExecutionResult, error) {
			return &domain.OperationRequest{RequestID: requestID, Verb: domain.VerbDelete},
				&domain.ExecutionResult{RequestID: requestID, Status: domain.ExecutionSuccess}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/operations/req-1", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Request *domain.OperationRequest `json:"request"`
		Result  *domain.ExecutionResult  `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Request == nil || body.Request.RequestID != "req-1" {
		t.Fatalf("unexpected request: %+v", body.Request)
	}
	if body.Result == nil || body.Result.Status != domain.ExecutionSuccess {
		t.Fatalf("unexpected result: %+v", body.Result)
	}
}
