package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/ledger"
	"github.com/syncreel/backend/internal/middleware"
	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/orchestrator"
	"github.com/syncreel/backend/internal/provider"
	"github.com/syncreel/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockOrchestrator struct {
	createTask   *models.GenerationTask
	createErr    error
	createToken  string
	getTask      *models.GenerationTask
	getErr       error
	cancelTask   *models.GenerationTask
	cancelErr    error
	reconciled   []*provider.StatusUpdate
	reconcileErr error
}

func (m *mockOrchestrator) CreateTask(_ context.Context, _ uuid.UUID, _ orchestrator.TaskSpec, token string) (*models.GenerationTask, error) {
	m.createToken = token
	return m.createTask, m.createErr
}

func (m *mockOrchestrator) GetTask(context.Context, uuid.UUID, uuid.UUID) (*models.GenerationTask, error) {
	return m.getTask, m.getErr
}

func (m *mockOrchestrator) ListTasks(context.Context, uuid.UUID, int, int) ([]*models.GenerationTask, error) {
	if m.getTask == nil {
		return nil, nil
	}
	return []*models.GenerationTask{m.getTask}, nil
}

func (m *mockOrchestrator) Cancel(context.Context, uuid.UUID, uuid.UUID) (*models.GenerationTask, error) {
	return m.cancelTask, m.cancelErr
}

func (m *mockOrchestrator) Reconcile(_ context.Context, _ string, upd *provider.StatusUpdate) error {
	m.reconciled = append(m.reconciled, upd)
	return m.reconcileErr
}

type mockBalances struct{ balance int64 }

func (m mockBalances) Balance(context.Context, uuid.UUID) (int64, error) { return m.balance, nil }

type stubWebhookClient struct {
	upd *provider.StatusUpdate
	err error
}

func (s stubWebhookClient) Name() string { return "heygen" }
func (s stubWebhookClient) Submit(context.Context, provider.SubmitRequest) (string, error) {
	return "", nil
}
func (s stubWebhookClient) Poll(context.Context, string) (*provider.StatusUpdate, error) {
	return nil, nil
}
func (s stubWebhookClient) ParseWebhook([]byte, http.Header) (*provider.StatusUpdate, error) {
	return s.upd, s.err
}
func (s stubWebhookClient) Cancel(context.Context, string) error { return nil }

type mockParsers struct {
	client provider.Client
	err    error
}

func (m mockParsers) Get(string) (provider.Client, error) { return m.client, m.err }
func (m mockParsers) Names() []string                     { return []string{"heygen"} }

func newTestHandler(t *testing.T, orch *mockOrchestrator, parsers WebhookParsers) *TaskHandler {
	t.Helper()
	validator, err := orchestrator.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return &TaskHandler{
		Orchestrator: orch,
		Balances:     mockBalances{balance: 7},
		Providers:    parsers,
		Validator:    validator,
		Logger:       slog.Default(),
	}
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.WithUserID(req.Context(), uuid.New()))
}

func sampleTask() *models.GenerationTask {
	return &models.GenerationTask{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Provider:        "heygen",
		Quality:         models.QualityStandard,
		Status:          models.TaskStatusQueued,
		CreditsReserved: 10,
	}
}

const validBody = `{"provider":"heygen","video_url":"https://cdn.example.com/v.mp4","audio_url":"https://cdn.example.com/a.mp3","quality":"standard"}`

// ---------------------------------------------------------------------------
// CreateTask
// ---------------------------------------------------------------------------

func TestCreateTaskHandler(t *testing.T) {
	orch := &mockOrchestrator{createTask: sampleTask()}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{}})

	req := authedRequest(http.MethodPost, "/v1/tasks", validBody)
	req.Header.Set("Idempotency-Key", "tok-42")
	rec := httptest.NewRecorder()
	h.CreateTask(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202; body: %s", rec.Code, rec.Body.String())
	}
	if orch.createToken != "tok-42" {
		t.Errorf("idempotency token: got %q", orch.createToken)
	}
	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.TaskStatusQueued {
		t.Errorf("response status: got %s", resp.Status)
	}
}

func TestCreateTaskHandler_Unauthenticated(t *testing.T) {
	h := newTestHandler(t, &mockOrchestrator{}, mockParsers{client: stubWebhookClient{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(validBody))
	rec := httptest.NewRecorder()
	h.CreateTask(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestCreateTaskHandler_SchemaViolation(t *testing.T) {
	orch := &mockOrchestrator{createTask: sampleTask()}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{}})

	cases := []struct {
		name string
		body string
	}{
		{"missing provider", `{"video_url":"https://a.com/v.mp4","audio_url":"https://a.com/a.mp3","quality":"standard"}`},
		{"no audio source", `{"provider":"heygen","video_url":"https://a.com/v.mp4","quality":"standard"}`},
		{"bad quality", `{"provider":"heygen","video_url":"https://a.com/v.mp4","audio_url":"https://a.com/a.mp3","quality":"8k"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.CreateTask(rec, authedRequest(http.MethodPost, "/v1/tasks", tc.body))
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status: got %d, want 422; body: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateTaskHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid input", orchestrator.ErrInvalidInput, http.StatusBadRequest},
		{"insufficient credits", ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"provider rejected", provider.ErrProviderRejected, http.StatusUnprocessableEntity},
		{"provider unavailable", provider.ErrProviderUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := &mockOrchestrator{createErr: tc.err}
			h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{}})
			rec := httptest.NewRecorder()
			h.CreateTask(rec, authedRequest(http.MethodPost, "/v1/tasks", validBody))
			if rec.Code != tc.wantStatus {
				t.Errorf("status: got %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestCreateTaskHandler_InsufficientIncludesBalance(t *testing.T) {
	orch := &mockOrchestrator{createErr: ledger.ErrInsufficientFunds}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{}})
	rec := httptest.NewRecorder()
	h.CreateTask(rec, authedRequest(http.MethodPost, "/v1/tasks", validBody))

	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != 7 {
		t.Errorf("balance in 402 body: got %d, want 7", resp.Balance)
	}
}

// ---------------------------------------------------------------------------
// GetTask / Cancel
// ---------------------------------------------------------------------------

func TestGetTaskHandler_NotFound(t *testing.T) {
	orch := &mockOrchestrator{getErr: repository.ErrNotFound}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{}})

	req := authedRequest(http.MethodGet, "/v1/tasks/"+uuid.NewString(), "")
	req.SetPathValue("id", uuid.NewString())
	rec := httptest.NewRecorder()
	h.GetTask(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestCancelHandler_Conflict(t *testing.T) {
	orch := &mockOrchestrator{cancelErr: orchestrator.ErrCannotCancel}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{}})

	req := authedRequest(http.MethodPost, "/v1/tasks/x/cancel", "")
	req.SetPathValue("id", uuid.NewString())
	rec := httptest.NewRecorder()
	h.CancelTask(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func webhookRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/heygen", strings.NewReader(body))
	req.SetPathValue("provider", "heygen")
	return req
}

func TestReceiveWebhook(t *testing.T) {
	upd := &provider.StatusUpdate{ProviderTaskID: "vid-1", Status: models.TaskStatusCompleted}
	orch := &mockOrchestrator{}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{upd: upd}})

	rec := httptest.NewRecorder()
	h.ReceiveWebhook(rec, webhookRequest(`{"anything":"the parser stub ignores"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if len(orch.reconciled) != 1 || orch.reconciled[0] != upd {
		t.Error("update should be passed to Reconcile")
	}
}

func TestReceiveWebhook_MalformedAcked(t *testing.T) {
	orch := &mockOrchestrator{}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{err: provider.ErrMalformedWebhook}})

	rec := httptest.NewRecorder()
	h.ReceiveWebhook(rec, webhookRequest(`garbage`))

	if rec.Code != http.StatusOK {
		t.Fatalf("malformed webhook must be acked with 200, got %d", rec.Code)
	}
	if len(orch.reconciled) != 0 {
		t.Error("malformed payload must not reach Reconcile")
	}
}

func TestReceiveWebhook_UnknownTaskAcked(t *testing.T) {
	upd := &provider.StatusUpdate{ProviderTaskID: "ghost", Status: models.TaskStatusCompleted}
	orch := &mockOrchestrator{reconcileErr: orchestrator.ErrUnknownTask}
	h := newTestHandler(t, orch, mockParsers{client: stubWebhookClient{upd: upd}})

	rec := httptest.NewRecorder()
	h.ReceiveWebhook(rec, webhookRequest(`{}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("unknown-task webhook must be acked with 200, got %d", rec.Code)
	}
}

func TestReceiveWebhook_UnknownProviderAcked(t *testing.T) {
	orch := &mockOrchestrator{}
	h := newTestHandler(t, orch, mockParsers{err: provider.ErrProviderUnavailable})

	rec := httptest.NewRecorder()
	h.ReceiveWebhook(rec, webhookRequest(`{}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("unknown-provider webhook must be acked with 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Providers listing
// ---------------------------------------------------------------------------

func TestListProviders(t *testing.T) {
	h := newTestHandler(t, &mockOrchestrator{}, mockParsers{client: stubWebhookClient{}})

	rec := httptest.NewRecorder()
	h.ListProviders(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var out []providerInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Name != "heygen" {
		t.Errorf("providers: got %v", out)
	}
	if out[0].Pricing["standard"] != 10 {
		t.Errorf("standard price: got %d, want 10", out[0].Pricing["standard"])
	}
}
