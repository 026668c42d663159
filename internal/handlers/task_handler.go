package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/ledger"
	"github.com/syncreel/backend/internal/middleware"
	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/orchestrator"
	"github.com/syncreel/backend/internal/provider"
	"github.com/syncreel/backend/internal/repository"
)

const maxBodyBytes = 1 << 20

// Orchestrator is the subset of the task orchestrator the handler needs.
type Orchestrator interface {
	CreateTask(ctx context.Context, userID uuid.UUID, spec orchestrator.TaskSpec, idempotencyToken string) (*models.GenerationTask, error)
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error)
	ListTasks(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.GenerationTask, error)
	Cancel(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error)
	Reconcile(ctx context.Context, providerName string, upd *provider.StatusUpdate) error
}

// BalanceReader lets financial errors carry the current balance.
type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// WebhookParsers resolves a provider id to its webhook parser.
type WebhookParsers interface {
	Get(name string) (provider.Client, error)
	Names() []string
}

// TaskHandler serves /v1/tasks and /v1/webhooks endpoints.
type TaskHandler struct {
	Orchestrator Orchestrator
	Balances     BalanceReader
	Providers    WebhookParsers
	Validator    *orchestrator.Validator
	Logger       *slog.Logger
}

// --- POST /v1/tasks ---

type taskResponse struct {
	ID              string  `json:"id"`
	Provider        string  `json:"provider"`
	Status          string  `json:"status"`
	Progress        int     `json:"progress"`
	Quality         string  `json:"quality"`
	ResultURL       *string `json:"result_url,omitempty"`
	ErrorDetail     *string `json:"error_detail,omitempty"`
	CreditsReserved int64   `json:"credits_reserved"`
	CreditsCharged  *int64  `json:"credits_charged,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func taskToResponse(t *models.GenerationTask) taskResponse {
	return taskResponse{
		ID:              t.ID.String(),
		Provider:        t.Provider,
		Status:          t.Status,
		Progress:        t.Progress,
		Quality:         t.Quality,
		ResultURL:       t.ResultURL,
		ErrorDetail:     t.ErrorDetail,
		CreditsReserved: t.CreditsReserved,
		CreditsCharged:  t.CreditsCharged,
		CreatedAt:       t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateTask handles POST /v1/tasks.
// Auth -> Schema Validate -> Reserve Credits -> Submit -> 202.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.ValidateCreateTask(raw); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	var spec orchestrator.TaskSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	token := r.Header.Get("Idempotency-Key")
	task, err := h.Orchestrator.CreateTask(r.Context(), userID, spec, token)
	if err != nil {
		h.writeCreateError(w, r, userID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

func (h *TaskHandler) writeCreateError(w http.ResponseWriter, r *http.Request, userID uuid.UUID, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		balance, balErr := h.Balances.Balance(r.Context(), userID)
		if balErr != nil {
			h.Logger.Error("read balance", "error", balErr)
		}
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   "insufficient credits",
			"balance": balance,
		})
	case errors.Is(err, provider.ErrProviderRejected):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, provider.ErrProviderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error("create task", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// --- GET /v1/tasks/{id} ---

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Orchestrator.GetTask(r.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get task", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// --- GET /v1/tasks ---

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit, offset := pagination(r)
	tasks, err := h.Orchestrator.ListTasks(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/tasks/{id}/cancel ---

func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Orchestrator.Cancel(r.Context(), userID, taskID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		case errors.Is(err, orchestrator.ErrCannotCancel):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "task is already finished"})
		default:
			h.Logger.Error("cancel task", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

// --- POST /v1/webhooks/{provider} ---

// ReceiveWebhook funnels provider callbacks into Reconcile. The endpoint
// always acknowledges malformed or unknown deliveries with 200 so providers
// don't retry poison payloads; only genuine internal failures return 5xx.
func (h *TaskHandler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	client, err := h.Providers.Get(providerName)
	if err != nil {
		h.Logger.Warn("webhook for unknown provider", "provider", providerName)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	upd, err := client.ParseWebhook(body, r.Header)
	if err != nil {
		h.Logger.Warn("malformed webhook discarded", "provider", providerName, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.Orchestrator.Reconcile(r.Context(), providerName, upd); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownTask) {
			h.Logger.Warn("webhook for unknown task discarded", "provider", providerName, "provider_task_id", upd.ProviderTaskID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.Logger.Error("webhook reconcile failed", "provider", providerName, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- GET /v1/providers ---

type providerInfo struct {
	Name    string           `json:"name"`
	Pricing map[string]int64 `json:"pricing"`
}

// ListProviders handles GET /v1/providers (public, no auth).
func (h *TaskHandler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	names := h.Providers.Names()
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		out = append(out, providerInfo{Name: name, Pricing: orchestrator.CreditCostByQuality})
	}
	writeJSON(w, http.StatusOK, out)
}
