package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/middleware"
	"github.com/syncreel/backend/internal/models"
)

// CreditsReader is the ledger surface the credits endpoints use.
type CreditsReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Breakdown(ctx context.Context, userID uuid.UUID) (free, purchased int64, err error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
}

// CreditsHandler serves /v1/credits endpoints.
type CreditsHandler struct {
	Ledger CreditsReader
	Logger *slog.Logger
}

type balanceResponse struct {
	Balance   int64 `json:"balance"`
	Free      int64 `json:"free"`
	Purchased int64 `json:"purchased"`
}

// GetBalance handles GET /v1/credits.
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), userID)
	if err != nil {
		h.Logger.Error("read balance", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	free, purchased, err := h.Ledger.Breakdown(r.Context(), userID)
	if err != nil {
		h.Logger.Error("read balance breakdown", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance, Free: free, Purchased: purchased})
}

type transactionResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
	ExpiresAt string `json:"expires_at,omitempty"`
	CreatedAt string `json:"created_at"`
}

// GetLedger handles GET /v1/credits/ledger.
func (h *CreditsHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit, offset := pagination(r)
	txs, err := h.Ledger.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list transactions", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp := transactionResponse{
			ID:        tx.ID.String(),
			Kind:      tx.Kind,
			Amount:    tx.Amount,
			CreatedAt: tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if tx.ExpiresAt != nil {
			resp.ExpiresAt = tx.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
