package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/middleware"
	"github.com/syncreel/backend/internal/rewards"
)

// RewardClaimer is the rewards surface the handler uses.
type RewardClaimer interface {
	ClaimShareReward(ctx context.Context, userID uuid.UUID, platform string) (int64, error)
}

// RewardsHandler serves /v1/rewards endpoints.
type RewardsHandler struct {
	Rewards RewardClaimer
	Logger  *slog.Logger
}

type shareRequest struct {
	Platform string `json:"platform"`
}

// ClaimShare handles POST /v1/rewards/share.
func (h *RewardsHandler) ClaimShare(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Platform == "" {
		http.Error(w, `{"error":"platform is required"}`, http.StatusBadRequest)
		return
	}

	amount, err := h.Rewards.ClaimShareReward(r.Context(), userID, req.Platform)
	if err != nil {
		switch {
		case errors.Is(err, rewards.ErrUnknownPlatform):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, rewards.ErrAlreadyClaimed):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			h.Logger.Error("claim share reward", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": amount})
}
