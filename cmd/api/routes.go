package main

import (
	"net/http"

	"github.com/syncreel/backend/internal/auth"
	"github.com/syncreel/backend/internal/handlers"
)

// RegisterRoutes adds all /v1/ endpoints to the given mux.
// Middleware chain: UserAuth -> handler; webhook and auth routes stay open.
func RegisterRoutes(
	mux *http.ServeMux,
	authHandler *auth.Handler,
	taskHandler *handlers.TaskHandler,
	creditsHandler *handlers.CreditsHandler,
	rewardsHandler *handlers.RewardsHandler,
	userAuth func(http.Handler) http.Handler,
) {
	// Public
	mux.HandleFunc("POST /v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /v1/providers", taskHandler.ListProviders)

	// Provider callbacks authenticate via per-provider signatures, not JWT.
	mux.HandleFunc("POST /v1/webhooks/{provider}", taskHandler.ReceiveWebhook)

	// Authenticated
	mux.Handle("POST /v1/tasks", userAuth(http.HandlerFunc(taskHandler.CreateTask)))
	mux.Handle("GET /v1/tasks", userAuth(http.HandlerFunc(taskHandler.ListTasks)))
	mux.Handle("GET /v1/tasks/{id}", userAuth(http.HandlerFunc(taskHandler.GetTask)))
	mux.Handle("POST /v1/tasks/{id}/cancel", userAuth(http.HandlerFunc(taskHandler.CancelTask)))

	mux.Handle("GET /v1/credits", userAuth(http.HandlerFunc(creditsHandler.GetBalance)))
	mux.Handle("GET /v1/credits/ledger", userAuth(http.HandlerFunc(creditsHandler.GetLedger)))

	mux.Handle("POST /v1/rewards/share", userAuth(http.HandlerFunc(rewardsHandler.ClaimShare)))
}
