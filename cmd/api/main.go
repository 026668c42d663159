package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncreel/backend/internal/auth"
	"github.com/syncreel/backend/internal/config"
	"github.com/syncreel/backend/internal/handlers"
	"github.com/syncreel/backend/internal/ledger"
	"github.com/syncreel/backend/internal/middleware"
	"github.com/syncreel/backend/internal/orchestrator"
	"github.com/syncreel/backend/internal/provider"
	"github.com/syncreel/backend/internal/repository"
	"github.com/syncreel/backend/internal/rewards"
	"github.com/syncreel/backend/internal/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found; relying on existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migrate failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Application schema applied")

	// Repositories
	taskRepo := repository.NewTaskRepo(pool)
	userRepo := repository.NewUserRepo(pool)
	shareRepo := repository.NewShareRepo(pool)

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, ledgerRepo)

	// Provider clients
	var clients []provider.Client
	if cfg.HeyGenAPIKey != "" {
		clients = append(clients, provider.NewHeyGenClient(cfg.HeyGenBaseURL, cfg.HeyGenAPIKey, cfg.HeyGenWebhookSecret))
	}
	if cfg.DIDAPIKey != "" {
		clients = append(clients, provider.NewDIDClient(cfg.DIDBaseURL, cfg.DIDAPIKey))
	}
	if len(clients) == 0 {
		slog.Warn("No generation providers configured; task submission will fail")
	}
	registry := provider.NewRegistry(clients...)

	// Orchestrator: submit-retry insert func is set after the River client
	// is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn orchestrator.InsertSubmitTxFunc
	insertSubmit := func(ctx context.Context, tx pgx.Tx, args workers.ProviderSubmitArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	orchSvc := orchestrator.NewService(pool, taskRepo, ledgerSvc, registry, insertSubmit, cfg.PublicBaseURL, logger)

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewProviderSubmitWorker(orchSvc))
	river.AddWorker(riverWorkers, workers.NewTaskSweepWorker(orchSvc))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: riverWorkers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return workers.TaskSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args workers.ProviderSubmitArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Rewards & Auth
	rewardsSvc := rewards.NewService(userRepo, shareRepo, ledgerSvc, logger)
	authSvc := auth.NewService(userRepo, rewardsSvc, cfg.JWTSecret, logger)
	authHandler := auth.NewHandler(authSvc, logger)

	validator, err := orchestrator.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	taskHandler := &handlers.TaskHandler{
		Orchestrator: orchSvc,
		Balances:     ledgerSvc,
		Providers:    registry,
		Validator:    validator,
		Logger:       logger,
	}
	creditsHandler := &handlers.CreditsHandler{Ledger: ledgerSvc, Logger: logger}
	rewardsHandler := &handlers.RewardsHandler{Rewards: rewardsSvc, Logger: logger}

	mux := http.NewServeMux()
	RegisterRoutes(mux, authHandler, taskHandler, creditsHandler, rewardsHandler, middleware.UserAuth(authSvc))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes submit retries and sweeps)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := cfg.HTTPAddress()
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
