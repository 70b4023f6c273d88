package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/cors"

	"github.com/iayos/backend/internal/assignment"
	"github.com/iayos/backend/internal/attendance"
	"github.com/iayos/backend/internal/auth"
	"github.com/iayos/backend/internal/buffer"
	"github.com/iayos/backend/internal/config"
	"github.com/iayos/backend/internal/dashboard"
	"github.com/iayos/backend/internal/db"
	"github.com/iayos/backend/internal/escrow"
	"github.com/iayos/backend/internal/execution"
	"github.com/iayos/backend/internal/gateway"
	"github.com/iayos/backend/internal/handlers"
	"github.com/iayos/backend/internal/jobs"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/payments"
	"github.com/iayos/backend/internal/repository"
	"github.com/iayos/backend/internal/router"
	"github.com/iayos/backend/internal/validate"
	"github.com/iayos/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == config.Default().JWTSecret {
		slog.Warn("JWT_SECRET not set, using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Apply(ctx, pool); err != nil {
		slog.Error("Schema apply failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Events are queued through River; the client is assigned below, before anything can publish.
	var riverClient *river.Client[pgx.Tx]
	publisher := execution.NewRiverPublisher(execution.InsertManyFunc(
		func(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error) {
			return riverClient.InsertMany(ctx, params)
		}), logger)

	// Core services
	store := repository.NewStore(pool)
	ledgerSvc := ledger.NewService(store)
	walletSvc := wallet.NewService(store, ledgerSvc)
	bufferSvc := buffer.NewService(store, store, walletSvc, cfg.BufferDuration(), publisher, logger)
	escrowCtl := escrow.NewController(walletSvc, ledgerSvc, bufferSvc, cfg.Fees)
	gw := gateway.NewXendit(cfg.Gateway)

	jobsSvc := jobs.NewService(store, store, walletSvc, ledgerSvc, escrowCtl, assignment.NewCoordinator(store), gw, publisher, logger)
	attendanceSvc := attendance.NewService(store, store, escrowCtl, cfg.Attendance, publisher, logger)
	paymentsSvc := payments.NewService(store, store, walletSvc, ledgerSvc, gw, jobsSvc, publisher, logger)
	authSvc := auth.NewService(store, cfg.JWTSecret)

	// Background workers
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewNotifyWorker(cfg.NotifyWebhookURL, logger))
	river.AddWorker(workers, execution.NewReleaseEarningsWorker(bufferSvc, logger))
	river.AddWorker(workers, execution.NewCloseAttendanceWorker(attendanceSvc, logger))

	riverClient, err = river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: execution.PeriodicJobs(time.Hour, 15*time.Minute),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// HTTP
	api := router.New(router.Handlers{
		Auth:       auth.NewHandler(authSvc, logger),
		Jobs:       jobs.NewHandler(jobsSvc, logger),
		Wallet:     handlers.NewWalletHandler(paymentsSvc, logger),
		Attendance: handlers.NewAttendanceHandler(attendanceSvc, logger),
		Admin:      handlers.NewAdminHandler(paymentsSvc, bufferSvc, attendanceSvc, logger),
		Webhooks:   handlers.NewWebhookHandler(gw, paymentsSvc, logger),
		Dashboard:  dashboard.NewHandler(authSvc, paymentsSvc, jobsSvc, logger),
	}, authSvc, validate.MustNew())

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	RegisterOpsRoutes(mux, pool)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.CallbackHeader},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
