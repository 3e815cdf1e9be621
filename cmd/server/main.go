// rhails - Conversation-to-Operation Orchestration Server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/maxamillion/rhails/internal/api"
	"github.com/maxamillion/rhails/internal/audit"
	"github.com/maxamillion/rhails/internal/backend"
	"github.com/maxamillion/rhails/internal/cache"
	"github.com/maxamillion/rhails/internal/config"
	"github.com/maxamillion/rhails/internal/conversation"
	"github.com/maxamillion/rhails/internal/identity"
	"github.com/maxamillion/rhails/internal/interpret"
	"github.com/maxamillion/rhails/internal/middleware"
	"github.com/maxamillion/rhails/internal/orchestrator"
	"github.com/maxamillion/rhails/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	client := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.RequestTimeout)
	if cfg.Backend.URL != "" {
		if err := client.WaitForReady(context.Background(), 30*time.Second); err != nil {
			slog.Error("Resource backend unreachable", "url", cfg.Backend.URL, "error", err)
			os.Exit(1)
		}
		slog.Info("Resource backend connected", "url", cfg.Backend.URL)
	} else {
		slog.Warn("BACKEND_URL not set, backend calls will fail")
	}

	auditWriter, err := audit.NewWriter(repo, audit.Config{
		QueueSize:   cfg.AuditLog.QueueSize,
		FallbackDir: cfg.AuditLog.FallbackDir,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit writer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditWriter.Close(); closeErr != nil {
			slog.Error("Failed to flush audit writer", "error", closeErr)
		}
	}()

	// Initialize services.
	snapshots := cache.New(client, cfg.CacheTTL)
	convo := conversation.NewManager(repo, cfg.HistoryLimit)
	parser := interpret.NewParser()
	compiler := orchestrator.NewCompiler(cfg.ConfidenceThreshold, snapshots, convo)
	executor := orchestrator.NewExecutor(client, repo, snapshots, auditWriter, logger,
		cfg.Backend.RequestTimeout, orchestrator.RetryPolicy{
			BaseDelay:  cfg.RetryBaseDelay,
			MaxRetries: cfg.MaxRetries,
		})
	gate := orchestrator.NewGate(cfg.ConfirmWindow)

	engine := orchestrator.NewEngine(parser, compiler, executor, gate, convo, repo, auditWriter,
		logger, orchestrator.Config{
			RatePerMinute:     cfg.RatePerMinute,
			RateBurst:         cfg.RateBurst,
			SessionInactivity: cfg.SessionInactivity,
			SweepInterval:     cfg.SweepInterval,
		})

	// Initialize handlers.
	baseHandler := api.NewHandler(engine)
	healthHandler := api.NewHealthHandler(repo, client)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// API routes.
	baseHandler.RegisterRoutes(r)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start maintenance worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.RunMaintenance(ctx)
	slog.Info("Maintenance worker started",
		"sweep_interval", cfg.SweepInterval, "session_inactivity", cfg.SessionInactivity)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
