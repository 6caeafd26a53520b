// Spectral - Pentest Assistant Server
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

	"github.com/ashureev/spectral/internal/api"
	"github.com/ashureev/spectral/internal/assistant"
	"github.com/ashureev/spectral/internal/config"
	"github.com/ashureev/spectral/internal/engine"
	"github.com/ashureev/spectral/internal/identity"
	"github.com/ashureev/spectral/internal/intent"
	"github.com/ashureev/spectral/internal/llm"
	"github.com/ashureev/spectral/internal/middleware"
	"github.com/ashureev/spectral/internal/sandbox"
	"github.com/ashureev/spectral/internal/store"
	"github.com/ashureev/spectral/internal/tasks"
	"github.com/ashureev/spectral/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting Spectral", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	// Optional generation backend. A nil client keeps every feature on its
	// heuristic path.
	client, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		slog.Error("Failed to initialize generation backend", "error", err)
		os.Exit(1)
	}
	if client != nil {
		slog.Info("Generation backend initialized", "provider", cfg.LLM.Provider)
	} else {
		slog.Info("Generation features disabled (LLM_PROVIDER not set)")
	}

	var classifierOpts []intent.Option
	if client != nil {
		classifierOpts = append(classifierOpts, intent.WithRefiner(llm.NewIntentRefiner(client)))
	}
	classifier := intent.NewClassifier(classifierOpts...)

	// Task commands run in per-user sandboxes when enabled, otherwise on
	// the host.
	var runner tasks.Runner
	var sandboxMgr sandbox.Manager
	if cfg.Sandbox.Enabled {
		sandboxMgr, err = sandbox.NewDockerManager(cfg.Sandbox.Image)
		if err != nil {
			slog.Error("Failed to initialize sandbox manager", "error", err)
			os.Exit(1)
		}

		networkID, err := sandboxMgr.EnsureNetwork(context.Background())
		if err != nil {
			slog.Error("Failed to ensure sandbox network", "error", err)
			os.Exit(1)
		}
		slog.Info("Sandbox network ready", "network_id", networkID)

		runner = sandbox.NewTaskRunner(sandboxMgr, repo)
	} else {
		runner = tasks.HostRunner{Timeout: cfg.TaskTimeout}
		slog.Info("Sandbox disabled, task commands run on the host")
	}
	executor := tasks.NewExecutor(tasks.WithRunner(runner))

	transcripts, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}

	svcOpts := []assistant.Option{
		assistant.WithExecutor(executor),
		assistant.WithPolicy(engine.Policy{
			MinServices: cfg.Engine.MinServices,
			AutoAssess:  cfg.Engine.AutoAssess,
		}),
		assistant.WithRateLimit(cfg.RateLimitPerMin, time.Minute),
		assistant.WithConversationLogger(transcripts),
	}
	if client != nil {
		svcOpts = append(svcOpts, assistant.WithPhraser(llm.NewChatPhraser(client)))
	}
	svc := assistant.NewService(repo, classifier, svcOpts...)

	// Initialize handlers.
	chatHandler := assistant.NewHandler(svc)
	defer chatHandler.Close()
	wsHandler := assistant.NewWebSocketHandler(svc, cfg.AllowedOrigin, cfg.IsDevelopment())
	baseHandler := api.NewHandler(repo, cfg.Sandbox.TTL)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware. Heartbeat answers load-balancer probes before the
	// identity middleware can mint users for them.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	corsOrigins := []string{"*"}
	if cfg.AllowedOrigin != "" {
		corsOrigins = []string{cfg.AllowedOrigin}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Routes.
	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	baseHandler.RegisterRoutes(r)
	if sandboxMgr != nil {
		sandboxHandler := api.NewSandboxHandler(baseHandler, sandboxMgr)
		sandboxHandler.RegisterRoutes(r)
	}

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve the embedded chat UI.
	r.Handle("/*", web.StaticHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket sessions stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sandboxMgr != nil {
		sandbox.StartReaper(ctx, repo, sandboxMgr, cfg.Sandbox.TTL, nil)
	}

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
