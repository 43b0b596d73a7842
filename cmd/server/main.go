// vidsync - video-synchronized interaction server
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

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/api"
	"github.com/ashureev/vidsync-labs/internal/config"
	"github.com/ashureev/vidsync-labs/internal/identity"
	"github.com/ashureev/vidsync-labs/internal/interaction"
	"github.com/ashureev/vidsync-labs/internal/middleware"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
	"github.com/ashureev/vidsync-labs/internal/reflection"
	"github.com/ashureev/vidsync-labs/internal/store"
	"github.com/ashureev/vidsync-labs/internal/stream"
	"github.com/ashureev/vidsync-labs/internal/telemetry"
	"github.com/ashureev/vidsync-labs/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "container", config.IsContainer())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	tel, err := telemetry.Init(ctx, telemetry.Config{Enabled: cfg.Metrics.Enabled, ServiceName: "vidsync-labs"})
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := orchestrator.NewMetrics(tel.Meter)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Quiz bank backs the canned generator and the quiz fallback.
	bank := agent.NewQuizBank(logger)
	if cfg.Quiz.BankPath != "" {
		bank, err = agent.LoadQuizBank(cfg.Quiz.BankPath, logger)
		if err != nil {
			slog.Error("Failed to load quiz bank", "error", err, "path", cfg.Quiz.BankPath)
			os.Exit(1)
		}
		if err := bank.Watch(ctx); err != nil {
			slog.Warn("Quiz bank hot reload disabled", "error", err)
		}
	}

	// Remote generator is optional; canned responses keep the flows usable.
	var gen agent.Generator = agent.NewCanned(bank)
	if cfg.AIEnabled() {
		slog.Info("Attempting to connect to agent service via gRPC", "address", cfg.Agent.Addr)
		grpcCfg := agent.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.Agent.Addr
		grpcCfg.RequestTimeout = cfg.Agent.Timeout
		grpcClient, err := agent.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to agent service, using canned responses", "error", err)
		} else {
			defer grpcClient.Close()
			gen = grpcClient
		}
	} else {
		slog.Info("AI features disabled (AGENT_ADDR not set), using canned responses")
	}

	agentSvc := agent.NewService(gen, agent.ServiceConfig{
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		Timeout:           cfg.Agent.Timeout,
		UpgradeMessage:    cfg.Agent.UpgradeMessage,
		QuestionCount:     cfg.Quiz.QuestionCount,
	}, logger)
	defer agentSvc.Close()

	transcript, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := transcript.Close(); err != nil {
			slog.Warn("Failed to close transcript logger", "error", err)
		}
	}()

	reflections := reflection.WithRetry(
		reflection.NewService(repo, cfg.MediaDir, "/media", logger),
		cfg.Interaction.ReflectionSaveAttempts,
		cfg.Interaction.CommandRetryDelay,
		logger,
	)

	reg := interaction.NewRegistry(interaction.Config{
		Store: repo,
		Template: orchestrator.Config{
			Generator:        agentSvc,
			Reflections:      reflections,
			Transcript:       transcript,
			Metrics:          metrics,
			Logger:           logger,
			CountdownSeconds: cfg.Interaction.CountdownSeconds,
			QuestionCount:    cfg.Quiz.QuestionCount,
			RetryDelay:       cfg.Interaction.CommandRetryDelay,
		},
		Logger: logger,
	})
	defer reg.Close()

	interaction.StartReaper(ctx, reg, interaction.DefaultReapInterval, cfg.SessionTTL, func(s *interaction.Session) {
		slog.Info("Interaction session expired", "user_id", s.UserID, "session_id", s.SessionID)
	})
	slog.Info("Session reaper started", "session_ttl", cfg.SessionTTL)

	// Initialize handlers.
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = tel.Handler()
	}
	streamHandler := stream.NewHandler(reg, stream.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		SSERetryDelay: cfg.SSE.RetryDelay,
		SSEKeepalive:  cfg.SSE.KeepaliveInterval,
	})
	apiHandler := api.NewHandler(repo, reg, cfg, metricsHandler).WithStream(streamHandler.ServeSSE)

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	// Public routes.
	apiHandler.RegisterOps(r)
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))

	// Everything else carries an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/interaction", streamHandler.ServeWS)
	})

	// Interaction console (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
