package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentsnare/snare-go/internal/alert"
	"github.com/agentsnare/snare-go/internal/auth"
	"github.com/agentsnare/snare-go/internal/config"
	"github.com/agentsnare/snare-go/internal/db"
	"github.com/agentsnare/snare-go/internal/detect"
	snaredns "github.com/agentsnare/snare-go/internal/dns"
	"github.com/agentsnare/snare-go/internal/handlers"
	"github.com/agentsnare/snare-go/internal/honeypot"
	"github.com/agentsnare/snare-go/internal/netguard"
	"github.com/agentsnare/snare-go/internal/observability"
	"github.com/agentsnare/snare-go/internal/ratelimit"
	"github.com/agentsnare/snare-go/internal/server"
	"github.com/agentsnare/snare-go/internal/session"
	"github.com/agentsnare/snare-go/internal/sse"
	snaretls "github.com/agentsnare/snare-go/internal/tls"
	"github.com/agentsnare/snare-go/internal/tokens"
	"github.com/agentsnare/snare-go/internal/triage"
	"github.com/agentsnare/snare-go/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL. A dead database is not fatal: detection keeps
	// running on in-memory sessions and resumes persisting after a restart.
	database, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("database unavailable, running on in-memory sessions", "err", err)
		database = nil
	} else {
		defer database.Close()
	}

	// Honey token catalogue. Seeding writes through to the database; when
	// that fails the registry keeps the catalogue in memory so the bait
	// stays planted either way.
	registry := tokens.New(database, logger)
	if err := registry.Seed(ctx, tokens.DefaultCatalogue(cfg.BaitAPIKey)); err != nil {
		logger.Error("honey token seed not persisted, keeping catalogue in memory", "err", err)
		registry = tokens.New(nil, logger)
		_ = registry.Seed(ctx, tokens.DefaultCatalogue(cfg.BaitAPIKey))
	}

	// Alert webhook (optional). URLs resolving into private ranges are refused.
	var notifier *alert.Notifier
	if cfg.WebhookURL != "" {
		if err := netguard.CheckURL(cfg.WebhookURL); err != nil {
			logger.Error("webhook url rejected", "err", err)
		} else {
			notifier = alert.New(cfg.WebhookURL)
		}
	}

	metrics := observability.New()
	hub := sse.NewHub(logger)
	wsManager := ws.NewManager(database, logger)

	memStore := session.NewMemoryStore()
	defer memStore.Stop()

	analyzer := detect.NewAnalyzer(detect.Options{
		DB:        database,
		Memory:    memStore,
		Tokens:    registry,
		Logger:    logger,
		WS:        wsManager,
		Hub:       hub,
		Metrics:   metrics,
		Alerts:    notifier,
		QueueSize: cfg.AnalysisQueue,
		Timeout:   cfg.AnalysisTimeout,
	})

	// Honeypot surface: every method and path lands on the same handler.
	hpHandler := honeypot.NewHandler(analyzer, registry, metrics, logger, cfg.BaitAPIKey)
	hp := chi.NewRouter()
	hp.Use(middleware.Recoverer)
	hp.HandleFunc("/*", hpHandler.Serve)

	// Operator surface
	resolver := snaredns.NewResolver(logger)
	triager := triage.New(cfg.AnthropicAPIKey, cfg.TriageModel)
	if triager == nil {
		logger.Info("session triage disabled, no model credentials configured")
	}
	limiter := ratelimit.New()

	// GitHub OAuth needs the database for operator records; without it the
	// static bearer token is the only way into /api.
	var sm *auth.SessionManager
	var oauth *auth.OAuthHandler
	if database != nil && cfg.GitHubClientID != "" {
		sm = auth.NewSessionManager(database, logger, cfg.Production())

		// Token encryption (optional — nil if env var not set)
		var tokenEnc *auth.TokenEncryptor
		if enc, err := auth.NewTokenEncryptor(cfg.TokenEncryptionKey); err == nil {
			tokenEnc = enc
		} else {
			logger.Warn("token encryption not configured", "err", err)
		}

		oauth = auth.NewOAuthHandler(auth.OAuthConfig{
			ClientID:      cfg.GitHubClientID,
			ClientSecret:  cfg.GitHubClientSecret,
			BaseURL:       cfg.BaseURL,
			AllowedLogins: cfg.AllowedLogins,
		}, sm, database, logger, tokenEnc)
	}
	if sm == nil && cfg.OperatorToken == "" {
		logger.Warn("no operator auth configured, /api will reject every request")
	}

	sessionHandler := handlers.NewSessionHandler(database, resolver, triager, logger)
	dashHandler := handlers.NewDashboardHandler(database, logger)
	tokenHandler := handlers.NewTokenHandler(registry, logger)
	streamHandler := handlers.NewStreamHandler(hub)

	ops := chi.NewRouter()
	ops.Use(middleware.RealIP)
	ops.Use(middleware.Recoverer)
	ops.Use(middleware.RequestID)
	ops.Use(corsMiddleware)

	// Health check
	ops.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})

	// Prometheus metrics
	ops.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Auth routes (no auth middleware)
	if oauth != nil {
		ops.Group(func(r chi.Router) {
			r.Use(rateLimited(limiter, "auth"))
			r.Get("/auth/github", oauth.BeginLogin)
			r.Get("/auth/github/callback", oauth.Callback)
			r.Get("/auth/me", oauth.Me)
			r.Post("/auth/logout", oauth.Logout)
		})
	}

	// WebSocket live feed (read-only, no auth)
	ops.Get("/ws", wsManager.HandleWS)

	// API routes (require operator auth)
	ops.Route("/api", func(api chi.Router) {
		api.Use(auth.RequireOperator(sm, cfg.OperatorToken))
		api.Use(rateLimited(limiter, "api"))

		api.Get("/sessions", sessionHandler.ListSessions)
		api.Get("/sessions/{id}", sessionHandler.GetSession)
		api.Get("/sessions/{id}/requests", sessionHandler.GetSessionRequests)
		api.With(rateLimited(limiter, "triage")).Post("/sessions/{id}/triage", sessionHandler.TriageSession)

		api.Get("/requests/recent", dashHandler.GetRecentRequests)
		api.Get("/stats", dashHandler.GetStats)
		api.Get("/techniques", dashHandler.GetTechniques)

		api.Get("/tokens", tokenHandler.ListTokens)
		api.Post("/tokens", tokenHandler.CreateToken)

		// SSE streams
		api.With(rateLimited(limiter, "stream")).Get("/stream/detections", streamHandler.HandleDetections)
		api.With(rateLimited(limiter, "stream")).Get("/stream/stats", streamHandler.HandleStats)
	})

	// Start background goroutines
	for i := 1; i <= cfg.AnalysisWorkers; i++ {
		name := fmt.Sprintf("analysis-worker-%d", i)
		go server.RunWithRecovery(ctx, logger, name, func(ctx context.Context) {
			analyzer.Run(ctx)
		})
	}

	// The sweeper closes idle sessions in whichever store is authoritative.
	var ender session.Ender = memStore
	if database != nil {
		ender = database
	}
	sweeper := session.NewSweeper(ender, wsManager, metrics, logger)
	go server.RunWithRecovery(ctx, logger, "session-sweeper", func(ctx context.Context) {
		sweeper.Run(ctx)
	})

	go server.RunWithRecovery(ctx, logger, "stats-broadcast", func(ctx context.Context) {
		statsLoop(ctx, database, wsManager, hub, metrics, logger)
	})

	if database != nil {
		go server.RunWithRecovery(ctx, logger, "partition-maintenance", func(ctx context.Context) {
			database.MaintainPartitions(ctx)
		})
	}
	if sm != nil {
		go server.RunWithRecovery(ctx, logger, "operator-session-cleanup", sm.CleanupLoop)
	}
	if oauth != nil {
		go oauth.StateCleanupLoop(ctx)
	}

	opsSrv := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      ops,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}
	hpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      hp,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel() // stop background goroutines

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("operator server shutdown failed", "err", err)
		}
		if err := hpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("honeypot shutdown failed", "err", err)
		}
	}()

	go func() {
		logger.Info("operator api starting", "port", cfg.OpsPort)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("operator api failed", "err", err)
			os.Exit(1)
		}
	}()

	// The honeypot is the primary surface. In production it answers HTTPS
	// for the bait domains with on-demand certificates.
	if cfg.Production() && len(cfg.Domains) > 0 {
		cm := snaretls.NewCertManager(cfg.Domains, cfg.ACMEEmail, true, logger)
		if err := cm.ListenAndServe(hp); err != nil {
			logger.Error("honeypot tls server failed", "err", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("honeypot starting", "port", cfg.Port)
	if err := hpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("honeypot failed", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// statsLoop refreshes the uptime gauge and pushes aggregate stats to live
// dashboards every 30 seconds.
func statsLoop(ctx context.Context, database *db.DB, wsManager *ws.Manager, hub *sse.Hub, metrics *observability.Metrics, logger *slog.Logger) {
	started := time.Now()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetUptime(started)
			if database == nil {
				continue
			}
			stats, err := database.GetStats(ctx)
			if err != nil {
				logger.Warn("stats refresh failed", "err", err)
				continue
			}
			event := map[string]any{
				"type":             "stats",
				"total_sessions":   stats.TotalSessions,
				"active_sessions":  stats.ActiveSessions,
				"ai_agents":        stats.AIAgents,
				"scrapers":         stats.Scrapers,
				"humans":           stats.Humans,
				"total_requests":   stats.TotalRequests,
				"tokens_triggered": stats.TokensTriggered,
				"avg_score":        stats.AvgScore,
				"max_score":        stats.MaxScore,
			}
			wsManager.Broadcast(event)
			if data, err := json.Marshal(event); err == nil {
				hub.Publish(sse.TopicStats, sse.Event{Type: "stats", Data: data})
			}
		}
	}
}

// rateLimited wraps handlers with one of the limiter's named buckets.
func rateLimited(limiter *ratelimit.Limiter, bucket string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Check(w, r, bucket) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for the dashboard, which is served from a
// separate origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
