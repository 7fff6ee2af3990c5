// capylingo - conversational language learning server
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/capylingo/internal/account"
	"github.com/ashureev/capylingo/internal/api"
	"github.com/ashureev/capylingo/internal/chat"
	"github.com/ashureev/capylingo/internal/config"
	"github.com/ashureev/capylingo/internal/content"
	"github.com/ashureev/capylingo/internal/dedup"
	"github.com/ashureev/capylingo/internal/engine"
	"github.com/ashureev/capylingo/internal/evaluator"
	"github.com/ashureev/capylingo/internal/identity"
	"github.com/ashureev/capylingo/internal/lives"
	"github.com/ashureev/capylingo/internal/middleware"
	"github.com/ashureev/capylingo/internal/review"
	"github.com/ashureev/capylingo/internal/reward"
	"github.com/ashureev/capylingo/internal/session"
	"github.com/ashureev/capylingo/internal/shared"
	"github.com/ashureev/capylingo/internal/speech"
	"github.com/ashureev/capylingo/internal/store"
)

// contentClient is a generator that can also judge answers.
type contentClient interface {
	content.Generator
	content.Judge
}

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

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"session_backend", cfg.Session.Backend, "content_provider", cfg.Content.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Session store.
	sessions, closeSessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	// Content generator and judge.
	client, closeContent, err := newContentClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeContent()

	var judge evaluator.Judge
	if cfg.Judge.Enabled {
		judge = client
	}
	grader, err := evaluator.New(evaluator.Config{
		HighThreshold: cfg.Evaluator.HighThreshold,
		LowThreshold:  cfg.Evaluator.LowThreshold,
		JudgeTimeout:  cfg.Judge.Timeout,
	}, judge, logger)
	if err != nil {
		return fmt.Errorf("initialize evaluator: %w", err)
	}

	// Account economy.
	policy, err := lives.NewPolicy(cfg.Lives.Cap, cfg.Lives.RestoreInterval)
	if err != nil {
		return fmt.Errorf("initialize lives policy: %w", err)
	}
	rewardCfg := reward.DefaultConfig()
	rewardCfg.HighStreakThreshold = cfg.Rewards.HighStreakThreshold
	rewardCfg.LevelXPBase = cfg.Rewards.LevelXPBase
	rewards, err := reward.NewEngine(rewardCfg)
	if err != nil {
		return fmt.Errorf("initialize rewards: %w", err)
	}
	accounts := account.NewService(repo, policy, rewards, account.Options{
		FreePremium: time.Duration(cfg.Lives.FreePremiumDays) * 24 * time.Hour,
		Logger:      logger,
	})

	machine, err := engine.New(engine.Config{
		GenerationTimeout:  cfg.Content.GenerationTimeout,
		GenerationAttempts: cfg.Content.GenerationAttempts,
		ReviewDelay:        cfg.ReviewDelay,
	}, engine.Deps{
		Sessions:    sessions,
		Accounts:    accounts,
		Completions: dedup.New(repo, nil),
		Reviews:     review.NewQueue(repo, nil),
		Grader:      grader,
		Generator:   content.WithMetrics(client),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	// Optional voice input.
	var transcriber speech.Transcriber
	if cfg.SpeechEnabled {
		g, err := speech.NewGoogle(ctx, logger)
		if err != nil {
			return fmt.Errorf("initialize speech: %w", err)
		}
		defer func() {
			if closeErr := g.Close(); closeErr != nil {
				slog.Debug("Failed to close speech client", "error", closeErr)
			}
		}()
		transcriber = g
		slog.Info("Voice input enabled")
	}

	// Transports.
	limiter := shared.NewRateLimiters(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	registry := chat.NewRegistry()
	apiHandler := api.NewHandler(machine, accounts, transcriber, limiter, logger)
	wsHandler := chat.NewWebSocketHandler(machine, registry, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Route("/api", func(r chi.Router) {
			apiHandler.Routes(r)
			if cfg.AdminToken == "" {
				return
			}
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminToken(cfg.AdminToken))
				apiHandler.AdminRoutes(r)
			})
		})
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// WriteTimeout stays 0: websocket connections are long lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return session.RunSweeper(gctx, sessions, cfg.Session.SweepInterval, cfg.Session.TTL, func(key string) {
			limiter.Forget(key)
			registry.CloseSession(key)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.Session.Backend == "redis" {
		rs, err := session.NewRedisStore(ctx, cfg.Session.RedisAddr, cfg.Session.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis session store: %w", err)
		}
		slog.Info("Redis session store connected", "addr", cfg.Session.RedisAddr)
		return rs, closer("redis session store", rs), nil
	}
	return session.NewMemoryStore(nil), func() {}, nil
}

func newContentClient(cfg *config.Config, logger *slog.Logger) (contentClient, func(), error) {
	if cfg.Content.Provider == "grpc" {
		gc, err := content.NewGrpcClient(content.DefaultGrpcClientConfig(cfg.Content.GrpcAddr), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect content service: %w", err)
		}
		return gc, gc.Close, nil
	}
	oc, err := content.NewOpenAIClient(content.OpenAIConfig{
		APIKey:  cfg.Content.APIKey,
		BaseURL: cfg.Content.BaseURL,
		Model:   cfg.Content.Model,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize content client: %w", err)
	}
	return oc, func() {}, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

func closer(name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Error("Failed to close "+name, "error", err)
		}
	}
}
