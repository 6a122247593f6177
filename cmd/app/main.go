// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"health-triage/internal/config"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/domain/ports/repository"
	aiAdapters "health-triage/internal/infra/adapters/ai"
	"health-triage/internal/infra/adapters/language"
	"health-triage/internal/infra/adapters/workers"
	"health-triage/internal/infra/api"
	apiv1 "health-triage/internal/infra/api/apiv1"
	"health-triage/internal/infra/db/memory"
	pg "health-triage/internal/infra/db/postgres"
	"health-triage/internal/infra/db/sqlite"
	"health-triage/internal/infra/i18n"
	"health-triage/internal/infra/knowledge"
	"health-triage/internal/infra/lock"
	"health-triage/internal/infra/logging"
	"health-triage/internal/infra/metrics"
	red "health-triage/internal/infra/redis"
	"health-triage/internal/infra/sched"
	"health-triage/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, offline model)")
	mintFor := flag.String("mint-admin-token", "", "print an admin bearer token for the named operator and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *mintFor != "" {
		if cfg.HTTP.AdminJWTSecret == "" {
			log.Fatal("http.admin_jwt_secret (ADMIN_JWT_SECRET) is not set")
		}
		tok, err := api.NewAuthManager(cfg.HTTP.AdminJWTSecret, 0).Mint(*mintFor)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("health-triage stopped with error")
	}
	logger.Info().Msg("health-triage stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	health := map[string]apiv1.Pinger{}

	// ---- Session store ----
	var repo repository.SessionRepository
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		repo = pg.NewPostgresSessionRepo(pool)
		health["postgres"] = pool
		g.Go(func() error {
			pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
			return nil
		})
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		defer db.Close()
		repo = db
		health["sqlite"] = db
	default:
		logger.Warn().Msg("using in-memory session store; sessions are lost on restart")
		repo = memory.NewSessionRepo()
	}

	// ---- Redis (optional) ----
	var (
		locker      repository.SessionLocker = lock.NewLocal()
		rateLimiter repository.RateLimiter
		transCache  repository.TranslationCache
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		repo = red.NewSessionRepoCacheDecorator(repo, redisClient, cfg.Redis.TTL, logger)
		locker = red.NewSessionLocker(redisClient, locker, cfg.Session.LockTTL, logger)
		rateLimiter = red.NewRateLimiter(redisClient)
		transCache = red.NewTranslationCache(redisClient)
		health["redis"] = redisClient
	}

	// ---- Model gateway ----
	gateway, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// ---- Language service ----
	var lang adapter.LanguageService
	switch cfg.Language.Translator {
	case "passthrough":
		lang = language.NewPassthroughService()
	default:
		lang = language.NewModelService(gateway, transCache, cfg.Language.CacheTTL, logger)
	}

	// ---- Static data ----
	kb, err := knowledge.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	bank, err := i18n.NewBank(i18n.LocalesFS)
	if err != nil {
		return fmt.Errorf("locales: %w", err)
	}
	roster, err := workers.NewStaticDirectory(cfg.Workers)
	if err != nil {
		return fmt.Errorf("workers: %w", err)
	}

	// ---- Use cases ----
	classifier := usecase.NewClassifierUseCase(kb, lang, logger)
	assess := usecase.NewAssessmentUseCase(kb, cfg.Assessment.AbandonAfter, logger)
	escalation := usecase.NewEscalationUseCase(roster, logger)
	sessions := usecase.NewSessionUseCase(
		repo, locker, classifier, assess, escalation,
		gateway, lang, bank, aiAdapters.NewTokenCounter(),
		usecase.SessionOptions{
			PreferredModel: cfg.AI.DefaultModel,
			HistoryTokens:  cfg.Session.HistoryTokens,
			MaxTokens:      cfg.AI.MaxTokens,
			Temperature:    *cfg.AI.Temperature,
		},
		logger,
	)

	// ---- HTTP ----
	var auth *api.AuthManager
	if cfg.HTTP.AdminJWTSecret != "" {
		auth = api.NewAuthManager(cfg.HTTP.AdminJWTSecret, 0)
	} else {
		logger.Warn().Msg("http.admin_jwt_secret not set; admin routes are closed")
	}
	r := chi.NewRouter()
	r.Use(
		api.TraceID(logger),
		api.RequestLog(logger),
		api.Recover(logger),
		api.Timeout(cfg.HTTP.RequestTimeout),
	)
	apiv1.RegisterAPIV1(r, apiv1.NewServer(sessions, gateway, apiv1.Options{
		Auth:           auth,
		Limiter:        rateLimiter,
		TurnsPerMinute: cfg.HTTP.TurnsPerMinute,
		Health:         health,
	}, logger))
	httpServer := api.NewServer(cfg.HTTP.Port, r, logger)

	// ---- Background workers ----
	g.Go(func() error { return httpServer.Run(gctx) })
	g.Go(func() error {
		return ignoreCancel(sched.NewGatewayResetWorker(cfg.AI.ResetInterval, gateway, logger).Run(gctx))
	})
	g.Go(func() error {
		reaper := sched.NewIdleReaper(cfg.Session.ReapInterval, cfg.Session.IdleTimeout, sessions, logger)
		return ignoreCancel(reaper.Run(gctx))
	})

	logger.Info().
		Str("version", version).
		Str("db", cfg.Database.Driver).
		Bool("redis", cfg.Redis.URL != "").
		Strs("models", cfg.AI.Models).
		Int("workers", len(cfg.Workers)).
		Msg("health-triage started")

	return g.Wait()
}

// buildGateway registers a provider per configured key. Without any key
// (or in dev mode) the offline provider answers so the flow stays usable.
func buildGateway(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*aiAdapters.Gateway, error) {
	byProvider := map[string]adapter.ModelProvider{}
	defaultProvider := ""

	if cfg.AI.GeminiKey != "" {
		p, err := aiAdapters.NewGeminiProvider(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		byProvider["gemini"] = aiAdapters.NewLimitedProvider(p, cfg.AI.ConcurrentLimit)
		defaultProvider = "gemini"
	}
	if cfg.AI.OpenAIKey != "" {
		p, err := aiAdapters.NewOpenAIProvider(cfg.AI.OpenAIKey, cfg.AI.OpenAIURL)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		byProvider["openai"] = aiAdapters.NewLimitedProvider(p, cfg.AI.ConcurrentLimit)
		if defaultProvider == "" {
			defaultProvider = "openai"
		}
	}
	if defaultProvider == "" || cfg.Runtime.Dev {
		logger.Warn().Msg("no model provider key configured; using offline noop provider")
		byProvider["noop"] = aiAdapters.NewNoopProvider(logger)
		if defaultProvider == "" {
			defaultProvider = "noop"
		}
	}

	router := aiAdapters.NewRouter(defaultProvider, byProvider, cfg.AI.Routes)
	return aiAdapters.NewGateway(router, aiAdapters.GatewayConfig{
		Models:         cfg.AI.Models,
		MaxAttempts:    cfg.AI.MaxAttempts,
		BaseDelay:      cfg.AI.BaseDelay,
		MaxDelay:       cfg.AI.MaxDelay,
		AttemptTimeout: cfg.AI.AttemptTimeout,
		ResetInterval:  cfg.AI.ResetInterval,
	}, aiAdapters.NewTokenCounter(), logger), nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
