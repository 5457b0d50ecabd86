package main

import (
	"context"
	"time"

	"echotwin/db"
	twinconfig "echotwin/internal/config"
	"echotwin/internal/farcaster"
	"echotwin/internal/handlers"
	"echotwin/internal/identity"
	"echotwin/internal/ledger"
	"echotwin/internal/mimic"
	"echotwin/internal/pipeline"
	"echotwin/internal/settings"
	"echotwin/pkg/config"
	"echotwin/pkg/database"
	"echotwin/pkg/llm"
	"echotwin/pkg/logging"
	"echotwin/pkg/monitoring"
	"echotwin/pkg/server"
	"echotwin/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("echotwin")

	config.LoadEnv(logger)

	logger.Info("Starting EchoTwin (AI twin reply bot)")

	cfg := twinconfig.LoadConfig()

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	conn := database.MustConnect(dbConfig, logger)
	defer func() { _ = conn.Close() }()

	if err := db.Apply(context.Background(), conn); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	healthChecker := monitoring.NewHealthChecker("echotwin", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("echotwin", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(conn))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":        cfg.DatabaseURL,
		"IDENTITY_JWT_SECRET": cfg.IdentityJWTSecret,
		"NEYNAR_API_KEY":      cfg.FarcasterAPIKey,
	}))

	settingsStore := settings.NewStore(conn)
	ledgerStore := ledger.NewStore(conn)

	var locker ledger.RunLocker
	if cfg.RedisURL != "" {
		redisLock, err := ledger.NewRedisRunLock(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis for run locks")
		}
		defer func() { _ = redisLock.Close() }()
		locker = redisLock
		logger.Info("Using Redis run locks")
	} else {
		locker = ledger.NewMemoryRunLock()
		logger.Warn("REDIS_URL not set - using in-process run locks (single instance only)")
	}

	social := farcaster.NewClient(farcaster.Config{
		BaseURL: cfg.FarcasterAPIURL,
		APIKey:  cfg.FarcasterAPIKey,
		Timeout: 30 * time.Second,
		Logger:  logger,
	})

	llmProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		APIURL:   cfg.LLMAPIURL,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize LLM provider - reply generation disabled")
		llmProvider = nil
	}

	generator := mimic.NewGenerator(mimic.GeneratorConfig{
		Provider:    llmProvider,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})

	agent := pipeline.NewAgent(pipeline.AgentConfig{
		Settings:       settingsStore,
		Ledger:         ledgerStore,
		Social:         social,
		Generator:      generator,
		Locker:         locker,
		Logger:         logger,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxPerDay:      cfg.MaxPerDay,
		StyleCacheTTL:  cfg.StyleCacheTTL,
	})

	scheduler := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Agent:      agent,
		Interval:   cfg.TickInterval,
		RunOnStart: cfg.RunOnStart,
		Logger:     logger,
	})
	if err := scheduler.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start pipeline scheduler")
	}

	verifier := identity.NewVerifier([]byte(cfg.IdentityJWTSecret), cfg.IdentityHostname)

	router := server.SetupServiceRouter(logger, "echotwin", healthChecker, metricsCollector)
	apiGroup := router.Group("/api/twin")
	apiGroup.Use(identity.AuthMiddleware(verifier))
	handlers.RegisterRoutes(apiGroup, handlers.NewHandler(handlers.Config{
		Settings:   settingsStore,
		Ledger:     ledgerStore,
		Signers:    social,
		Agent:      agent,
		Logger:     logger,
		AdminToken: cfg.AdminToken,
	}))

	serverConfig := server.DefaultConfig("echotwin", cfg.Port)
	if err := server.StartWithShutdown(serverConfig, router, logger, scheduler.Stop); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
