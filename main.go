package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradebrain/config"
	"tradebrain/internal/analysis"
	"tradebrain/internal/api"
	"tradebrain/internal/auth"
	"tradebrain/internal/brain"
	"tradebrain/internal/database"
	"tradebrain/internal/email"
	"tradebrain/internal/events"
	"tradebrain/internal/evolution"
	"tradebrain/internal/groups"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	marketcache "tradebrain/internal/market/cache"
	"tradebrain/internal/market/providers"
	"tradebrain/internal/market/queue"
	marketrouter "tradebrain/internal/market/router"
	"tradebrain/internal/mcn"
	"tradebrain/internal/mutation"
	"tradebrain/internal/paper"
	"tradebrain/internal/regime"
	"tradebrain/internal/risk"
	"tradebrain/internal/royalty"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	// Database and migrations
	db, err := database.NewDB(database.Config{
		URL:             cfg.DatabaseConfig.URL,
		MaxConns:        int32(cfg.DatabaseConfig.MaxConns),
		MinConns:        int32(cfg.DatabaseConfig.MinConns),
		ConnMaxLifetime: time.Duration(cfg.DatabaseConfig.ConnMaxLifetime) * time.Minute,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}
	repo := database.NewRepository(db)
	logger.Info("Database ready")

	// Market data pipeline: tiered cache, request queue, provider router
	var redisCache *marketcache.RedisCache
	if cfg.RedisConfig.Enabled {
		redisCache, err = marketcache.NewRedisCache(cfg.RedisConfig.URL, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without L3 cache")
			redisCache = nil
		}
	}
	tiered, err := marketcache.NewTiered(cfg.CacheConfig.L1Entries, cfg.CacheConfig.FileCacheDir, redisCache, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to init market cache")
		os.Exit(1)
	}

	q := queue.NewQueue(tiered, cfg.MarketConfig.RequestsPerMin, logger)
	markets := marketrouter.New(q, logger)
	bindProviders(markets, cfg.MarketConfig, logger)

	// Regime memory and analyzers
	memory := mcn.New(cfg.CacheConfig.MCNSnapshot, cfg.CacheConfig.MCNMaxBytes, logger)
	memory.LoadState()
	regimes := regime.NewDetector(markets, memory, cfg.BrainConfig.RegimeMemoryMin, logger)
	trends := analysis.NewTimeframeAnalyzer(markets, logger)
	portfolio := risk.NewPortfolioGuard(0)

	assembler := brain.New(repo, markets, regimes, trends, portfolio, nil, brain.Config{
		MinConfidence:   cfg.BrainConfig.MinSignalConfidence,
		CandleLookback:  cfg.BrainConfig.CandleLookback,
		StartingBalance: cfg.PaperConfig.StartingBalance,
	}, logger)

	// Trading, royalties, billing
	bus := events.NewEventBus()
	broker := paper.NewBroker(repo, markets, bus, cfg.PaperConfig.StartingBalance, logger)

	royalty.NewEngine(repo, logger).Subscribe(bus)

	stripe := royalty.NewStripeClient(cfg.BillingConfig.StripeSecretKey, cfg.BillingConfig.StripeWebhookSecret)
	biller := royalty.NewBiller(repo, stripe, bus, royalty.BillingConfig{
		LockThresholdUSD: cfg.BillingConfig.LockThresholdUSD,
		GraceMonths:      cfg.BillingConfig.GraceMonths,
		GraceDelayed:     cfg.BillingConfig.GraceDelayed,
		BillingDayUTC:    cfg.BillingConfig.BillingDayUTC,
	}, logger)
	if cfg.BillingConfig.Enabled {
		biller.Start()
		defer biller.Stop()
	}

	// Evolution worker; a Redis lock serializes cycles across instances
	var locker evolution.Locker
	if cfg.RedisConfig.Enabled {
		if rl, lockErr := evolution.NewRedisLocker(cfg.RedisConfig.URL); lockErr == nil {
			locker = rl
		} else {
			logger.WithError(lockErr).Warn("Redis locker unavailable, using in-process locks")
		}
	}
	worker := evolution.NewWorker(repo, markets, locker, mutation.NewEngine(time.Now().UnixNano()), bus, evolution.Config{
		IntervalHours: cfg.EvolutionConfig.IntervalHours,
		MinTrades:     cfg.EvolutionConfig.MinTrades,
		WinRateMin:    cfg.EvolutionConfig.WinRateMin,
		SharpeMin:     cfg.EvolutionConfig.SharpeMin,
		OverfitRatio:  cfg.EvolutionConfig.OverfitRatio,
		MaxAttempts:   cfg.EvolutionConfig.MaxAttempts,
		LockTTL:       time.Duration(cfg.EvolutionConfig.LockTTL) * time.Second,
	}, logger)
	if cfg.EvolutionConfig.Enabled {
		worker.Start()
		defer worker.Stop()
	}

	// Group messaging; the message key falls back to the JWT secret when no
	// dedicated key is configured
	encryptionKey := cfg.GroupsConfig.EncryptionKey
	if encryptionKey == "" {
		logger.Warn("ENCRYPTION_SECRET_KEY not set, deriving group message key from JWT secret")
		encryptionKey = cfg.AuthConfig.JWTSecret
	}
	cipher, err := groups.NewCipher(encryptionKey)
	if err != nil {
		logger.WithError(err).Error("Failed to init group cipher")
		os.Exit(1)
	}
	groupService := groups.NewService(repo, cipher, cfg.GroupsConfig.DefaultMaxSize, logger)

	// Auth
	mailer := email.NewService(email.Config{
		Enabled:  cfg.EmailConfig.Enabled,
		Host:     cfg.EmailConfig.Host,
		Port:     cfg.EmailConfig.Port,
		Username: cfg.EmailConfig.Username,
		Password: cfg.EmailConfig.Password,
		From:     cfg.EmailConfig.From,
	})
	jwtManager := auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
	passwords := auth.NewPasswordManager(cfg.AuthConfig.MinPasswordLength)
	authService := auth.NewService(repo, jwtManager, passwords, mailer, auth.Config{
		JWTSecret:           cfg.AuthConfig.JWTSecret,
		AccessTokenDuration: cfg.AuthConfig.AccessTokenDuration,
		ResetTokenDuration:  cfg.AuthConfig.ResetTokenDuration,
		MinPasswordLength:   cfg.AuthConfig.MinPasswordLength,
		OTPTTL:              cfg.AuthConfig.OTPTTL,
		AdminEmail:          cfg.AuthConfig.AdminEmail,
	})

	server := api.NewServer(cfg, api.Deps{
		Repo:      repo,
		Auth:      authService,
		JWT:       jwtManager,
		Broker:    broker,
		Assembler: assembler,
		Markets:   markets,
		Regimes:   regimes,
		Trends:    trends,
		Groups:    groupService,
		Biller:    biller,
		Mutator:   mutation.NewEngine(time.Now().UnixNano() + 1),
		Stripe:    stripe,
		Bus:       bus,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("HTTP server stopped")
			cancel()
		}
	}()
	logger.Info("Server started", "port", cfg.ServerConfig.Port)

	// Wait for a shutdown signal, then drain
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := memory.SaveState(); err != nil {
		logger.WithError(err).Warn("Failed to persist regime memory")
	}
	logger.Info("Shutdown complete")
}

// bindProviders fills the router slots from the configured vendor names.
// An unknown name leaves its slot empty; the last resort is always Yahoo.
func bindProviders(markets *marketrouter.Router, cfg config.MarketConfig, logger *logging.Logger) {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	build := func(name, apiKey string) market.Provider {
		switch name {
		case "polygon":
			return providers.NewPolygon(apiKey, timeout)
		case "finnhub":
			return providers.NewFinnhub(apiKey, timeout)
		case "twelvedata":
			return providers.NewTwelveData(apiKey, timeout)
		case "yahoo":
			return providers.NewYahoo(timeout)
		default:
			return nil
		}
	}

	bindings := []struct {
		slot   marketrouter.Slot
		name   string
		apiKey string
	}{
		{marketrouter.SlotHistoricalPrimary, cfg.HistoricalPrimary, cfg.HistoricalAPIKey},
		{marketrouter.SlotLivePrimary, cfg.LivePrimary, cfg.LivePrimaryAPIKey},
		{marketrouter.SlotLiveSecondary, cfg.LiveSecondary, cfg.LiveSecondaryAPIKey},
	}
	for _, b := range bindings {
		if b.name == "" {
			continue
		}
		p := build(b.name, b.apiKey)
		if p == nil {
			logger.Warn("Unknown market data provider", "slot", string(b.slot), "name", b.name)
			continue
		}
		markets.Bind(b.slot, p)
	}
	markets.Bind(marketrouter.SlotLastResort, providers.NewYahoo(timeout))
}
