package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbfeed/paygate/internal/cache"
	"github.com/arbfeed/paygate/internal/config"
	"github.com/arbfeed/paygate/internal/handlers"
	"github.com/arbfeed/paygate/internal/logging"
	"github.com/arbfeed/paygate/internal/ratelimit"
	"github.com/arbfeed/paygate/internal/services"
	"github.com/arbfeed/paygate/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, cfgErr := config.Load(configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}
	envErr := cfg.ApplyEnv()

	log := logging.New(cfg.Logging)
	if cfgErr != nil {
		log.WithError(cfgErr).WithField("path", configPath).Warn("using default configuration")
	}
	if envErr != nil {
		log.WithError(envErr).Fatal("invalid environment")
	}

	ctx := context.Background()

	// Initialize database
	db, err := storage.New(ctx, cfg.Database.DatabaseURL(), cfg.Database.MaxConns)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	// Run migrations; MIGRATIONS_PATH overrides the embedded schema
	if err := db.Migrate(os.Getenv("MIGRATIONS_PATH")); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	journal, err := storage.OpenJournal(cfg.Journal.Path)
	if err != nil {
		log.WithError(err).WithField("path", cfg.Journal.Path).Fatal("failed to open reconciliation journal")
	}
	defer journal.Close()

	limits := map[string]ratelimit.Limit{
		handlers.BucketStart:  ratelimit.PerMinute(cfg.RateLimit.StartPerMinute),
		handlers.BucketSettle: ratelimit.PerMinute(cfg.RateLimit.SettlePerMinute),
		handlers.BucketStatus: ratelimit.PerMinute(cfg.RateLimit.StatusPerMinute),
	}

	var (
		limiter      ratelimit.Limiter     = ratelimit.NewMemory(limits)
		datasetCache services.DatasetCache = cache.NewMemoryDatasetCache()
	)
	if cfg.Redis.Enabled {
		rdb, err := storage.NewRedis(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process rate limiting and cache")
		} else {
			defer rdb.Close()
			limiter = ratelimit.NewRedis(rdb, cfg.Redis.KeyPrefix, limits)
			datasetCache = cache.NewRedisDatasetCache(rdb, cfg.Redis.KeyPrefix)
			log.WithField("addr", cfg.Redis.Addr).Info("redis connected")
		}
	}

	// Initialize services
	production := cfg.IsProduction()
	selector := services.NewStrategySelector(production, cfg.DevBypass.Secret)
	if selector.BypassAvailable() {
		log.WithField("environment", cfg.Environment).Warn("dev payment bypass is enabled")
	}

	facilitator := services.NewFacilitatorClient(cfg.Facilitator)
	paymentService := services.NewPaymentService(facilitator, selector, cfg.Payment, cfg.DevBypass, log)
	settlementService := services.NewSettlementService(facilitator, selector, cfg.Payment, services.NewRetryPolicy(cfg.Settlement), log)
	entitlementService := services.NewEntitlementService(db, datasetCache, time.Duration(cfg.Redis.DatasetCacheSeconds)*time.Second, log)
	checkoutService := services.NewCheckoutService(settlementService, entitlementService, journal, cfg.Payment.Network, log)
	reconciliationService := services.NewReconciliationService(journal, entitlementService, log)

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set, access tokens are disabled")
	}

	// Set up HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		Payments:       handlers.NewPaymentHandler(paymentService, checkoutService, cfg.Auth.JWTSecret, log),
		Entitlements:   handlers.NewEntitlementHandler(entitlementService, log),
		Admin:          handlers.NewAdminHandler(entitlementService, reconciliationService, log),
		DB:             db,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
		AdminKeyHash:   cfg.Auth.AdminAPIKeyHash,
		Log:            log,
	})

	if configured := time.Duration(cfg.Server.WriteTimeout) * time.Second; cfg.EffectiveWriteTimeout() > configured {
		log.WithFields(logrus.Fields{
			"configured": configured,
			"effective":  cfg.EffectiveWriteTimeout(),
		}).Warn("server.write_timeout raised to cover settlement retries")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: cfg.EffectiveWriteTimeout(),
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("server forced to shutdown")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":        srv.Addr,
		"environment": cfg.Environment,
		"network":     cfg.Payment.Network,
	}).Info("payment gateway starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("failed to start server")
	}

	log.Info("server exited")
}
