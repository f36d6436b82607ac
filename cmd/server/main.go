package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/fee-reconciliation/internal/adapters/postgres"
	"github.com/kevin07696/fee-reconciliation/internal/adapters/secrets"
	"github.com/kevin07696/fee-reconciliation/internal/config"
	authMiddleware "github.com/kevin07696/fee-reconciliation/internal/middleware"
	"github.com/kevin07696/fee-reconciliation/internal/services/dedup"
	"github.com/kevin07696/fee-reconciliation/internal/services/ingest"
	"github.com/kevin07696/fee-reconciliation/internal/services/intake"
	"github.com/kevin07696/fee-reconciliation/internal/services/ledger"
	"github.com/kevin07696/fee-reconciliation/internal/services/matching"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/internal/services/queue"
	"github.com/kevin07696/fee-reconciliation/internal/services/review"
	"github.com/kevin07696/fee-reconciliation/internal/services/stats"
	"github.com/kevin07696/fee-reconciliation/pkg/middleware"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
	"github.com/kevin07696/fee-reconciliation/pkg/resilience"
	"github.com/kevin07696/fee-reconciliation/pkg/shutdown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting fee reconciliation service",
		zap.String("version", "0.1.0"),
		zap.Int("http_port", cfg.Server.Port),
		zap.String("secrets_backend", cfg.Secrets.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := secrets.NewFromConfig(ctx, cfg.Secrets, logger)
	if err != nil {
		logger.Fatal("Failed to initialize secret source", zap.Error(err))
	}
	if err := secrets.Resolve(ctx, src, cfg); err != nil {
		logger.Fatal("Failed to resolve secrets", zap.Error(err))
	}
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
	var verifier *authMiddleware.OperatorTokenVerifier
	if cfg.Auth.OperatorJWTPublicKey != "" {
		verifier, err = authMiddleware.NewOperatorTokenVerifier([]byte(cfg.Auth.OperatorJWTPublicKey), cfg.Auth.OperatorJWTIssuer)
		if err != nil {
			logger.Fatal("Invalid OPERATOR_JWT_PUBLIC_KEY", zap.Error(err))
		}
	}
	if cfg.Auth.OperatorToken == "" && verifier == nil {
		logger.Warn("Neither OPERATOR_TOKEN nor OPERATOR_JWT_PUBLIC_KEY is set; the review API will reject every request")
	}

	sm := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)

	// Database
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnectionString())
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	dbPool, err := postgres.NewPool(ctx, poolCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	sm.RegisterNoErr("database", dbPool.Close)
	postgres.StartPoolMonitoring(ctx, dbPool, 30*time.Second, logger)
	store := postgres.NewStore(dbPool, logger)

	// Notifications
	checks := map[string]observability.Pinger{"database": store}
	var sinks []notify.Sink
	if cfg.Redis.Enabled {
		sink, err := notify.NewRedisSink(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		sinks = append(sinks, sink)
		checks["redis"] = sink
		logger.Info("Redis notification sink enabled",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("channel", cfg.Redis.Channel),
		)
	}
	broker := notify.NewBroker(cfg.Pipeline.NotifyBufferSize, logger, sinks...)
	broker.Start()
	sm.Register("notifications", broker.Stop)

	// Pipeline
	applier := ledger.NewApplier(store, logger)
	scheduler := queue.NewScheduler(
		store,
		matching.NewEngine(matching.FromConfig(cfg.Matching), logger),
		applier,
		resilience.NewExponentialBackoff(
			cfg.Pipeline.RetryBaseDelay,
			cfg.Pipeline.RetryMaxDelay,
			cfg.Pipeline.RetryMultiplier,
			cfg.Pipeline.RetryJitter,
		),
		broker,
		queue.Config{MaxRetries: cfg.Pipeline.MaxRetries, Lease: cfg.Pipeline.Lease},
		logger,
	)
	intakeSvc := intake.NewService(
		store,
		normalize.NewNormalizer(cfg.Matching.DefaultRegion),
		dedup.NewChecker(logger),
		scheduler,
		broker,
		cfg.Pipeline.Lease,
		logger,
	)

	stagePool := queue.PoolConfig{
		Workers:      cfg.Pipeline.Workers,
		BatchSize:    cfg.Pipeline.BatchSize,
		PollInterval: cfg.Pipeline.PollInterval,
	}
	intakePool := queue.NewPool(intakeSvc, stagePool, logger)
	matchPool := queue.NewPool(scheduler, stagePool, logger)
	intakePool.Start()
	matchPool.Start()
	sm.Register("intake-pool", intakePool.Shutdown)
	sm.Register("matching-pool", matchPool.Shutdown)

	// Observability
	healthChecker := observability.NewHealthChecker(checks)
	readiness := &observability.Readiness{}
	metricsServer := observability.StartMetricsServer(cfg.Server.MetricsPort, healthChecker, readiness, logger)
	sm.RegisterHTTPServer("metrics-server", metricsServer)

	grpcHealth := observability.NewGRPCHealth(healthChecker, logger)
	if err := grpcHealth.Start(ctx, cfg.Server.HealthGRPCPort, 10*time.Second); err != nil {
		logger.Fatal("Failed to start gRPC health server", zap.Error(err))
	}
	sm.Register("grpc-health", grpcHealth.Shutdown)

	// HTTP
	limiter := middleware.NewRateLimiter(cfg.Server.WebhookRatePerSec, cfg.Server.WebhookBurst, logger)
	sm.RegisterNoErr("rate-limiter", limiter.Shutdown)

	router, closeStreams := newRouter(routerDeps{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		verifier:   verifier,
		limiter:    limiter,
		ingest:     ingest.NewService(store, broker, logger),
		intake:     intakeSvc,
		review:     review.NewService(store, scheduler, logger),
		stats:      stats.NewService(store),
		broker:     broker,
		intakePool: intakePool,
		matchPool:  matchPool,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	httpServer.RegisterOnShutdown(closeStreams)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()
	sm.RegisterHTTPServer("http-server", httpServer)
	sm.RegisterNoErr("background-context", cancel)
	sm.RegisterNoErr("readiness", func() { readiness.SetReady(false) })
	readiness.SetReady(true)

	sm.WaitForShutdown()
	logger.Info("Service stopped")
}

func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Development || os.Getenv("ENVIRONMENT") == "development" {
		logger, _ := zap.NewDevelopment(zap.IncreaseLevel(level))
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
