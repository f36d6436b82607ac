package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig contains configuration for the PostgreSQL connection pool
type PoolConfig struct {
	// Example: "host=localhost port=5432 user=postgres password=... dbname=fee_reconciliation sslmode=disable"
	DatabaseURL string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig returns default pool settings for databaseURL
func DefaultPoolConfig(databaseURL string) PoolConfig {
	return PoolConfig{
		DatabaseURL:     databaseURL,
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// NewPool opens and pings a connection pool
func NewPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("PostgreSQL pool initialized",
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.Uint16("port", poolConfig.ConnConfig.Port),
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)
	return pool, nil
}

// StartPoolMonitoring logs pool utilization every interval until ctx is done.
// It warns above 80% and errors above 95%.
func StartPoolMonitoring(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping connection pool monitoring")
				return
			case <-ticker.C:
				stat := pool.Stat()
				total := stat.MaxConns()
				acquired := stat.AcquiredConns()
				utilization := float64(acquired) / float64(total) * 100

				logger.Debug("Database connection pool status",
					zap.Int32("total_connections", total),
					zap.Int32("acquired_connections", acquired),
					zap.Int32("idle_connections", stat.IdleConns()),
					zap.Float64("utilization_percent", utilization),
				)

				switch {
				case utilization > 95:
					logger.Error("Database connection pool near exhaustion",
						zap.Float64("utilization_percent", utilization),
						zap.Int32("acquired", acquired),
						zap.Int32("total", total),
					)
				case utilization > 80:
					logger.Warn("Database connection pool highly utilized",
						zap.Float64("utilization_percent", utilization),
						zap.Int32("acquired", acquired),
						zap.Int32("total", total),
					)
				}
			}
		}
	}()

	logger.Info("Database connection pool monitoring started",
		zap.Duration("check_interval", interval),
	)
}
