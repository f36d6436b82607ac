package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/pkg/encoding"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
	"github.com/kevin07696/fee-reconciliation/pkg/resilience"
)

// ErrSinkUnavailable is returned while the sink's circuit is open
var ErrSinkUnavailable = errors.New("notification sink unavailable")

// RedisSink publishes notifications on a Redis pub/sub channel so other
// instances and dashboards can follow the pipeline. Once Redis keeps failing
// the breaker opens and deliveries are dropped immediately instead of each
// waiting out its timeout on the broker's dispatch goroutine.
type RedisSink struct {
	client  *redis.Client
	channel string
	breaker *resilience.CircuitBreaker
}

// NewRedisSink connects to addr and verifies the connection
func NewRedisSink(ctx context.Context, addr, password string, db int, channel string, logger *zap.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSinkFromClient(client, channel, resilience.NotificationSinkBreaker(), logger), nil
}

// NewRedisSinkFromClient wraps an existing client
func NewRedisSinkFromClient(client *redis.Client, channel string, breaker resilience.CircuitBreakerConfig, logger *zap.Logger) *RedisSink {
	breaker.OnStateChange = func(from, to resilience.CircuitState) {
		observability.RecordSinkCircuitState("redis", int(to))
		logger.Warn("Redis notification sink circuit changed",
			zap.String("channel", channel),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		breaker: resilience.NewCircuitBreaker(breaker),
	}
}

// Deliver publishes n as JSON
func (s *RedisSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := encoding.EncodeJSON(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = s.breaker.Call(func() error {
		return s.client.Publish(ctx, s.channel, payload).Err()
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		observability.RecordNotificationDropped("circuit_open")
		return ErrSinkUnavailable
	}
	return err
}

// Ping lets the health checker include Redis
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
