package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/pkg/resilience"
)

// Requires a reachable Redis; set REDIS_ADDR to run.
func TestRedisSink_PublishesJSON(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink, err := NewRedisSink(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0, "reconciliation.test", zap.NewNop())
	if err != nil {
		t.Skipf("Could not connect to redis: %v", err)
	}
	defer sink.Close()

	reader := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	defer reader.Close()
	pubsub := reader.Subscribe(ctx, "reconciliation.test")
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	n := sampleNotification()
	require.NoError(t, sink.Deliver(ctx, n))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, n.EventID, got.EventID)
	assert.Equal(t, KindEventReceived, got.Kind)
}

func TestRedisSink_OpensCircuitWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	sink := NewRedisSinkFromClient(client, "reconciliation.test", resilience.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := sink.Deliver(ctx, sampleNotification())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSinkUnavailable)
	}
	assert.ErrorIs(t, sink.Deliver(ctx, sampleNotification()), ErrSinkUnavailable)
}
