package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/services/queue"
)

type fakeStage struct {
	mu        sync.Mutex
	pending   []uuid.UUID
	fail      map[uuid.UUID]bool
	delay     time.Duration
	active    int32
	maxActive int32
	processed int32
}

func newFakeStage(n int) *fakeStage {
	s := &fakeStage{fail: map[uuid.UUID]bool{}}
	for i := 0; i < n; i++ {
		s.pending = append(s.pending, uuid.New())
	}
	return s
}

func (s *fakeStage) Name() string { return "fake" }

func (s *fakeStage) Claim(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	ids := s.pending[:limit]
	s.pending = s.pending[limit:]
	return ids, nil
}

func (s *fakeStage) Process(ctx context.Context, id uuid.UUID) error {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		peak := atomic.LoadInt32(&s.maxActive)
		if n <= peak || atomic.CompareAndSwapInt32(&s.maxActive, peak, n) {
			break
		}
	}
	time.Sleep(s.delay)
	atomic.AddInt32(&s.processed, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return errors.New("boom")
	}
	return nil
}

func TestPool_RunOnceBoundsConcurrency(t *testing.T) {
	stage := newFakeStage(20)
	stage.delay = 5 * time.Millisecond
	pool := queue.NewPool(stage, queue.PoolConfig{Workers: 3, BatchSize: 20}, zap.NewNop())

	res, err := pool.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "fake", res.Stage)
	assert.Equal(t, 20, res.Claimed)
	assert.Equal(t, 20, res.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt32(&stage.maxActive), int32(3))
}

func TestPool_RunOnceCountsFailures(t *testing.T) {
	stage := newFakeStage(4)
	stage.fail[stage.pending[1]] = true
	stage.fail[stage.pending[3]] = true
	pool := queue.NewPool(stage, queue.PoolConfig{Workers: 2, BatchSize: 10}, zap.NewNop())

	res, err := pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Claimed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
}

func TestPool_RunOnceRespectsBatchSize(t *testing.T) {
	stage := newFakeStage(7)
	pool := queue.NewPool(stage, queue.PoolConfig{Workers: 2, BatchSize: 5}, zap.NewNop())

	first, err := pool.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := pool.RunOnce(context.Background())
	require.NoError(t, err)
	third, err := pool.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, first.Claimed)
	assert.Equal(t, 2, second.Claimed)
	assert.Equal(t, 0, third.Claimed)
}

func TestPool_StartPollsUntilShutdown(t *testing.T) {
	stage := newFakeStage(3)
	pool := queue.NewPool(stage, queue.PoolConfig{Workers: 2, BatchSize: 1, PollInterval: 5 * time.Millisecond}, zap.NewNop())

	pool.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&stage.processed) == 3
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	stage.mu.Lock()
	stage.pending = append(stage.pending, uuid.New())
	stage.mu.Unlock()

	res, err := pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed, "no new work after shutdown")
}
