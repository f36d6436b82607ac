package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

type mockSink struct {
	mock.Mock
	mu        sync.Mutex
	delivered []Notification
}

func (m *mockSink) Deliver(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	m.mu.Lock()
	m.delivered = append(m.delivered, n)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *mockSink) Close() error {
	return m.Called().Error(0)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func sampleNotification() Notification {
	amount := int64(450000)
	return ForEvent(KindEventReceived, &domain.PaymentEvent{
		ID:            uuid.New(),
		InstitutionID: uuid.New(),
		Provider:      domain.ProviderMpesaC2B,
		Status:        domain.EventStatusReceived,
		Currency:      "KES",
		AmountMinor:   &amount,
	})
}

func TestBroker_FansOutToSubscribersAndSinks(t *testing.T) {
	sink := &mockSink{}
	sink.On("Deliver", mock.Anything, mock.Anything).Return(nil)
	sink.On("Close").Return(nil)

	b := NewBroker(8, zap.NewNop(), sink)
	b.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx, 4)

	n := sampleNotification()
	b.Publish(n)

	select {
	case got := <-sub:
		assert.Equal(t, n.EventID, got.EventID)
		assert.Equal(t, int64(450000), got.AmountMinor)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification")
	}

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Stop(context.Background()))
	sink.AssertCalled(t, "Close")
}

func TestBroker_PublishNeverBlocks(t *testing.T) {
	b := NewBroker(1, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(sampleNotification())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no dispatcher running")
	}
}

func TestBroker_SlowSubscriberDoesNotStallOthers(t *testing.T) {
	b := NewBroker(64, zap.NewNop())
	b.Start()
	defer func() { _ = b.Stop(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = b.Subscribe(ctx, 1) // never read
	fast := b.Subscribe(ctx, 16)

	for i := 0; i < 5; i++ {
		b.Publish(sampleNotification())
	}

	received := 0
	timeout := time.After(time.Second)
	for received < 5 {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast subscriber received %d of 5", received)
		}
	}
}

func TestBroker_SubscriptionClosesWithContext(t *testing.T) {
	b := NewBroker(4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, 1)
	assert.Equal(t, 1, b.Subscribers())

	cancel()
	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroker_SinkFailureIsLogged(t *testing.T) {
	sink := &mockSink{}
	sink.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	sink.On("Close").Return(nil)

	b := NewBroker(4, zap.NewNop(), sink)
	b.Start()
	b.Publish(sampleNotification())
	b.Publish(sampleNotification())

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Stop(context.Background()))
}
