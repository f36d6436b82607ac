package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
)

// Kind names what happened
type Kind string

const (
	KindEventReceived  Kind = "event.received"
	KindEventFailed    Kind = "event.failed"
	KindReviewRequired Kind = "review.required"
	KindPaymentApplied Kind = "payment.applied"
)

// Notification is a small, self-contained message for dashboards
type Notification struct {
	At            time.Time       `json:"at"`
	QueueItemID   *uuid.UUID      `json:"queue_item_id,omitempty"`
	Kind          Kind            `json:"kind"`
	Provider      domain.Provider `json:"provider,omitempty"`
	Status        string          `json:"status"`
	Currency      string          `json:"currency,omitempty"`
	AmountMinor   int64           `json:"amount_minor,omitempty"`
	EventID       uuid.UUID       `json:"event_id"`
	InstitutionID uuid.UUID       `json:"institution_id"`
}

// ForEvent builds a notification describing ev
func ForEvent(kind Kind, ev *domain.PaymentEvent) Notification {
	return Notification{
		At:            time.Now().UTC(),
		Kind:          kind,
		Provider:      ev.Provider,
		Status:        string(ev.Status),
		Currency:      ev.Currency,
		AmountMinor:   ev.Amount(),
		EventID:       ev.ID,
		InstitutionID: ev.InstitutionID,
	}
}

// Publisher never blocks the caller
type Publisher interface {
	Publish(n Notification)
}

// Nop discards notifications
type Nop struct{}

func (Nop) Publish(Notification) {}

// Sink delivers notifications outside the process
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
	Close() error
}

// Broker fans notifications out to in-process subscribers and sinks from a
// single background goroutine. Publish only ever does a non-blocking send.
type Broker struct {
	in     chan Notification
	sinks  []Sink
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[int]chan Notification
	nextID int

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewBroker creates a broker with the given inbound buffer
func NewBroker(bufferSize int, logger *zap.Logger, sinks ...Sink) *Broker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Broker{
		in:     make(chan Notification, bufferSize),
		sinks:  sinks,
		logger: logger,
		subs:   make(map[int]chan Notification),
		stop:   make(chan struct{}),
	}
}

// Publish enqueues n, dropping it when the buffer is full
func (b *Broker) Publish(n Notification) {
	select {
	case b.in <- n:
	default:
		observability.RecordNotificationDropped("broker")
	}
}

// Start runs the dispatch loop until Stop is called
func (b *Broker) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.stop:
				return
			case n := <-b.in:
				b.dispatch(n)
			}
		}
	}()
}

func (b *Broker) dispatch(n Notification) {
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			observability.RecordNotificationDropped("subscriber")
		}
	}
	b.mu.RUnlock()

	for _, s := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.Deliver(ctx, n); err != nil {
			observability.RecordNotificationDropped("sink")
			b.logger.Warn("Notification sink delivery failed",
				zap.String("kind", string(n.Kind)),
				zap.String("event_id", n.EventID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Subscribe returns a channel of notifications that is closed when ctx ends
func (b *Broker) Subscribe(ctx context.Context, buffer int) <-chan Notification {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.stop:
		}
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stop ends the dispatch loop, closes subscriptions and sinks
func (b *Broker) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			b.logger.Warn("Failed to close notification sink", zap.Error(err))
		}
	}
	return nil
}
