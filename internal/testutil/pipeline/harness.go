// Package pipeline wires the whole reconciliation pipeline over memstore for
// scenario tests.
package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
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
	"github.com/kevin07696/fee-reconciliation/internal/testutil/fixtures"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/memstore"
	"github.com/kevin07696/fee-reconciliation/pkg/resilience"
)

// Recorder is a notify.Publisher that keeps everything published
type Recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

// Publish implements notify.Publisher
func (r *Recorder) Publish(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Kinds returns the kinds published, in order
func (r *Recorder) Kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type options struct {
	matching   matching.Config
	maxRetries int
	workers    int
	extra      []domain.StudentRecord
}

// Option customises a Harness
type Option func(*options)

// WithMaxRetries sets the queue retry cap
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithMatching sets the engine config
func WithMatching(cfg matching.Config) Option {
	return func(o *options) { o.matching = cfg }
}

// WithWorkers sets the pool concurrency
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithStudents seeds extra students next to the school's default one
func WithStudents(recs ...domain.StudentRecord) Option {
	return func(o *options) { o.extra = append(o.extra, recs...) }
}

// Harness is a fully wired pipeline. Retries are due immediately so each
// Drain step is one attempt.
type Harness struct {
	Store      *memstore.Store
	School     *fixtures.School
	Published  *Recorder
	Ingest     *ingest.Service
	Intake     *intake.Service
	Scheduler  *queue.Scheduler
	Applier    *ledger.Applier
	Review     *review.Service
	Stats      *stats.Service
	IntakePool *queue.Pool
	MatchPool  *queue.Pool
}

// New builds a harness around a freshly seeded school
func New(t *testing.T, opts ...Option) *Harness {
	t.Helper()
	o := options{matching: matching.DefaultConfig(), maxRetries: 3, workers: 4}
	for _, opt := range opts {
		opt(&o)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	store := memstore.New()
	school := fixtures.NewSchool()
	school.Seed(store, o.extra...)
	rec := &Recorder{}

	applier := ledger.NewApplier(store, logger)
	scheduler := queue.NewScheduler(
		store,
		matching.NewEngine(o.matching, logger),
		applier,
		&resilience.FixedBackoff{Delay: 0},
		rec,
		queue.Config{MaxRetries: o.maxRetries, Lease: time.Minute},
		logger,
	)
	in := intake.NewService(store, normalize.NewNormalizer("KE"), dedup.NewChecker(logger), scheduler, rec, time.Minute, logger)
	poolCfg := queue.PoolConfig{Workers: o.workers, BatchSize: 50, PollInterval: time.Hour}

	return &Harness{
		Store:      store,
		School:     school,
		Published:  rec,
		Ingest:     ingest.NewService(store, rec, logger),
		Intake:     in,
		Scheduler:  scheduler,
		Applier:    applier,
		Review:     review.NewService(store, scheduler, logger),
		Stats:      stats.NewService(store),
		IntakePool: queue.NewPool(in, poolCfg, logger),
		MatchPool:  queue.NewPool(scheduler, poolCfg, logger),
	}
}

// Submit posts body to the integration as the webhook handler would
func (h *Harness) Submit(t *testing.T, integrationID uuid.UUID, body []byte) *domain.PaymentEvent {
	t.Helper()
	ev, err := h.Ingest.Receive(context.Background(), integrationID, body, "127.0.0.1")
	require.NoError(t, err)
	return ev
}

// Step runs one intake batch and one matching batch
func (h *Harness) Step(t *testing.T) (queue.BatchResult, queue.BatchResult) {
	t.Helper()
	ctx := context.Background()
	in, err := h.IntakePool.RunOnce(ctx)
	require.NoError(t, err)
	match, err := h.MatchPool.RunOnce(ctx)
	require.NoError(t, err)
	return in, match
}

// Drain steps until neither stage claims anything, failing after limit steps
func (h *Harness) Drain(t *testing.T, limit int) int {
	t.Helper()
	for i := 1; i <= limit; i++ {
		in, match := h.Step(t)
		if in.Claimed == 0 && match.Claimed == 0 {
			return i
		}
	}
	t.Fatalf("pipeline still busy after %d steps", limit)
	return limit
}

// ItemFor returns the queue item created for ev
func (h *Harness) ItemFor(t *testing.T, ev *domain.PaymentEvent) *domain.QueueItem {
	t.Helper()
	item, err := h.Store.Queue().GetByEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	return item
}

// Event reloads ev
func (h *Harness) Event(t *testing.T, id uuid.UUID) *domain.PaymentEvent {
	t.Helper()
	ev, err := h.Store.Events().Get(context.Background(), id)
	require.NoError(t, err)
	return ev
}

// Account reloads a fee account
func (h *Harness) Account(t *testing.T, id uuid.UUID) *domain.FeeAccount {
	t.Helper()
	acct, err := h.Store.Directory().GetFeeAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}
