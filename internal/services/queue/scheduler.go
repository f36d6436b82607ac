package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/internal/services/ledger"
	"github.com/kevin07696/fee-reconciliation/internal/services/matching"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
	"github.com/kevin07696/fee-reconciliation/pkg/resilience"
)

// Manual review reasons
const (
	ReviewReasonRetriesExhausted = "retries_exhausted"
	ReviewReasonReversal         = "reversal"
	ReviewReasonLedgerRejected   = "ledger_rejected"
)

// Config holds the retry policy of the matching stage
type Config struct {
	MaxRetries int
	// Lease pushes next_retry_at forward on claim so a crashed worker's
	// item is picked up again once it expires
	Lease time.Duration
}

// DefaultConfig returns the production retry policy
func DefaultConfig() Config {
	return Config{MaxRetries: 5, Lease: 2 * time.Minute}
}

// Scheduler drives queue items through matching and ledger application
type Scheduler struct {
	store     ports.Store
	engine    *matching.Engine
	applier   *ledger.Applier
	backoff   resilience.BackoffStrategy
	publisher notify.Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduler creates the matching stage
func NewScheduler(
	store ports.Store,
	engine *matching.Engine,
	applier *ledger.Applier,
	backoff resilience.BackoffStrategy,
	publisher notify.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if backoff == nil {
		backoff = resilience.QueueRetryBackoff()
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultConfig().Lease
	}
	return &Scheduler{
		store:     store,
		engine:    engine,
		applier:   applier,
		backoff:   backoff,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue creates the single queue item for a validated event and moves the
// event to queued. It runs inside the caller's transaction.
func (s *Scheduler) Enqueue(ctx context.Context, tx ports.Store, ev *domain.PaymentEvent) (*domain.QueueItem, error) {
	integration, err := tx.Directory().GetIntegration(ctx, ev.IntegrationID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	bankAccountID := integration.BankAccountID
	item := &domain.QueueItem{
		ID:            uuid.New(),
		EventID:       ev.ID,
		InstitutionID: ev.InstitutionID,
		IntegrationID: ev.IntegrationID,
		BankAccountID: &bankAccountID,
		MatchStatus:   domain.MatchStatusPending,
		MaxRetries:    s.cfg.MaxRetries,
		Priority:      domain.PriorityNormal,
		NextRetryAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Queue().Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create queue item: %w", err)
	}

	from := ev.Status
	if err := ev.TransitionTo(domain.EventStatusQueued, now); err != nil {
		return nil, err
	}
	if err := tx.Events().Update(ctx, ev); err != nil {
		return nil, fmt.Errorf("mark event queued: %w", err)
	}

	if err := tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityQueueItem, item.ID, "queue.enqueued", domain.ActorSystem, now).
		Transition("", string(item.MatchStatus)).
		With("event_id", ev.ID.String())); err != nil {
		return nil, fmt.Errorf("audit queue item: %w", err)
	}
	if err := tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.queued", domain.ActorSystem, now).
		Transition(string(from), string(ev.Status)).
		With("queue_item_id", item.ID.String())); err != nil {
		return nil, fmt.Errorf("audit event: %w", err)
	}
	return item, nil
}

// Name implements Stage
func (s *Scheduler) Name() string {
	return "matching"
}

// Claim implements Stage by leasing due queue items
func (s *Scheduler) Claim(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.store.Queue().ClaimDue(ctx, s.now().UTC(), s.cfg.Lease, limit)
}

// Process implements Stage
func (s *Scheduler) Process(ctx context.Context, id uuid.UUID) error {
	return s.ProcessItem(ctx, id)
}

type attempt struct {
	item      *domain.QueueItem
	event     *domain.PaymentEvent
	result    *matching.Result
	apply     bool
	escalated bool
	reason    string
}

// ProcessItem runs one matching attempt for the item. A confident match is
// locked and handed to the ledger applier after the matching transaction
// commits; anything else is rescheduled with backoff until the retry cap
// sends it to manual review.
func (s *Scheduler) ProcessItem(ctx context.Context, itemID uuid.UUID) error {
	var at attempt
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		at, err = s.match(ctx, tx, itemID)
		return err
	})
	if err != nil {
		s.logger.Error("Matching attempt failed",
			zap.String("queue_item_id", itemID.String()),
			zap.Error(err),
		)
		return err
	}
	if at.item == nil {
		return nil
	}

	if at.result != nil {
		observability.RecordMatchOutcome(string(at.result.Status), at.result.Confidence(), len(at.result.Detail.Candidates))
	}
	if at.escalated {
		s.escalated(at.item, at.event, at.reason)
	} else if !at.apply {
		observability.RecordQueueRetry(string(at.item.MatchStatus))
		s.logger.Warn("Queue item scheduled for retry",
			zap.String("queue_item_id", at.item.ID.String()),
			zap.String("match_status", string(at.item.MatchStatus)),
			zap.Int("retry_count", at.item.RetryCount),
			zap.Time("next_retry_at", at.item.NextRetryAt),
		)
	}

	if !at.apply {
		return nil
	}
	if _, err := s.ApplyMatched(ctx, itemID, domain.ActorSystem); err != nil {
		if domain.IsRetryable(err) || domain.IsInvalidStateError(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Scheduler) match(ctx context.Context, tx ports.Store, itemID uuid.UUID) (attempt, error) {
	item, err := tx.Queue().GetForUpdate(ctx, itemID)
	if err != nil {
		return attempt{}, err
	}
	if !item.IsClaimable() {
		return attempt{}, nil
	}
	if item.MatchLocked {
		return attempt{item: item, apply: true}, nil
	}

	ev, err := tx.Events().GetForUpdate(ctx, item.EventID)
	if err != nil {
		return attempt{}, err
	}
	integration, err := tx.Directory().GetIntegration(ctx, item.IntegrationID)
	if err != nil {
		return attempt{}, err
	}
	res, err := s.engine.Match(ctx, tx.Directory(), integration, ev)
	if err != nil {
		return attempt{}, err
	}

	now := s.now().UTC()
	from := item.MatchStatus
	res.Detail.Attempt = item.RetryCount + 1
	item.MatchDetail = res.Detail
	item.MatchConfidence = res.Confidence()
	item.UpdatedAt = now

	at := attempt{item: item, event: ev, result: res}
	action := "queue.attempt"

	switch {
	case ev.Kind == domain.EventKindReversal:
		item.MatchStatus = domain.MatchStatusManualReview
		item.Priority = domain.PriorityHigh
		item.ClearMatch()
		if res.Best != nil {
			item.SetMatch(res.Best)
		}
		item.AppendNote("reversal notifications are never applied automatically")
		at.escalated = true
		at.reason = ReviewReasonReversal
		action = "queue.escalated"

	case res.Status == domain.MatchStatusMatched:
		item.MatchStatus = domain.MatchStatusMatched
		item.SetMatch(res.Best)
		item.MatchLocked = true
		at.apply = true
		action = "queue.matched"

	default:
		item.MatchStatus = res.Status
		if res.Status == domain.MatchStatusPartialMatch && res.Best != nil {
			item.SetMatch(res.Best)
		} else {
			item.ClearMatch()
		}
		if res.Status == domain.MatchStatusException {
			item.Priority = domain.PriorityHigh
		}
		item.AppendNote(res.Reason)
		if item.RecordFailedAttempt(now, s.backoff.NextDelay(item.RetryCount)) {
			at.escalated = true
			at.reason = ReviewReasonRetriesExhausted
			action = "queue.escalated"
		}
	}

	if err := tx.Queue().Update(ctx, item); err != nil {
		return attempt{}, fmt.Errorf("update queue item: %w", err)
	}
	entry := domain.NewAuditEntry(domain.AuditEntityQueueItem, item.ID, action, domain.ActorSystem, now).
		Transition(string(from), string(item.MatchStatus)).
		With("outcome", string(res.Status)).
		With("reason", res.Reason).
		With("confidence", item.MatchConfidence).
		With("attempt", res.Detail.Attempt).
		With("retry_count", item.RetryCount)
	if at.reason != "" {
		entry.With("review_reason", at.reason)
	}
	if err := tx.Audit().Append(ctx, entry); err != nil {
		return attempt{}, fmt.Errorf("audit queue item: %w", err)
	}
	return at, nil
}

// ApplyMatched hands a locked match to the ledger applier. A failed
// application keeps the match and is retried with backoff; at the retry cap,
// or when the ledger rejects the candidate outright, the item goes to manual
// review.
func (s *Scheduler) ApplyMatched(ctx context.Context, itemID uuid.UUID, actor string) (*ledger.Result, error) {
	res, err := s.applier.Apply(ctx, itemID, actor)
	if err == nil {
		if res.Applied {
			n := notify.Notification{
				At:            s.now().UTC(),
				Kind:          notify.KindPaymentApplied,
				Provider:      res.Payment.Provider,
				Status:        string(domain.MatchStatusProcessed),
				Currency:      res.Payment.Currency,
				AmountMinor:   res.Payment.AmountMinor,
				EventID:       res.Payment.EventID,
				InstitutionID: res.Payment.InstitutionID,
				QueueItemID:   &itemID,
			}
			s.publisher.Publish(n)
		}
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if recErr := s.recordApplyFailure(ctx, itemID, err); recErr != nil {
		s.logger.Error("Failed to record ledger failure",
			zap.String("queue_item_id", itemID.String()),
			zap.Error(recErr),
		)
	}
	return nil, err
}

func (s *Scheduler) recordApplyFailure(ctx context.Context, itemID uuid.UUID, cause error) error {
	var (
		item      *domain.QueueItem
		escalated bool
		reason    string
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		item, err = tx.Queue().GetForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		applicable := item.MatchStatus == domain.MatchStatusMatched || item.MatchStatus == domain.MatchStatusPending
		if !applicable || !item.MatchLocked {
			item = nil
			return nil
		}

		now := s.now().UTC()
		from := item.MatchStatus
		action := "ledger.conflict"
		if domain.IsInvalidStateError(cause) {
			item.MatchStatus = domain.MatchStatusManualReview
			item.MatchLocked = false
			item.Priority = domain.PriorityHigh
			item.UpdatedAt = now
			escalated = true
			reason = ReviewReasonLedgerRejected
			action = "ledger.rejected"
		} else {
			item.MatchStatus = domain.MatchStatusPending
			if item.RecordFailedAttempt(now, s.backoff.NextDelay(item.RetryCount)) {
				escalated = true
				reason = ReviewReasonRetriesExhausted
			}
		}
		item.AppendNote(fmt.Sprintf("ledger application failed: %v", cause))

		if err := tx.Queue().Update(ctx, item); err != nil {
			return fmt.Errorf("update queue item: %w", err)
		}
		return tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityQueueItem, item.ID, action, domain.ActorSystem, now).
			Transition(string(from), string(item.MatchStatus)).
			With("error", cause.Error()).
			With("error_code", string(domain.GetErrorCode(cause))).
			With("retry_count", item.RetryCount))
	})
	if err != nil || item == nil {
		return err
	}

	if escalated {
		s.escalated(item, nil, reason)
		return nil
	}
	observability.RecordQueueRetry(string(item.MatchStatus))
	s.logger.Warn("Ledger application deferred",
		zap.String("queue_item_id", item.ID.String()),
		zap.Int("retry_count", item.RetryCount),
		zap.Time("next_retry_at", item.NextRetryAt),
		zap.Error(cause),
	)
	return nil
}

func (s *Scheduler) escalated(item *domain.QueueItem, ev *domain.PaymentEvent, reason string) {
	observability.RecordManualReview(reason)
	s.logger.Warn("Queue item sent to manual review",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("reason", reason),
		zap.Int("retry_count", item.RetryCount),
	)

	id := item.ID
	n := notify.Notification{
		At:            s.now().UTC(),
		Kind:          notify.KindReviewRequired,
		Status:        string(item.MatchStatus),
		EventID:       item.EventID,
		InstitutionID: item.InstitutionID,
		QueueItemID:   &id,
	}
	if ev != nil {
		n.Provider = ev.Provider
		n.Currency = ev.Currency
		n.AmountMinor = ev.Amount()
	}
	s.publisher.Publish(n)
}
