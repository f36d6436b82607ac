package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/internal/services/dedup"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
)

// Enqueuer creates the queue item for a validated event inside tx
type Enqueuer interface {
	Enqueue(ctx context.Context, tx ports.Store, ev *domain.PaymentEvent) (*domain.QueueItem, error)
}

// Outcome is what one validation pass did with an event
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeQueued    Outcome = "queued"
)

// Service validates received events, drops duplicates and enqueues the rest
type Service struct {
	store      ports.Store
	normalizer *normalize.Normalizer
	dedup      *dedup.Checker
	enqueuer   Enqueuer
	publisher  notify.Publisher
	lease      time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates the intake stage
func NewService(
	store ports.Store,
	normalizer *normalize.Normalizer,
	checker *dedup.Checker,
	enqueuer Enqueuer,
	publisher notify.Publisher,
	lease time.Duration,
	logger *zap.Logger,
) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Service{
		store:      store,
		normalizer: normalizer,
		dedup:      checker,
		enqueuer:   enqueuer,
		publisher:  publisher,
		lease:      lease,
		logger:     logger,
		now:        time.Now,
	}
}

// Name implements queue.Stage
func (s *Service) Name() string {
	return "intake"
}

// Claim implements queue.Stage by leasing received events
func (s *Service) Claim(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.store.Events().ClaimReceived(ctx, s.now().UTC(), s.lease, limit)
}

// Process implements queue.Stage
func (s *Service) Process(ctx context.Context, id uuid.UUID) error {
	_, err := s.Validate(ctx, id)
	return err
}

// Validate normalizes a received event. A rejected payload marks the event
// failed with its issues; an accepted one is checked for an earlier holder
// of its reference and then enqueued, all in one transaction.
func (s *Service) Validate(ctx context.Context, eventID uuid.UUID) (Outcome, error) {
	var (
		ev      *domain.PaymentEvent
		outcome = OutcomeSkipped
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		ev, err = tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status != domain.EventStatusReceived {
			return nil
		}

		integration, err := tx.Directory().GetIntegration(ctx, ev.IntegrationID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		payload := normalize.Decode(ev.Provider, ev.RawPayload)
		normalized, issues := s.normalizer.Normalize(payload, integration, ev.RawPayload)

		if len(issues) > 0 {
			if err := ev.TransitionTo(domain.EventStatusFailed, now); err != nil {
				return err
			}
			ev.ValidationErrors = issues
			if err := tx.Events().Update(ctx, ev); err != nil {
				return fmt.Errorf("mark event failed: %w", err)
			}
			outcome = OutcomeFailed
			return tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.validation_failed", domain.ActorSystem, now).
				Transition(string(domain.EventStatusReceived), string(ev.Status)).
				With("issues", issueDetails(issues)))
		}

		ev.ApplyNormalized(normalized)
		if err := ev.TransitionTo(domain.EventStatusValidated, now); err != nil {
			return err
		}
		if err := tx.Events().Update(ctx, ev); err != nil {
			return fmt.Errorf("mark event validated: %w", err)
		}
		if err := tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.validated", domain.ActorSystem, now).
			Transition(string(domain.EventStatusReceived), string(ev.Status)).
			With("kind", string(ev.Kind)).
			With("amount_minor", ev.Amount()).
			With("currency", ev.Currency)); err != nil {
			return fmt.Errorf("audit validation: %w", err)
		}

		holder, err := s.dedup.Check(ctx, tx, ev, now)
		if err != nil {
			return err
		}
		if holder != nil {
			outcome = OutcomeDuplicate
			return nil
		}

		if _, err := s.enqueuer.Enqueue(ctx, tx, ev); err != nil {
			return err
		}
		outcome = OutcomeQueued
		return nil
	})
	if err != nil {
		s.logger.Error("Event validation failed",
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
		return OutcomeSkipped, err
	}
	if outcome == OutcomeSkipped {
		return outcome, nil
	}

	observability.RecordValidation(string(ev.Provider), string(outcome))
	switch outcome {
	case OutcomeFailed:
		s.publisher.Publish(notify.ForEvent(notify.KindEventFailed, ev))
		s.logger.Warn("Payment event rejected",
			zap.String("event_id", ev.ID.String()),
			zap.Int("issues", len(ev.ValidationErrors)),
		)
	default:
		s.logger.Info("Payment event validated",
			zap.String("event_id", ev.ID.String()),
			zap.String("outcome", string(outcome)),
			zap.String("external_reference", ev.ExternalReference),
		)
	}
	return outcome, nil
}

// Resubmit moves a failed event back to received so the next intake pass
// validates it again. It is refused while another live event holds the
// reference.
func (s *Service) Resubmit(ctx context.Context, eventID uuid.UUID, operator, notes string) (*domain.PaymentEvent, error) {
	if operator == "" {
		return nil, domain.ErrAuthMissing
	}

	var ev *domain.PaymentEvent
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		ev, err = tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status != domain.EventStatusFailed {
			return domain.NewDomainError(domain.ErrorCodeEventInvalidState, "only failed events can be resubmitted").
				WithDetail("status", string(ev.Status))
		}
		holder, err := tx.Events().FindLive(ctx, ev.IntegrationID, ev.ExternalReference)
		if err != nil {
			return fmt.Errorf("find live event: %w", err)
		}
		if holder != nil {
			return domain.NewDomainError(domain.ErrorCodeDuplicateEvent, "another event already holds this reference").
				WithDetail("holder_id", holder.ID.String())
		}

		now := s.now().UTC()
		if err := ev.TransitionTo(domain.EventStatusReceived, now); err != nil {
			return err
		}
		ev.ValidationErrors = nil
		ev.NormalizedPayload = nil
		if err := tx.Events().Update(ctx, ev); err != nil {
			return fmt.Errorf("resubmit event: %w", err)
		}
		entry := domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.resubmitted", operator, now).
			Transition(string(domain.EventStatusFailed), string(ev.Status))
		if notes != "" {
			entry.With("notes", notes)
		}
		return tx.Audit().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordOperatorAction("resubmit")
	s.logger.Info("Payment event resubmitted",
		zap.String("event_id", ev.ID.String()),
		zap.String("operator", operator),
	)
	return ev, nil
}

func issueDetails(issues []domain.ValidationIssue) []map[string]string {
	out := make([]map[string]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, map[string]string{"field": is.Field, "message": is.Message})
	}
	return out
}
