package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
)

// Service stores inbound provider notifications. It does no validation or
// matching so the webhook can acknowledge quickly.
type Service struct {
	store     ports.Store
	publisher notify.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new ingestion service
func NewService(store ports.Store, publisher notify.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Receive records body as a PaymentEvent for the integration. A body whose
// reference is already held by a live event is stored as a duplicate of it.
// The institution always comes from the integration.
func (s *Service) Receive(ctx context.Context, integrationID uuid.UUID, body []byte, sourceIP string) (*domain.PaymentEvent, error) {
	integration, err := s.store.Directory().GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	payload := normalize.Decode(integration.Provider, body)
	if up, ok := payload.(domain.UnparsedPayload); ok {
		s.logger.Warn("Storing unparsed provider payload",
			zap.String("integration_id", integrationID.String()),
			zap.String("reason", up.Reason),
		)
	}

	now := s.now().UTC()
	ev := &domain.PaymentEvent{
		ID:                uuid.New(),
		IntegrationID:     integration.ID,
		InstitutionID:     integration.InstitutionID,
		Provider:          integration.Provider,
		ExternalReference: normalize.ExternalReference(payload, body),
		RawPayload:        body,
		SourceIP:          sourceIP,
		Status:            domain.EventStatusReceived,
		ReceivedAt:        now,
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		created, err := tx.Events().Create(ctx, ev)
		if err != nil {
			return fmt.Errorf("create payment event: %w", err)
		}

		audit := domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.received", domain.ActorSystem, now).
			Transition("", string(domain.EventStatusReceived)).
			With("external_reference", ev.ExternalReference).
			With("source_ip", sourceIP)

		if !created {
			holder, err := tx.Events().FindLive(ctx, ev.IntegrationID, ev.ExternalReference)
			if err != nil {
				return fmt.Errorf("find live event: %w", err)
			}
			ev.Status = domain.EventStatusDuplicate
			ev.ProcessingCompletedAt = &now
			if holder != nil {
				ev.DuplicateOf = &holder.ID
			}
			if _, err := tx.Events().Create(ctx, ev); err != nil {
				return fmt.Errorf("create duplicate payment event: %w", err)
			}
			audit.Action = "event.duplicate"
			audit.ToStatus = string(domain.EventStatusDuplicate)
			if holder != nil {
				audit.With("duplicate_of", holder.ID.String())
			}
		}

		return tx.Audit().Append(ctx, audit)
	})
	if err != nil {
		s.logger.Error("Failed to store payment event",
			zap.String("integration_id", integrationID.String()),
			zap.String("external_reference", ev.ExternalReference),
			zap.Error(err),
		)
		return nil, err
	}

	observability.RecordEventReceived(string(ev.Provider), string(ev.Status))
	if ev.Status == domain.EventStatusReceived {
		s.publisher.Publish(notify.ForEvent(notify.KindEventReceived, ev))
	}

	s.logger.Info("Payment event stored",
		zap.String("event_id", ev.ID.String()),
		zap.String("integration_id", ev.IntegrationID.String()),
		zap.String("provider", string(ev.Provider)),
		zap.String("external_reference", ev.ExternalReference),
		zap.String("status", string(ev.Status)),
	)
	return ev, nil
}
