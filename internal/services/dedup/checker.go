package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
)

// Checker enforces that only the first-received event for a reference proceeds.
// On Postgres the live-reference unique index already refuses a second live
// row at insert and on update; Check is the second layer for stores without
// that index and for rows that became live outside ingest.
type Checker struct {
	logger *zap.Logger
}

// NewChecker creates a deduplicator
func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{logger: logger}
}

// Check looks for an earlier live event holding ev's reference on the same
// integration. When one exists ev is marked duplicate, audited, and the
// holder's id is returned. It must run inside the caller's transaction.
func (c *Checker) Check(ctx context.Context, tx ports.Store, ev *domain.PaymentEvent, now time.Time) (*uuid.UUID, error) {
	earlier, err := tx.Events().FindEarlier(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("find earlier event: %w", err)
	}
	if earlier == nil {
		return nil, nil
	}

	from := ev.Status
	if err := ev.TransitionTo(domain.EventStatusDuplicate, now); err != nil {
		return nil, err
	}
	holder := earlier.ID
	ev.DuplicateOf = &holder
	if err := tx.Events().Update(ctx, ev); err != nil {
		return nil, fmt.Errorf("mark duplicate: %w", err)
	}

	entry := domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.duplicate", domain.ActorSystem, now).
		Transition(string(from), string(domain.EventStatusDuplicate)).
		With("duplicate_of", holder.String()).
		With("external_reference", ev.ExternalReference)
	if err := tx.Audit().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit duplicate: %w", err)
	}

	c.logger.Info("Duplicate payment event",
		zap.String("event_id", ev.ID.String()),
		zap.String("duplicate_of", holder.String()),
		zap.String("external_reference", ev.ExternalReference),
	)
	return &holder, nil
}
