package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
)

// Result describes one application attempt
type Result struct {
	Payment *domain.FeePayment
	// Applied is false when the reference had already been applied; the
	// queue item and event are still finalised
	Applied bool
	// ExcessMinor is the part of the amount left on the fee account as credit
	ExcessMinor int64
}

// Applier is the only writer of fee-account balances and invoice status
type Applier struct {
	store  ports.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewApplier creates a ledger applier
func NewApplier(store ports.Store, logger *zap.Logger) *Applier {
	return &Applier{store: store, logger: logger, now: time.Now}
}

// Apply credits the matched fee account for the queue item in one
// transaction. The fee_payments reference key makes a repeated attempt a
// no-op. Lock order is item, event, payment, fee account, invoice.
func (a *Applier) Apply(ctx context.Context, itemID uuid.UUID, actor string) (*Result, error) {
	var res *Result
	err := a.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		res, err = a.apply(ctx, tx, itemID, actor)
		return err
	})
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeApplicationConflict) {
			observability.RecordLedgerApplication("conflict", 0, "")
		} else {
			observability.RecordLedgerApplication("failed", 0, "")
		}
		return nil, err
	}
	return res, nil
}

func (a *Applier) apply(ctx context.Context, tx ports.Store, itemID uuid.UUID, actor string) (*Result, error) {
	now := a.now().UTC()

	item, err := tx.Queue().GetForUpdate(ctx, itemID)
	if err != nil {
		return nil, err
	}
	ev, err := tx.Events().GetForUpdate(ctx, item.EventID)
	if err != nil {
		return nil, err
	}

	if item.MatchStatus == domain.MatchStatusProcessed {
		existing, err := tx.Ledger().GetPaymentByReference(ctx, ev.IntegrationID, ev.ExternalReference)
		if err != nil {
			return nil, fmt.Errorf("load applied payment: %w", err)
		}
		return &Result{Payment: existing}, nil
	}
	applicable := item.MatchStatus == domain.MatchStatusMatched || item.MatchStatus == domain.MatchStatusPending
	if !applicable || !item.MatchLocked {
		return nil, domain.NewDomainError(domain.ErrorCodeQueueInvalidState, "queue item is not locked to a match").
			WithDetail("match_status", string(item.MatchStatus))
	}
	if item.FeeAccountID == nil || item.StudentID == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "queue item has no fee account")
	}
	if ev.Kind == domain.EventKindReversal {
		return nil, domain.NewDomainError(domain.ErrorCodeEventInvalidState, "reversal events are never applied")
	}
	if ev.Status != domain.EventStatusQueued && ev.Status != domain.EventStatusProcessed {
		return nil, domain.NewDomainError(domain.ErrorCodeEventInvalidState, "event is not queued").
			WithDetail("status", string(ev.Status))
	}

	payment := &domain.FeePayment{
		ID:                uuid.New(),
		IntegrationID:     ev.IntegrationID,
		EventID:           ev.ID,
		QueueItemID:       item.ID,
		InstitutionID:     ev.InstitutionID,
		StudentID:         *item.StudentID,
		FeeAccountID:      *item.FeeAccountID,
		InvoiceID:         item.InvoiceID,
		ExternalReference: ev.ExternalReference,
		Provider:          ev.Provider,
		AmountMinor:       ev.Amount(),
		Currency:          ev.Currency,
		AppliedBy:         actor,
		CreatedAt:         now,
	}

	inserted, err := tx.Ledger().InsertPayment(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("insert fee payment: %w", err)
	}
	if !inserted {
		existing, err := tx.Ledger().GetPaymentByReference(ctx, ev.IntegrationID, ev.ExternalReference)
		if err != nil {
			return nil, fmt.Errorf("load applied payment: %w", err)
		}
		if err := a.finalise(ctx, tx, item, ev, actor, now, "ledger.already_applied"); err != nil {
			return nil, err
		}
		observability.RecordLedgerApplication("already_applied", 0, ev.Currency)
		a.logger.Info("Payment reference already applied",
			zap.String("queue_item_id", item.ID.String()),
			zap.String("external_reference", ev.ExternalReference),
		)
		return &Result{Payment: existing}, nil
	}

	acct, err := tx.Ledger().LockFeeAccount(ctx, *item.FeeAccountID)
	if err != nil {
		return nil, err
	}
	if acct.InstitutionID != ev.InstitutionID {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "fee account belongs to another institution")
	}
	if acct.Currency != ev.Currency {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "fee account currency differs from payment currency").
			WithDetail("account_currency", acct.Currency).
			WithDetail("payment_currency", ev.Currency)
	}
	balanceBefore := acct.BalanceMinor
	acct.Credit(payment.AmountMinor, now)
	if err := tx.Ledger().UpdateFeeAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("update fee account: %w", err)
	}

	excess := payment.AmountMinor
	if item.InvoiceID != nil {
		inv, err := tx.Ledger().LockInvoice(ctx, *item.InvoiceID)
		if err != nil {
			return nil, err
		}
		if inv.FeeAccountID != acct.ID {
			return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "invoice belongs to another fee account")
		}
		if inv.Status.IsOpen() {
			excess = inv.ApplyPayment(payment.AmountMinor)
			if err := tx.Ledger().UpdateInvoice(ctx, inv); err != nil {
				return nil, fmt.Errorf("update invoice: %w", err)
			}
		}
	}

	entry := domain.NewAuditEntry(domain.AuditEntityFeePayment, payment.ID, "ledger.applied", actor, now).
		With("event_id", ev.ID.String()).
		With("fee_account_id", acct.ID.String()).
		With("amount_minor", payment.AmountMinor).
		With("balance_before_minor", balanceBefore).
		With("balance_after_minor", acct.BalanceMinor)
	if item.InvoiceID != nil {
		entry.With("invoice_id", item.InvoiceID.String()).With("excess_minor", excess)
	}
	if err := tx.Audit().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit payment: %w", err)
	}

	if err := a.finalise(ctx, tx, item, ev, actor, now, "queue.processed"); err != nil {
		return nil, err
	}

	observability.RecordLedgerApplication("applied", payment.AmountMinor, payment.Currency)
	a.logger.Info("Payment applied to fee account",
		zap.String("payment_id", payment.ID.String()),
		zap.String("queue_item_id", item.ID.String()),
		zap.String("fee_account_id", acct.ID.String()),
		zap.Int64("amount_minor", payment.AmountMinor),
		zap.Int64("balance_minor", acct.BalanceMinor),
	)
	return &Result{Payment: payment, Applied: true, ExcessMinor: excess}, nil
}

// finalise moves the item and event to processed and audits both
func (a *Applier) finalise(ctx context.Context, tx ports.Store, item *domain.QueueItem, ev *domain.PaymentEvent, actor string, now time.Time, action string) error {
	fromItem := item.MatchStatus
	item.MatchStatus = domain.MatchStatusProcessed
	item.ProcessedAt = &now
	item.UpdatedAt = now
	if err := tx.Queue().Update(ctx, item); err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if err := tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityQueueItem, item.ID, action, actor, now).
		Transition(string(fromItem), string(item.MatchStatus))); err != nil {
		return fmt.Errorf("audit queue item: %w", err)
	}

	if ev.Status == domain.EventStatusProcessed {
		return nil
	}
	fromEvent := ev.Status
	if err := ev.TransitionTo(domain.EventStatusProcessed, now); err != nil {
		return err
	}
	if err := tx.Events().Update(ctx, ev); err != nil {
		return fmt.Errorf("update payment event: %w", err)
	}
	return tx.Audit().Append(ctx, domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.processed", actor, now).
		Transition(string(fromEvent), string(ev.Status)))
}
