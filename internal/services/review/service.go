package review

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/internal/services/ledger"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// MatchApplier routes a confirmed match to the ledger
type MatchApplier interface {
	ApplyMatched(ctx context.Context, itemID uuid.UUID, actor string) (*ledger.Result, error)
}

// ReviewItem is everything an operator needs to decide on one queue item
type ReviewItem struct {
	Item       *domain.QueueItem       `json:"item"`
	Event      *domain.PaymentEvent    `json:"event"`
	Candidates []domain.MatchCandidate `json:"candidates"`
	Audit      []domain.AuditEntry     `json:"audit"`
}

// CandidateSelection names the fee account, or one of its invoices, to apply to
type CandidateSelection struct {
	InvoiceID    *uuid.UUID `json:"invoice_id,omitempty"`
	FeeAccountID *uuid.UUID `json:"fee_account_id,omitempty"`
}

// ActionRequest is one operator decision
type ActionRequest struct {
	Candidate   *CandidateSelection `json:"candidate,omitempty"`
	Action      domain.QueueAction  `json:"action"`
	Notes       string              `json:"notes,omitempty"`
	Operator    string              `json:"-"`
	QueueItemID uuid.UUID           `json:"-"`
}

// ActionResult reports the item after the action, and the payment when a
// confirm was applied
type ActionResult struct {
	Item    *domain.QueueItem  `json:"item"`
	Payment *domain.FeePayment `json:"payment,omitempty"`
	Applied bool               `json:"applied"`
}

// Service is the manual-review surface over the processing queue
type Service struct {
	store   ports.Store
	applier MatchApplier
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the review service
func NewService(store ports.Store, applier MatchApplier, logger *zap.Logger) *Service {
	return &Service{store: store, applier: applier, logger: logger, now: time.Now}
}

// List returns items awaiting an operator, exceptions first then oldest first
func (s *Service) List(ctx context.Context, filter domain.ReviewFilter) ([]*domain.QueueItem, error) {
	for _, st := range filter.Statuses {
		if !isReviewStatus(st) {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "status is not reviewable").
				WithDetail("status", string(st))
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.Queue().ListReview(ctx, filter)
}

// Get returns the item with its event, every scored candidate and the
// combined audit history of item and event
func (s *Service) Get(ctx context.Context, itemID uuid.UUID) (*ReviewItem, error) {
	item, err := s.store.Queue().Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	ev, err := s.store.Events().Get(ctx, item.EventID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.Audit().ListByEntity(ctx, domain.AuditEntityQueueItem, item.ID)
	if err != nil {
		return nil, fmt.Errorf("load queue item audit: %w", err)
	}
	eventHistory, err := s.store.Audit().ListByEntity(ctx, domain.AuditEntityEvent, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("load event audit: %w", err)
	}
	history = append(history, eventHistory...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})

	out := &ReviewItem{Item: item, Event: ev, Audit: history, Candidates: []domain.MatchCandidate{}}
	if item.MatchDetail != nil {
		out.Candidates = item.MatchDetail.Candidates
	}
	return out, nil
}

// Act applies an operator decision. A confirm is committed first and then
// handed to the ledger; if the ledger write fails the item stays locked to
// the confirmed candidate and the scheduler retries it.
func (s *Service) Act(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if req.Operator == "" {
		return nil, domain.ErrAuthMissing
	}
	if !req.Action.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "action must be confirm, ignore or requeue").
			WithDetail("action", string(req.Action))
	}
	if req.Action == domain.ActionConfirm && (req.Candidate == nil || (req.Candidate.InvoiceID == nil && req.Candidate.FeeAccountID == nil)) {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "confirm requires a candidate invoice or fee account")
	}

	var item *domain.QueueItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		item, err = tx.Queue().GetForUpdate(ctx, req.QueueItemID)
		if err != nil {
			return err
		}
		if !item.AcceptsOperatorAction() {
			return domain.NewDomainError(domain.ErrorCodeQueueInvalidState, "queue item no longer accepts operator actions").
				WithDetail("match_status", string(item.MatchStatus))
		}
		ev, err := tx.Events().GetForUpdate(ctx, item.EventID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		from := item.MatchStatus
		entry := domain.NewAuditEntry(domain.AuditEntityQueueItem, item.ID, "review."+string(req.Action), req.Operator, now)

		switch req.Action {
		case domain.ActionConfirm:
			candidate, err := s.resolve(ctx, tx, item, ev, req.Candidate)
			if err != nil {
				return err
			}
			item.SetMatch(candidate)
			item.MatchLocked = true
			item.MatchStatus = domain.MatchStatusMatched
			item.RetryCount = 0
			item.NextRetryAt = now
			entry.With("fee_account_id", candidate.FeeAccountID.String())
			if candidate.InvoiceID != nil {
				entry.With("invoice_id", candidate.InvoiceID.String())
			}

		case domain.ActionIgnore:
			item.ClearMatch()
			item.MatchStatus = domain.MatchStatusIgnored
			fromEvent := ev.Status
			if err := ev.TransitionTo(domain.EventStatusIgnored, now); err != nil {
				return err
			}
			if err := tx.Events().Update(ctx, ev); err != nil {
				return fmt.Errorf("ignore event: %w", err)
			}
			evEntry := domain.NewAuditEntry(domain.AuditEntityEvent, ev.ID, "event.ignored", req.Operator, now).
				Transition(string(fromEvent), string(ev.Status))
			if err := tx.Audit().Append(ctx, evEntry); err != nil {
				return fmt.Errorf("audit event: %w", err)
			}

		case domain.ActionRequeue:
			item.ClearMatch()
			item.MatchStatus = domain.MatchStatusPending
			item.RetryCount = 0
			item.Priority = domain.PriorityNormal
			item.NextRetryAt = now
		}

		item.ActionTaken = req.Action
		item.ActionBy = req.Operator
		item.ActionAt = &now
		item.UpdatedAt = now
		if req.Notes != "" {
			item.AppendNote(fmt.Sprintf("%s by %s: %s", req.Action, req.Operator, req.Notes))
			entry.With("notes", req.Notes)
		}
		if err := tx.Queue().Update(ctx, item); err != nil {
			return fmt.Errorf("update queue item: %w", err)
		}
		return tx.Audit().Append(ctx, entry.Transition(string(from), string(item.MatchStatus)))
	})
	if err != nil {
		return nil, err
	}

	observability.RecordOperatorAction(string(req.Action))
	s.logger.Info("Operator action recorded",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("action", string(req.Action)),
		zap.String("operator", req.Operator),
	)

	result := &ActionResult{Item: item}
	if req.Action != domain.ActionConfirm {
		return result, nil
	}

	applied, err := s.applier.ApplyMatched(ctx, item.ID, req.Operator)
	if err != nil {
		return nil, err
	}
	result.Payment = applied.Payment
	result.Applied = applied.Applied
	if result.Item, err = s.store.Queue().Get(ctx, item.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// resolve turns an operator selection into a candidate, checking it belongs
// to the item's institution and can take the event's currency
func (s *Service) resolve(ctx context.Context, tx ports.Store, item *domain.QueueItem, ev *domain.PaymentEvent, sel *CandidateSelection) (*domain.MatchCandidate, error) {
	if ev.Kind == domain.EventKindReversal {
		return nil, domain.NewDomainError(domain.ErrorCodeEventInvalidState, "reversal events cannot be applied; ignore them instead")
	}

	dir := tx.Directory()
	candidate := &domain.MatchCandidate{}
	accountID := sel.FeeAccountID

	if sel.InvoiceID != nil {
		inv, err := dir.GetInvoice(ctx, *sel.InvoiceID)
		if err != nil {
			return nil, err
		}
		if inv.InstitutionID != item.InstitutionID {
			return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "invoice belongs to another institution")
		}
		if !inv.Status.IsOpen() {
			return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "invoice is not open").
				WithDetail("status", string(inv.Status))
		}
		if accountID != nil && *accountID != inv.FeeAccountID {
			return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "invoice does not belong to the selected fee account")
		}
		invoiceID := inv.ID
		candidate.InvoiceID = &invoiceID
		candidate.BillingReference = inv.BillingReference
		feeAccountID := inv.FeeAccountID
		accountID = &feeAccountID
	}

	acct, err := dir.GetFeeAccount(ctx, *accountID)
	if err != nil {
		return nil, err
	}
	if acct.InstitutionID != item.InstitutionID {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "fee account belongs to another institution")
	}
	if ev.Currency != "" && acct.Currency != ev.Currency {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidCandidate, "fee account currency differs from payment currency").
			WithDetail("account_currency", acct.Currency).
			WithDetail("payment_currency", ev.Currency)
	}
	candidate.FeeAccountID = acct.ID
	candidate.StudentID = acct.StudentID
	candidate.AccountNumber = acct.AccountNumber
	candidate.Currency = acct.Currency
	return candidate, nil
}

func isReviewStatus(st domain.MatchStatus) bool {
	for _, s := range domain.ReviewStatuses {
		if s == st {
			return true
		}
	}
	return false
}
