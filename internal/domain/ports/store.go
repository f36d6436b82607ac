package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

// EventRepository persists PaymentEvents. Rows are never deleted.
type EventRepository interface {
	// Create inserts ev. It returns false without error when another live
	// event already holds (integration_id, external_reference).
	Create(ctx context.Context, ev *domain.PaymentEvent) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error)
	// GetForUpdate locks the row for the rest of the transaction
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error)
	// FindEarlier returns the first-received live event holding the same
	// reference that was received before ev, or nil
	FindEarlier(ctx context.Context, ev *domain.PaymentEvent) (*domain.PaymentEvent, error)
	// FindLive returns the live event holding the reference, or nil
	FindLive(ctx context.Context, integrationID uuid.UUID, externalReference string) (*domain.PaymentEvent, error)
	// ClaimReceived leases up to limit received events for validation
	ClaimReceived(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]uuid.UUID, error)
	Update(ctx context.Context, ev *domain.PaymentEvent) error
	CountByStatus(ctx context.Context, institutionID *uuid.UUID) (map[domain.EventStatus]int64, error)
	ProviderTotals(ctx context.Context, institutionID *uuid.UUID) ([]domain.ProviderTotal, error)
}

// QueueRepository persists ProcessingQueueItems. Rows are never deleted.
type QueueRepository interface {
	Create(ctx context.Context, item *domain.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	GetByEvent(ctx context.Context, eventID uuid.UUID) (*domain.QueueItem, error)
	// ClaimDue leases up to limit claimable items whose next_retry_at has passed
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]uuid.UUID, error)
	Update(ctx context.Context, item *domain.QueueItem) error
	ListReview(ctx context.Context, filter domain.ReviewFilter) ([]*domain.QueueItem, error)
	CountByStatus(ctx context.Context, institutionID *uuid.UUID) (map[domain.MatchStatus]int64, error)
}

// LedgerRepository is used only by the ledger applier
type LedgerRepository interface {
	// InsertPayment returns false without error when the reference was already applied
	InsertPayment(ctx context.Context, p *domain.FeePayment) (bool, error)
	// GetPaymentByReference returns nil when nothing was applied under the reference
	GetPaymentByReference(ctx context.Context, integrationID uuid.UUID, externalReference string) (*domain.FeePayment, error)
	LockFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error)
	UpdateFeeAccount(ctx context.Context, acct *domain.FeeAccount) error
	LockInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *domain.Invoice) error
}

// DirectoryRepository reads institution configuration and student records
type DirectoryRepository interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*domain.Integration, error)
	FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.StudentRecord, error)
	GetFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
}

// AuditRepository is append-only
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID uuid.UUID) ([]domain.AuditEntry, error)
}

// Store groups the repositories. A Store handed to an InTx callback is bound
// to that transaction; nested InTx calls join it.
type Store interface {
	Events() EventRepository
	Queue() QueueRepository
	Ledger() LedgerRepository
	Directory() DirectoryRepository
	Audit() AuditRepository
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
}
