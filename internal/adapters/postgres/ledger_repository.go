package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

const (
	feeAccountColumns = `id, institution_id, student_id, account_number, currency,
		total_billed_minor, total_paid_minor, balance_minor, version, updated_at`
	invoiceColumns = `id, institution_id, student_id, fee_account_id, billing_reference,
		amount_minor, paid_minor, balance_minor, status, due_date`
	installmentColumns = `id, invoice_id, sequence, amount_minor, paid_minor, status, due_date`
	paymentColumns     = `id, integration_id, external_reference, event_id, queue_item_id, institution_id,
		student_id, fee_account_id, invoice_id, provider, amount_minor, currency, applied_by, created_at`
)

// LedgerRepository implements ports.LedgerRepository. The Lock methods take
// row locks and must run inside InTx.
type LedgerRepository struct {
	db DBTX
}

// InsertPayment relies on UNIQUE (integration_id, external_reference). A
// concurrent insert of the same reference waits for the first transaction
// and then inserts nothing.
func (r *LedgerRepository) InsertPayment(ctx context.Context, p *domain.FeePayment) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO fee_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (integration_id, external_reference) DO NOTHING`,
		p.ID, p.IntegrationID, p.ExternalReference, p.EventID, p.QueueItemID, p.InstitutionID,
		p.StudentID, p.FeeAccountID, nullUUID(p.InvoiceID), string(p.Provider), p.AmountMinor, p.Currency,
		p.AppliedBy, p.CreatedAt)
	if err != nil {
		return false, mapError(fmt.Errorf("insert fee payment: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LedgerRepository) GetPaymentByReference(ctx context.Context, integrationID uuid.UUID, externalReference string) (*domain.FeePayment, error) {
	var (
		p         domain.FeePayment
		invoiceID pgtype.UUID
		provider  string
	)
	err := r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM fee_payments
		WHERE integration_id = $1 AND external_reference = $2`,
		integrationID, externalReference,
	).Scan(
		&p.ID, &p.IntegrationID, &p.ExternalReference, &p.EventID, &p.QueueItemID, &p.InstitutionID,
		&p.StudentID, &p.FeeAccountID, &invoiceID, &provider, &p.AmountMinor, &p.Currency,
		&p.AppliedBy, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(fmt.Errorf("get fee payment: %w", err))
	}
	p.InvoiceID = uuidPtr(invoiceID)
	p.Provider = domain.Provider(provider)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (r *LedgerRepository) LockFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error) {
	acct, err := scanFeeAccount(r.db.QueryRow(ctx, `SELECT `+feeAccountColumns+` FROM fee_accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrFeeAccountNotFound)
	}
	return acct, nil
}

// UpdateFeeAccount writes the new totals guarded by the version read under
// the lock. A mismatch means the row changed outside the lock.
func (r *LedgerRepository) UpdateFeeAccount(ctx context.Context, acct *domain.FeeAccount) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE fee_accounts SET
			total_billed_minor = $2, total_paid_minor = $3, balance_minor = $4,
			version = $5, updated_at = $6
		WHERE id = $1 AND version = $5 - 1`,
		acct.ID, acct.TotalBilledMinor, acct.TotalPaidMinor, acct.BalanceMinor, acct.Version, acct.UpdatedAt)
	if err != nil {
		return mapError(fmt.Errorf("update fee account: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrApplicationConflict
	}
	return nil
}

func (r *LedgerRepository) LockInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrInvoiceNotFound)
	}
	inv.Installments, err = loadInstallments(ctx, r.db, id, true)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *LedgerRepository) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET paid_minor = $2, balance_minor = $3, status = $4
		WHERE id = $1`,
		inv.ID, inv.PaidMinor, inv.BalanceMinor, string(inv.Status))
	if err != nil {
		return mapError(fmt.Errorf("update invoice: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}

	batch := &pgx.Batch{}
	for _, inst := range inv.Installments {
		batch.Queue(`UPDATE installments SET paid_minor = $2, status = $3 WHERE id = $1`,
			inst.ID, inst.PaidMinor, string(inst.Status))
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := sendBatch(ctx, r.db, batch); err != nil {
		return mapError(fmt.Errorf("update installments: %w", err))
	}
	return nil
}

// sendBatch runs a batch on either a pool or a transaction
func sendBatch(ctx context.Context, db DBTX, batch *pgx.Batch) error {
	sender, ok := db.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return fmt.Errorf("connection does not support batches")
	}
	return sender.SendBatch(ctx, batch).Close()
}

func loadInstallments(ctx context.Context, db DBTX, invoiceID uuid.UUID, lock bool) ([]domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE invoice_id = $1 ORDER BY sequence`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, mapError(fmt.Errorf("load installments: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Installment, error) {
		var (
			inst   domain.Installment
			status string
			due    pgtype.Date
		)
		err := row.Scan(&inst.ID, &inst.InvoiceID, &inst.Sequence, &inst.AmountMinor, &inst.PaidMinor, &status, &due)
		inst.Status = domain.InvoiceStatus(status)
		inst.DueDate = datePtr(due)
		return inst, err
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("scan installments: %w", err))
	}
	return out, nil
}

func scanFeeAccount(row pgx.Row) (*domain.FeeAccount, error) {
	var acct domain.FeeAccount
	err := row.Scan(
		&acct.ID, &acct.InstitutionID, &acct.StudentID, &acct.AccountNumber, &acct.Currency,
		&acct.TotalBilledMinor, &acct.TotalPaidMinor, &acct.BalanceMinor, &acct.Version, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return &acct, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		inv    domain.Invoice
		status string
		due    pgtype.Date
	)
	err := row.Scan(
		&inv.ID, &inv.InstitutionID, &inv.StudentID, &inv.FeeAccountID, &inv.BillingReference,
		&inv.AmountMinor, &inv.PaidMinor, &inv.BalanceMinor, &status, &due,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.DueDate = datePtr(due)
	return &inv, nil
}
