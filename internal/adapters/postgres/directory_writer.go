package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
)

// The pipeline only reads the directory. These writers load institutions,
// integrations and students for seeding and integration tests.

// CreateIntegration inserts the integration together with its institution
// and bank account when those do not exist yet
func (s *Store) CreateIntegration(ctx context.Context, integ domain.Integration, institutionName string) error {
	return s.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		db := tx.(*Store).db
		if _, err := db.Exec(ctx, `
			INSERT INTO institutions (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`, integ.InstitutionID, institutionName); err != nil {
			return fmt.Errorf("insert institution: %w", err)
		}
		if _, err := db.Exec(ctx, `
			INSERT INTO bank_accounts (id, institution_id, account_number, is_active) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET is_active = EXCLUDED.is_active`,
			integ.BankAccountID, integ.InstitutionID, integ.BankAccountID.String()[:8], integ.BankAccountActive); err != nil {
			return fmt.Errorf("insert bank account: %w", err)
		}
		if _, err := db.Exec(ctx, `
			INSERT INTO integrations (id, institution_id, bank_account_id, name, provider, currency, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, provider = EXCLUDED.provider,
				currency = EXCLUDED.currency, is_active = EXCLUDED.is_active`,
			integ.ID, integ.InstitutionID, integ.BankAccountID, integ.Name, string(integ.Provider),
			integ.Currency, integ.IsActive); err != nil {
			return fmt.Errorf("insert integration: %w", err)
		}
		return nil
	})
}

// CreateStudent inserts a student with guardians, fee account, invoices and
// installments. The institution must exist.
func (s *Store) CreateStudent(ctx context.Context, rec domain.StudentRecord) error {
	return s.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		db := tx.(*Store).db
		st := rec.Student
		if _, err := db.Exec(ctx, `
			INSERT INTO students (id, institution_id, admission_number, full_name) VALUES ($1, $2, $3, $4)`,
			st.ID, st.InstitutionID, st.AdmissionNumber, st.FullName); err != nil {
			return fmt.Errorf("insert student: %w", err)
		}

		batch := &pgx.Batch{}
		for _, g := range rec.Guardians {
			batch.Queue(`INSERT INTO guardians (id, student_id, full_name, phone_e164) VALUES ($1, $2, $3, $4)`,
				g.ID, g.StudentID, g.FullName, g.PhoneE164)
		}
		if acct := rec.FeeAccount; acct.ID != uuid.Nil {
			batch.Queue(`
				INSERT INTO fee_accounts (id, institution_id, student_id, account_number, currency,
					total_billed_minor, total_paid_minor, balance_minor, version, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				acct.ID, acct.InstitutionID, acct.StudentID, acct.AccountNumber, acct.Currency,
				acct.TotalBilledMinor, acct.TotalPaidMinor, acct.BalanceMinor, acct.Version, acct.UpdatedAt)
		}
		for _, inv := range rec.OpenInvoices {
			batch.Queue(`
				INSERT INTO invoices (id, institution_id, student_id, fee_account_id, billing_reference,
					amount_minor, paid_minor, balance_minor, status, due_date)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				inv.ID, inv.InstitutionID, inv.StudentID, inv.FeeAccountID, inv.BillingReference,
				inv.AmountMinor, inv.PaidMinor, inv.BalanceMinor, string(inv.Status), nullDate(inv.DueDate))
			for _, inst := range inv.Installments {
				batch.Queue(`
					INSERT INTO installments (id, invoice_id, sequence, amount_minor, paid_minor, status, due_date)
					VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					inst.ID, inst.InvoiceID, inst.Sequence, inst.AmountMinor, inst.PaidMinor,
					string(inst.Status), nullDate(inst.DueDate))
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := sendBatch(ctx, db, batch); err != nil {
			return fmt.Errorf("insert student records: %w", err)
		}
		return nil
	})
}
