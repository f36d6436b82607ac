package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

const phoneSuffixDigits = 9

// DirectoryRepository implements ports.DirectoryRepository
type DirectoryRepository struct {
	db DBTX
}

func (r *DirectoryRepository) GetIntegration(ctx context.Context, id uuid.UUID) (*domain.Integration, error) {
	var (
		integ    domain.Integration
		provider string
	)
	err := r.db.QueryRow(ctx, `
		SELECT i.id, i.institution_id, i.bank_account_id, i.name, i.provider, i.currency,
		       i.is_active, b.is_active
		FROM integrations i
		JOIN bank_accounts b ON b.id = i.bank_account_id
		WHERE i.id = $1`, id,
	).Scan(&integ.ID, &integ.InstitutionID, &integ.BankAccountID, &integ.Name, &provider, &integ.Currency,
		&integ.IsActive, &integ.BankAccountActive)
	if err != nil {
		return nil, notFound(err, domain.ErrIntegrationNotFound)
	}
	integ.Provider = domain.Provider(provider)
	return &integ, nil
}

func (r *DirectoryRepository) GetFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error) {
	acct, err := scanFeeAccount(r.db.QueryRow(ctx, `SELECT `+feeAccountColumns+` FROM fee_accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrFeeAccountNotFound)
	}
	return acct, nil
}

func (r *DirectoryRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrInvoiceNotFound)
	}
	inv.Installments, err = loadInstallments(ctx, r.db, id, false)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// FindCandidates returns students of the institution that share at least
// one identity signal with the query: a folded reference equal to an
// admission number, account number or open invoice reference, a guardian
// phone with the same trailing digits, or a name token. At most
// domain.MaxCandidateStudents come back, reference hits first, then phone
// hits, so a common surname cannot crowd out the student a reference names.
func (r *DirectoryRepository) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.StudentRecord, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	refs := q.References
	if refs == nil {
		refs = []string{}
	}
	tokens := q.NameTokens
	if tokens == nil {
		tokens = []string{}
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, institution_id, admission_number, full_name
		FROM (
			SELECT s.id, s.institution_id, s.admission_number, s.full_name,
				COALESCE(
					s.admission_key = ANY($2)
					OR EXISTS (SELECT 1 FROM fee_accounts a WHERE a.student_id = s.id AND a.account_key = ANY($2))
					OR EXISTS (SELECT 1 FROM invoices i
					           WHERE i.student_id = s.id AND i.billing_key = ANY($2)
					             AND i.status IN ('open', 'partially_paid') AND i.balance_minor > 0),
					false) AS reference_hit,
				COALESCE($3::text IS NOT NULL AND EXISTS (
					SELECT 1 FROM guardians g WHERE g.student_id = s.id AND g.phone_suffix = $3),
					false) AS phone_hit,
				COALESCE(cardinality($4::text[]) > 0 AND EXISTS (
					SELECT 1 FROM (
						SELECT s.full_name AS name
						UNION ALL
						SELECT g.full_name FROM guardians g WHERE g.student_id = s.id
					) n, regexp_split_to_table(lower(n.name), '\s+') AS t(token)
					WHERE btrim(t.token, '.,''-') = ANY($4)),
					false) AS name_hit
			FROM students s
			WHERE s.institution_id = $1
		) c
		WHERE reference_hit OR phone_hit OR name_hit
		ORDER BY reference_hit DESC, phone_hit DESC, id
		LIMIT $5`,
		q.InstitutionID, refs, nullText(phoneSuffix(q.Phone)), tokens, domain.MaxCandidateStudents)
	if err != nil {
		return nil, mapError(fmt.Errorf("find candidate students: %w", err))
	}
	students, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Student, error) {
		var st domain.Student
		err := row.Scan(&st.ID, &st.InstitutionID, &st.AdmissionNumber, &st.FullName)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan candidate students: %w", err)
	}
	if len(students) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(students))
	records := make(map[uuid.UUID]*domain.StudentRecord, len(students))
	out := make([]domain.StudentRecord, len(students))
	for i, st := range students {
		ids[i] = st.ID
		out[i].Student = st
		records[st.ID] = &out[i]
	}

	if err := r.attachAccounts(ctx, ids, records); err != nil {
		return nil, err
	}
	if err := r.attachGuardians(ctx, ids, records); err != nil {
		return nil, err
	}
	if err := r.attachOpenInvoices(ctx, ids, records); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DirectoryRepository) attachAccounts(ctx context.Context, ids []uuid.UUID, records map[uuid.UUID]*domain.StudentRecord) error {
	rows, err := r.db.Query(ctx, `SELECT `+feeAccountColumns+` FROM fee_accounts WHERE student_id = ANY($1)`, ids)
	if err != nil {
		return mapError(fmt.Errorf("load fee accounts: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		acct, err := scanFeeAccount(rows)
		if err != nil {
			return fmt.Errorf("scan fee account: %w", err)
		}
		records[acct.StudentID].FeeAccount = *acct
	}
	return rows.Err()
}

func (r *DirectoryRepository) attachGuardians(ctx context.Context, ids []uuid.UUID, records map[uuid.UUID]*domain.StudentRecord) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, student_id, full_name, phone_e164 FROM guardians
		WHERE student_id = ANY($1) ORDER BY student_id, full_name`, ids)
	if err != nil {
		return mapError(fmt.Errorf("load guardians: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.Guardian
		if err := rows.Scan(&g.ID, &g.StudentID, &g.FullName, &g.PhoneE164); err != nil {
			return fmt.Errorf("scan guardian: %w", err)
		}
		rec := records[g.StudentID]
		rec.Guardians = append(rec.Guardians, g)
	}
	return rows.Err()
}

func (r *DirectoryRepository) attachOpenInvoices(ctx context.Context, ids []uuid.UUID, records map[uuid.UUID]*domain.StudentRecord) error {
	rows, err := r.db.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE student_id = ANY($1) AND status IN ('open', 'partially_paid') AND balance_minor > 0
		ORDER BY billing_reference`, ids)
	if err != nil {
		return mapError(fmt.Errorf("load open invoices: %w", err))
	}
	invoices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Invoice, error) {
		return scanInvoice(row)
	})
	if err != nil {
		return fmt.Errorf("scan open invoice: %w", err)
	}
	for _, inv := range invoices {
		inv.Installments, err = loadInstallments(ctx, r.db, inv.ID, false)
		if err != nil {
			return err
		}
		rec := records[inv.StudentID]
		rec.OpenInvoices = append(rec.OpenInvoices, *inv)
	}
	return nil
}

// phoneSuffix keeps the trailing digits that survive national and
// international formatting of the same number
func phoneSuffix(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < phoneSuffixDigits {
		return ""
	}
	return string(digits[len(digits)-phoneSuffixDigits:])
}
