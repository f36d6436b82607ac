package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
)

const phoneSuffixDigits = 9

type directoryRepo struct{ s *Store }

func (r directoryRepo) GetIntegration(ctx context.Context, id uuid.UUID) (*domain.Integration, error) {
	defer r.s.lock()()
	integ, ok := r.s.data.integrations[id]
	if !ok {
		return nil, domain.ErrIntegrationNotFound
	}
	return &integ, nil
}

func (r directoryRepo) GetFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error) {
	defer r.s.lock()()
	acct, ok := r.s.data.accounts[id]
	if !ok {
		return nil, domain.ErrFeeAccountNotFound
	}
	return &acct, nil
}

func (r directoryRepo) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	defer r.s.lock()()
	inv, ok := r.s.data.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	inv = copyInvoice(inv)
	return &inv, nil
}

func (r directoryRepo) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.StudentRecord, error) {
	defer r.s.lock()()
	if q.IsEmpty() {
		return nil, nil
	}

	refs := make(map[string]bool, len(q.References))
	for _, ref := range q.References {
		refs[ref] = true
	}
	tokens := make(map[string]bool, len(q.NameTokens))
	for _, t := range q.NameTokens {
		tokens[t] = true
	}

	type ranked struct {
		rec domain.StudentRecord
		hit domain.CandidateHit
	}
	var found []ranked
	for _, st := range r.s.data.students {
		if st.InstitutionID != q.InstitutionID {
			continue
		}
		rec := r.record(st)
		if hit := r.hit(rec, refs, tokens, q.Phone); hit != domain.CandidateHitNone {
			found = append(found, ranked{rec: rec, hit: hit})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].hit != found[j].hit {
			return found[i].hit < found[j].hit
		}
		return found[i].rec.Student.ID.String() < found[j].rec.Student.ID.String()
	})
	if len(found) > domain.MaxCandidateStudents {
		found = found[:domain.MaxCandidateStudents]
	}

	var out []domain.StudentRecord
	for _, f := range found {
		out = append(out, f.rec)
	}
	return out, nil
}

func (r directoryRepo) record(st domain.Student) domain.StudentRecord {
	rec := domain.StudentRecord{Student: st}
	for _, acct := range r.s.data.accounts {
		if acct.StudentID == st.ID {
			rec.FeeAccount = acct
			break
		}
	}
	for _, g := range r.s.data.guardians {
		if g.StudentID == st.ID {
			rec.Guardians = append(rec.Guardians, g)
		}
	}
	for _, inv := range r.s.data.invoices {
		if inv.StudentID == st.ID && inv.Status.IsOpen() && inv.BalanceMinor > 0 {
			rec.OpenInvoices = append(rec.OpenInvoices, copyInvoice(inv))
		}
	}
	sort.Slice(rec.OpenInvoices, func(i, j int) bool {
		return rec.OpenInvoices[i].BillingReference < rec.OpenInvoices[j].BillingReference
	})
	return rec
}

func (r directoryRepo) hit(rec domain.StudentRecord, refs, tokens map[string]bool, phone string) domain.CandidateHit {
	if refs[domain.ReferenceKey(rec.Student.AdmissionNumber)] || refs[domain.ReferenceKey(rec.FeeAccount.AccountNumber)] {
		return domain.CandidateHitReference
	}
	for _, inv := range rec.OpenInvoices {
		if refs[domain.ReferenceKey(inv.BillingReference)] {
			return domain.CandidateHitReference
		}
	}
	if phone != "" {
		for _, g := range rec.Guardians {
			if suffix(g.PhoneE164) != "" && suffix(g.PhoneE164) == suffix(phone) {
				return domain.CandidateHitPhone
			}
		}
	}
	if len(tokens) > 0 {
		names := []string{rec.Student.FullName}
		for _, g := range rec.Guardians {
			names = append(names, g.FullName)
		}
		for _, name := range names {
			for _, t := range normalize.NameTokens(name, 3) {
				if tokens[t] {
					return domain.CandidateHitName
				}
			}
		}
	}
	return domain.CandidateHitNone
}

func suffix(phone string) string {
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
