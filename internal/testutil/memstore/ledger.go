package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) InsertPayment(ctx context.Context, p *domain.FeePayment) (bool, error) {
	defer r.s.lock()()
	for _, existing := range r.s.data.payments {
		if existing.IntegrationID == p.IntegrationID && existing.ExternalReference == p.ExternalReference {
			return false, nil
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.s.data.payments = append(r.s.data.payments, *p)
	return true, nil
}

func (r ledgerRepo) GetPaymentByReference(ctx context.Context, integrationID uuid.UUID, externalReference string) (*domain.FeePayment, error) {
	defer r.s.lock()()
	for _, p := range r.s.data.payments {
		if p.IntegrationID == integrationID && p.ExternalReference == externalReference {
			return &p, nil
		}
	}
	return nil, nil
}

func (r ledgerRepo) LockFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error) {
	defer r.s.lock()()
	if *r.s.ledgerConflicts > 0 {
		*r.s.ledgerConflicts--
		return nil, domain.ErrApplicationConflict
	}
	acct, ok := r.s.data.accounts[id]
	if !ok {
		return nil, domain.ErrFeeAccountNotFound
	}
	return &acct, nil
}

func (r ledgerRepo) UpdateFeeAccount(ctx context.Context, acct *domain.FeeAccount) error {
	defer r.s.lock()()
	if _, ok := r.s.data.accounts[acct.ID]; !ok {
		return domain.ErrFeeAccountNotFound
	}
	r.s.data.accounts[acct.ID] = *acct
	return nil
}

func (r ledgerRepo) LockInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	defer r.s.lock()()
	inv, ok := r.s.data.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	inv = copyInvoice(inv)
	return &inv, nil
}

func (r ledgerRepo) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	defer r.s.lock()()
	if _, ok := r.s.data.invoices[inv.ID]; !ok {
		return domain.ErrInvoiceNotFound
	}
	r.s.data.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}
