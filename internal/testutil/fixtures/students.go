package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

// StudentBuilder provides fluent API for building candidate student records.
type StudentBuilder struct {
	rec domain.StudentRecord
}

// NewStudent creates a student builder with an empty KES fee account.
func NewStudent(institutionID uuid.UUID, fullName, admissionNumber string) *StudentBuilder {
	studentID := uuid.New()
	return &StudentBuilder{
		rec: domain.StudentRecord{
			Student: domain.Student{
				ID:              studentID,
				InstitutionID:   institutionID,
				AdmissionNumber: admissionNumber,
				FullName:        fullName,
			},
			FeeAccount: domain.FeeAccount{
				ID:            uuid.New(),
				InstitutionID: institutionID,
				StudentID:     studentID,
				AccountNumber: "FA-" + admissionNumber,
				Currency:      "KES",
				UpdatedAt:     time.Now(),
			},
		},
	}
}

// WithGuardian adds a guardian contact.
func (b *StudentBuilder) WithGuardian(fullName, phoneE164 string) *StudentBuilder {
	b.rec.Guardians = append(b.rec.Guardians, domain.Guardian{
		ID:        uuid.New(),
		StudentID: b.rec.Student.ID,
		FullName:  fullName,
		PhoneE164: phoneE164,
	})
	return b
}

// WithCurrency sets the fee account currency.
func (b *StudentBuilder) WithCurrency(currency string) *StudentBuilder {
	b.rec.FeeAccount.Currency = currency
	return b
}

// WithInvoice bills an open invoice and raises the account balance by the same amount.
func (b *StudentBuilder) WithInvoice(billingReference string, amountMinor int64, installments ...int64) *StudentBuilder {
	due := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC).AddDate(0, len(b.rec.OpenInvoices), 0)
	inv := domain.Invoice{
		ID:               uuid.New(),
		InstitutionID:    b.rec.Student.InstitutionID,
		StudentID:        b.rec.Student.ID,
		FeeAccountID:     b.rec.FeeAccount.ID,
		BillingReference: billingReference,
		AmountMinor:      amountMinor,
		BalanceMinor:     amountMinor,
		Status:           domain.InvoiceStatusOpen,
		DueDate:          &due,
	}
	for i, amt := range installments {
		inv.Installments = append(inv.Installments, domain.Installment{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Sequence:    i + 1,
			AmountMinor: amt,
			Status:      domain.InvoiceStatusOpen,
		})
	}
	b.rec.OpenInvoices = append(b.rec.OpenInvoices, inv)
	b.rec.FeeAccount.TotalBilledMinor += amountMinor
	b.rec.FeeAccount.BalanceMinor += amountMinor
	return b
}

// WithoutFeeAccount drops the fee account, as for a student enrolled but
// never billed. Call it before WithInvoice.
func (b *StudentBuilder) WithoutFeeAccount() *StudentBuilder {
	b.rec.FeeAccount = domain.FeeAccount{}
	return b
}

// Build returns the record.
func (b *StudentBuilder) Build() domain.StudentRecord {
	return b.rec
}
