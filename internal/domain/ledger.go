package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the settlement state of an invoice or installment
type InvoiceStatus string

const (
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

// IsOpen returns true while the invoice can still receive payments
func (s InvoiceStatus) IsOpen() bool {
	return s == InvoiceStatusOpen || s == InvoiceStatusPartiallyPaid
}

// FeeAccount is a student's running fee balance.
// Balance = TotalBilled - TotalPaid; negative means credit.
type FeeAccount struct {
	UpdatedAt        time.Time `json:"updated_at"`
	AccountNumber    string    `json:"account_number"`
	Currency         string    `json:"currency"`
	TotalBilledMinor int64     `json:"total_billed_minor"`
	TotalPaidMinor   int64     `json:"total_paid_minor"`
	BalanceMinor     int64     `json:"balance_minor"`
	Version          int64     `json:"version"`
	ID               uuid.UUID `json:"id"`
	InstitutionID    uuid.UUID `json:"institution_id"`
	StudentID        uuid.UUID `json:"student_id"`
}

// Credit records a payment against the account
func (a *FeeAccount) Credit(amount int64, now time.Time) {
	a.TotalPaidMinor += amount
	a.BalanceMinor -= amount
	a.Version++
	a.UpdatedAt = now
}

// Installment is a scheduled slice of an invoice
type Installment struct {
	DueDate     *time.Time    `json:"due_date,omitempty"`
	Status      InvoiceStatus `json:"status"`
	AmountMinor int64         `json:"amount_minor"`
	PaidMinor   int64         `json:"paid_minor"`
	Sequence    int           `json:"sequence"`
	ID          uuid.UUID     `json:"id"`
	InvoiceID   uuid.UUID     `json:"invoice_id"`
}

// Remaining returns the unpaid part of the installment
func (i *Installment) Remaining() int64 {
	if r := i.AmountMinor - i.PaidMinor; r > 0 {
		return r
	}
	return 0
}

// Invoice is a bill issued to a student's fee account
type Invoice struct {
	DueDate          *time.Time    `json:"due_date,omitempty"`
	BillingReference string        `json:"billing_reference"`
	Status           InvoiceStatus `json:"status"`
	Installments     []Installment `json:"installments,omitempty"`
	AmountMinor      int64         `json:"amount_minor"`
	PaidMinor        int64         `json:"paid_minor"`
	BalanceMinor     int64         `json:"balance_minor"`
	ID               uuid.UUID     `json:"id"`
	InstitutionID    uuid.UUID     `json:"institution_id"`
	StudentID        uuid.UUID     `json:"student_id"`
	FeeAccountID     uuid.UUID     `json:"fee_account_id"`
}

// ApplyPayment settles amount against the invoice and its installments in
// sequence order. It returns the portion that exceeded the invoice balance,
// which stays on the fee account as credit.
func (inv *Invoice) ApplyPayment(amount int64) (excess int64) {
	applied := amount
	if applied > inv.BalanceMinor {
		applied = inv.BalanceMinor
		excess = amount - inv.BalanceMinor
	}
	inv.PaidMinor += applied
	inv.BalanceMinor -= applied

	remaining := applied
	for i := range inv.Installments {
		inst := &inv.Installments[i]
		if remaining == 0 {
			break
		}
		due := inst.Remaining()
		if due == 0 {
			continue
		}
		take := due
		if remaining < take {
			take = remaining
		}
		inst.PaidMinor += take
		remaining -= take
		if inst.Remaining() == 0 {
			inst.Status = InvoiceStatusPaid
		} else {
			inst.Status = InvoiceStatusPartiallyPaid
		}
	}

	switch {
	case inv.BalanceMinor == 0:
		inv.Status = InvoiceStatusPaid
	case inv.PaidMinor > 0:
		inv.Status = InvoiceStatusPartiallyPaid
	}
	return excess
}

// FeePayment is the ledger record of one applied event.
// ExternalReference is unique per integration.
type FeePayment struct {
	CreatedAt         time.Time  `json:"created_at"`
	InvoiceID         *uuid.UUID `json:"invoice_id,omitempty"`
	ExternalReference string     `json:"external_reference"`
	Currency          string     `json:"currency"`
	Provider          Provider   `json:"provider"`
	AppliedBy         string     `json:"applied_by"`
	AmountMinor       int64      `json:"amount_minor"`
	ID                uuid.UUID  `json:"id"`
	IntegrationID     uuid.UUID  `json:"integration_id"`
	EventID           uuid.UUID  `json:"event_id"`
	QueueItemID       uuid.UUID  `json:"queue_item_id"`
	InstitutionID     uuid.UUID  `json:"institution_id"`
	StudentID         uuid.UUID  `json:"student_id"`
	FeeAccountID      uuid.UUID  `json:"fee_account_id"`
}
