package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoice_ApplyPayment(t *testing.T) {
	newInvoice := func() *Invoice {
		return &Invoice{
			AmountMinor:  30000,
			BalanceMinor: 30000,
			Status:       InvoiceStatusOpen,
			Installments: []Installment{
				{Sequence: 1, AmountMinor: 10000, Status: InvoiceStatusOpen},
				{Sequence: 2, AmountMinor: 10000, Status: InvoiceStatusOpen},
				{Sequence: 3, AmountMinor: 10000, Status: InvoiceStatusOpen},
			},
		}
	}

	t.Run("exact_payment_settles_invoice", func(t *testing.T) {
		inv := newInvoice()
		excess := inv.ApplyPayment(30000)

		assert.Equal(t, int64(0), excess)
		assert.Equal(t, int64(0), inv.BalanceMinor)
		assert.Equal(t, InvoiceStatusPaid, inv.Status)
		for _, inst := range inv.Installments {
			assert.Equal(t, InvoiceStatusPaid, inst.Status)
		}
	})

	t.Run("partial_payment_settles_installments_in_order", func(t *testing.T) {
		inv := newInvoice()
		inv.ApplyPayment(15000)

		assert.Equal(t, int64(15000), inv.BalanceMinor)
		assert.Equal(t, InvoiceStatusPartiallyPaid, inv.Status)
		assert.Equal(t, InvoiceStatusPaid, inv.Installments[0].Status)
		assert.Equal(t, InvoiceStatusPartiallyPaid, inv.Installments[1].Status)
		assert.Equal(t, int64(5000), inv.Installments[1].PaidMinor)
		assert.Equal(t, InvoiceStatusOpen, inv.Installments[2].Status)
	})

	t.Run("overpayment_returns_excess", func(t *testing.T) {
		inv := newInvoice()
		excess := inv.ApplyPayment(35000)

		assert.Equal(t, int64(5000), excess)
		assert.Equal(t, int64(0), inv.BalanceMinor)
		assert.Equal(t, int64(30000), inv.PaidMinor)
	})
}

func TestFeeAccount_Credit(t *testing.T) {
	now := time.Now()
	acct := &FeeAccount{TotalBilledMinor: 50000, BalanceMinor: 50000, Version: 3}
	acct.Credit(20000, now)

	assert.Equal(t, int64(20000), acct.TotalPaidMinor)
	assert.Equal(t, int64(30000), acct.BalanceMinor)
	assert.Equal(t, int64(4), acct.Version)
	assert.Equal(t, now, acct.UpdatedAt)
}

func TestInvoiceStatus_IsOpen(t *testing.T) {
	assert.True(t, InvoiceStatusOpen.IsOpen())
	assert.True(t, InvoiceStatusPartiallyPaid.IsOpen())
	assert.False(t, InvoiceStatusPaid.IsOpen())
	assert.False(t, InvoiceStatusCancelled.IsOpen())
}
