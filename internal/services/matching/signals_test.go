package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

func TestReferenceSignal(t *testing.T) {
	refs := []labelledRef{{label: "billing_reference", key: "INV20260042"}, {label: "admission_number", key: "4471"}}

	tests := []struct {
		name     string
		event    []string
		expected float64
	}{
		{"exact_billing_reference", []string{"INV20260042"}, 1},
		{"exact_short_admission_number", []string{"4471"}, 1},
		{"one_edit_on_long_reference", []string{"INV20260043"}, 0.5},
		{"one_edit_on_short_reference_does_not_count", []string{"4472"}, 0},
		{"two_edits", []string{"INV20260099"}, 0},
		{"no_reference", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := referenceSignal(tt.event, refs)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPhoneSignal(t *testing.T) {
	guardians := []domain.Guardian{{FullName: "Grace Otieno", PhoneE164: "+254712345678"}}

	exact, _ := phoneSignal("+254712345678", guardians)
	assert.Equal(t, 1.0, exact)

	suffix, _ := phoneSignal("+255712345678", guardians)
	assert.Equal(t, 0.8, suffix)

	none, _ := phoneSignal("+254700000000", guardians)
	assert.Equal(t, 0.0, none)

	empty, _ := phoneSignal("", guardians)
	assert.Equal(t, 0.0, empty)
}

func TestNameSignal(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		names    []string
		expected float64
	}{
		{"same_tokens_any_case", "JANE WANJIKU", []string{"Jane Wanjiku"}, 1},
		{"reordered_tokens", "Wanjiku Jane", []string{"Jane Wanjiku"}, 1},
		{"subset_of_longer_name", "JANE WANJIKU", []string{"Jane Wanjiku Kamau"}, 2.0 / 3.0},
		{"typo_within_tolerance", "Jane Wanjiky", []string{"Jane Wanjiku"}, 1},
		{"below_half_does_not_fire", "Jane Smith", []string{"Peter Paul Mwangi"}, 0},
		{"best_of_several_names", "Paul Kirui", []string{"Chebet Kirui", "Paul Kirui"}, 1},
		{"empty_sender", "", []string{"Jane Wanjiku"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := nameSignal(tt.sender, tt.names)
			assert.InDelta(t, tt.expected, got, 0.0001)
		})
	}
}

func TestTokensEqual(t *testing.T) {
	assert.True(t, tokensEqual("wanjiku", "wanjiku"))
	assert.True(t, tokensEqual("wanjiku", "wanjik"))
	assert.False(t, tokensEqual("jane", "june"))
	assert.False(t, tokensEqual("otieno", "odhiambo"))
}

func TestAmountSignals(t *testing.T) {
	acct := &domain.FeeAccount{BalanceMinor: 30000}
	inv := &domain.Invoice{
		BalanceMinor: 20000,
		Installments: []domain.Installment{{Sequence: 1, AmountMinor: 5000}, {Sequence: 2, AmountMinor: 15000}},
	}

	tests := []struct {
		name    string
		amount  int64
		invoice *domain.Invoice
		exact   float64
		partial float64
	}{
		{"invoice_balance", 20000, inv, 1, 0},
		{"installment", 15000, inv, 0, 1},
		{"below_balance", 1000, inv, 0, 0.5},
		{"above_balance", 25000, inv, 0, 0},
		{"account_balance_without_invoice", 30000, nil, 1, 0},
		{"below_account_balance", 100, nil, 0, 0.5},
		{"zero", 0, inv, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exact, partial, _ := amountSignals(tt.amount, tt.invoice, acct)
			assert.Equal(t, tt.exact, exact)
			assert.Equal(t, tt.partial, partial)
		})
	}
}
