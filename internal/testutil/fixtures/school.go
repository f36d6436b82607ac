package fixtures

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/memstore"
)

// Well-known values used across pipeline tests
const (
	GuardianPhone     = "+254712345678"
	BillingRef        = "INV-2026-0042"
	InvoiceAmount     = int64(4500000)
	InvoiceAmountText = "45000.00"
)

// School is one institution with a generic and an M-Pesa C2B integration and
// a single billed student.
type School struct {
	InstitutionID uuid.UUID
	Generic       domain.Integration
	C2B           domain.Integration
	Student       domain.StudentRecord
}

// NewSchool builds the default institution.
func NewSchool() *School {
	institutionID := uuid.New()
	bankAccountID := uuid.New()
	integration := func(name string, provider domain.Provider) domain.Integration {
		return domain.Integration{
			ID:                uuid.New(),
			InstitutionID:     institutionID,
			BankAccountID:     bankAccountID,
			Name:              name,
			Provider:          provider,
			Currency:          "KES",
			IsActive:          true,
			BankAccountActive: true,
		}
	}
	return &School{
		InstitutionID: institutionID,
		Generic:       integration("Generic webhook", domain.ProviderGeneric),
		C2B:           integration("M-Pesa paybill 522522", domain.ProviderMpesaC2B),
		Student: NewStudent(institutionID, "Amani Otieno", "4471").
			WithGuardian("Grace Otieno", GuardianPhone).
			WithInvoice(BillingRef, InvoiceAmount).
			Build(),
	}
}

// Seed loads the school and any extra students into store.
func (s *School) Seed(store *memstore.Store, extra ...domain.StudentRecord) {
	store.AddIntegration(s.Generic)
	store.AddIntegration(s.C2B)
	store.AddStudent(s.Student)
	for _, rec := range extra {
		store.AddStudent(rec)
	}
}

// GenericPayment is a generic webhook body
type GenericPayment struct {
	ExternalReference string `json:"external_reference"`
	Amount            string `json:"amount,omitempty"`
	Currency          string `json:"currency,omitempty"`
	SenderPhone       string `json:"sender_phone,omitempty"`
	SenderName        string `json:"sender_name,omitempty"`
	BillReference     string `json:"bill_reference,omitempty"`
	EventType         string `json:"event_type,omitempty"`
}

// Body encodes the payment as the generic provider would send it.
func (p GenericPayment) Body() []byte {
	if p.Currency == "" {
		p.Currency = "KES"
	}
	if p.EventType == "" {
		p.EventType = "payment"
	}
	body, _ := json.Marshal(p)
	return body
}

// C2BBody returns an M-Pesa C2B confirmation body.
func C2BBody(transID, billRef, amount, msisdn, firstName, lastName string) []byte {
	body, _ := json.Marshal(map[string]string{
		"TransactionType":   "Pay Bill",
		"TransID":           transID,
		"TransTime":         "20260115093012",
		"TransAmount":       amount,
		"BusinessShortCode": "522522",
		"BillRefNumber":     billRef,
		"MSISDN":            msisdn,
		"FirstName":         firstName,
		"LastName":          lastName,
	})
	return body
}
