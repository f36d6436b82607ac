package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// RawPayload is the provider-specific body of a notification.
// The variant is chosen from the integration's configured provider; payloads
// that cannot be decoded into their provider's shape become UnparsedPayload.
type RawPayload interface {
	// Provider returns the payload family
	Provider() Provider
	// Reference returns the provider's own transaction identifier, if any
	Reference() string
	isRawPayload()
}

// MpesaC2BPayload is a Daraja C2B confirmation callback
type MpesaC2BPayload struct {
	TransactionType   string      `json:"TransactionType"`
	TransID           string      `json:"TransID"`
	TransTime         string      `json:"TransTime"`
	TransAmount       json.Number `json:"TransAmount"`
	BusinessShortCode string      `json:"BusinessShortCode"`
	BillRefNumber     string      `json:"BillRefNumber"`
	InvoiceNumber     string      `json:"InvoiceNumber"`
	OrgAccountBalance string      `json:"OrgAccountBalance"`
	ThirdPartyTransID string      `json:"ThirdPartyTransID"`
	MSISDN            string      `json:"MSISDN"`
	FirstName         string      `json:"FirstName"`
	MiddleName        string      `json:"MiddleName"`
	LastName          string      `json:"LastName"`
}

func (MpesaC2BPayload) Provider() Provider  { return ProviderMpesaC2B }
func (p MpesaC2BPayload) Reference() string { return p.TransID }
func (MpesaC2BPayload) isRawPayload()       {}

// MpesaSTKPayload is the flattened result of an STK push callback
type MpesaSTKPayload struct {
	MerchantRequestID  string
	CheckoutRequestID  string
	ResultDesc         string
	Amount             string
	MpesaReceiptNumber string
	TransactionDate    string
	PhoneNumber        string
	AccountReference   string
	ResultCode         int
}

func (MpesaSTKPayload) Provider() Provider { return ProviderMpesaSTK }

// Reference prefers the receipt number; failed pushes only carry the checkout id
func (p MpesaSTKPayload) Reference() string {
	if p.MpesaReceiptNumber != "" {
		return p.MpesaReceiptNumber
	}
	return p.CheckoutRequestID
}
func (MpesaSTKPayload) isRawPayload() {}

// Succeeded reports whether the payer completed the push
func (p MpesaSTKPayload) Succeeded() bool {
	return p.ResultCode == 0
}

// BankTransferPayload is a credit/debit advice from a bank integration
type BankTransferPayload struct {
	TransactionID string      `json:"transaction_id"`
	PayerRef      string      `json:"reference"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	AccountNumber string      `json:"account_number"`
	SenderName    string      `json:"sender_name"`
	SenderAccount string      `json:"sender_account"`
	SenderPhone   string      `json:"sender_phone"`
	Narrative     string      `json:"narrative"`
	ValueDate     string      `json:"value_date"`
	EventType     string      `json:"event_type"`
}

func (BankTransferPayload) Provider() Provider { return ProviderBankTransfer }

// Reference is the bank's transaction id; the payer reference lives in PayerRef
func (p BankTransferPayload) Reference() string {
	if p.TransactionID != "" {
		return p.TransactionID
	}
	return p.PayerRef
}
func (BankTransferPayload) isRawPayload() {}

// GenericPayload is the already-normalized webhook shape
type GenericPayload struct {
	ExternalReference string      `json:"external_reference"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	SenderPhone       string      `json:"sender_phone,omitempty"`
	SenderName        string      `json:"sender_name,omitempty"`
	SenderAccount     string      `json:"sender_account,omitempty"`
	BankReference     string      `json:"bank_reference,omitempty"`
	BillReference     string      `json:"bill_reference,omitempty"`
	EventType         string      `json:"event_type"`
}

func (GenericPayload) Provider() Provider  { return ProviderGeneric }
func (p GenericPayload) Reference() string { return p.ExternalReference }
func (GenericPayload) isRawPayload()       {}

// UnparsedPayload keeps bytes that did not decode into the provider's shape
type UnparsedPayload struct {
	Source Provider
	Reason string
	Body   []byte
}

func (p UnparsedPayload) Provider() Provider { return p.Source }
func (UnparsedPayload) Reference() string    { return "" }
func (UnparsedPayload) isRawPayload()        {}

// BodyReference derives a stable reference from the raw body so byte-identical
// retries of an unreadable payload still collapse onto one event
func BodyReference(body []byte) string {
	sum := sha256.Sum256(body)
	return "raw:" + hex.EncodeToString(sum[:])
}

// NormalizedPayment is the canonical payment shape produced by the normalizer
type NormalizedPayment struct {
	OccurredAt        *time.Time `json:"occurred_at,omitempty"`
	ExternalReference string     `json:"external_reference" validate:"required,max=128"`
	Kind              EventKind  `json:"kind" validate:"required,oneof=payment reversal timeout validation_failure"`
	Currency          string     `json:"currency" validate:"required,iso4217"`
	SenderPhone       string     `json:"sender_phone,omitempty" validate:"omitempty,e164"`
	SenderName        string     `json:"sender_name,omitempty" validate:"max=256"`
	SenderAccount     string     `json:"sender_account,omitempty" validate:"max=128"`
	BankReference     string     `json:"bank_reference,omitempty" validate:"max=128"`
	BillReference     string     `json:"bill_reference,omitempty" validate:"max=128"`
	AmountMinor       int64      `json:"amount_minor" validate:"gt=0"`
}

// References returns the distinct canonical keys a payer may have used to
// identify the student, bill reference first
func (n *NormalizedPayment) References() []string {
	seen := make(map[string]struct{}, 4)
	var refs []string
	for _, r := range []string{n.BillReference, n.SenderAccount, n.BankReference, n.ExternalReference} {
		key := ReferenceKey(r)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, key)
	}
	return refs
}

// ReferenceKey folds a reference for comparison: upper-case, alphanumerics only
func ReferenceKey(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		}
	}
	return string(out)
}
