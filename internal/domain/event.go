package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the lifecycle state of a PaymentEvent
type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusValidated EventStatus = "validated"
	EventStatusQueued    EventStatus = "queued"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"    // Validation rejected the payload (terminal unless resubmitted)
	EventStatusDuplicate EventStatus = "duplicate" // Another event already holds the reference (inert)
	EventStatusIgnored   EventStatus = "ignored"   // Operator marked the event non-financial
)

// EventKind classifies what the provider is telling us
type EventKind string

const (
	EventKindPayment           EventKind = "payment"
	EventKindReversal          EventKind = "reversal"
	EventKindTimeout           EventKind = "timeout"
	EventKindValidationFailure EventKind = "validation_failure"
)

// Provider identifies the payload family an integration delivers
type Provider string

const (
	ProviderMpesaC2B     Provider = "mpesa_c2b"
	ProviderMpesaSTK     Provider = "mpesa_stk"
	ProviderBankTransfer Provider = "bank_transfer"
	ProviderGeneric      Provider = "generic"
)

// IsValid reports whether p is a known provider
func (p Provider) IsValid() bool {
	switch p {
	case ProviderMpesaC2B, ProviderMpesaSTK, ProviderBankTransfer, ProviderGeneric:
		return true
	}
	return false
}

// ValidationIssue is one reason a payload was rejected
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PaymentEvent is one raw inbound notification.
// Identity is (IntegrationID, ExternalReference); ID is synthetic.
type PaymentEvent struct {
	ReceivedAt            time.Time          `json:"received_at"`
	ProcessingStartedAt   *time.Time         `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time         `json:"processing_completed_at,omitempty"`
	NormalizedPayload     *NormalizedPayment `json:"normalized_payload,omitempty"`
	DuplicateOf           *uuid.UUID         `json:"duplicate_of,omitempty"`
	AmountMinor           *int64             `json:"amount_minor,omitempty"`
	ValidationErrors      []ValidationIssue  `json:"validation_errors,omitempty"`
	RawPayload            []byte             `json:"-"`
	ExternalReference     string             `json:"external_reference"`
	Provider              Provider           `json:"provider"`
	Kind                  EventKind          `json:"kind,omitempty"`
	Currency              string             `json:"currency,omitempty"`
	SenderPhone           string             `json:"sender_phone,omitempty"`
	SenderName            string             `json:"sender_name,omitempty"`
	SenderAccount         string             `json:"sender_account,omitempty"`
	BankReference         string             `json:"bank_reference,omitempty"`
	SourceIP              string             `json:"source_ip,omitempty"`
	Status                EventStatus        `json:"status"`
	ID                    uuid.UUID          `json:"id"`
	IntegrationID         uuid.UUID          `json:"integration_id"`
	InstitutionID         uuid.UUID          `json:"institution_id"`
}

var eventTransitions = map[EventStatus][]EventStatus{
	EventStatusReceived:  {EventStatusValidated, EventStatusFailed, EventStatusDuplicate},
	EventStatusValidated: {EventStatusQueued, EventStatusDuplicate},
	EventStatusQueued:    {EventStatusProcessed, EventStatusIgnored},
	EventStatusFailed:    {EventStatusReceived},
}

// CanTransitionTo reports whether the event may move to next
func (e *PaymentEvent) CanTransitionTo(next EventStatus) bool {
	for _, s := range eventTransitions[e.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the event to next or returns ErrEventInvalidState
func (e *PaymentEvent) TransitionTo(next EventStatus, now time.Time) error {
	if !e.CanTransitionTo(next) {
		return NewDomainError(ErrorCodeEventInvalidState, "illegal event transition").
			WithDetail("from", string(e.Status)).
			WithDetail("to", string(next))
	}
	e.Status = next
	switch next {
	case EventStatusProcessed, EventStatusFailed, EventStatusDuplicate, EventStatusIgnored:
		e.ProcessingCompletedAt = &now
	case EventStatusReceived:
		e.ProcessingStartedAt = nil
		e.ProcessingCompletedAt = nil
	}
	return nil
}

// IsTerminal returns true once nothing automatic will touch the event again
func (e *PaymentEvent) IsTerminal() bool {
	switch e.Status {
	case EventStatusProcessed, EventStatusFailed, EventStatusDuplicate, EventStatusIgnored:
		return true
	}
	return false
}

// Amount returns the amount in minor units, or zero when unknown
func (e *PaymentEvent) Amount() int64 {
	if e.AmountMinor == nil {
		return 0
	}
	return *e.AmountMinor
}

// ApplyNormalized copies the canonical fields onto the event columns
func (e *PaymentEvent) ApplyNormalized(n *NormalizedPayment) {
	e.NormalizedPayload = n
	e.ExternalReference = n.ExternalReference
	e.Kind = n.Kind
	amount := n.AmountMinor
	e.AmountMinor = &amount
	e.Currency = n.Currency
	e.SenderPhone = n.SenderPhone
	e.SenderName = n.SenderName
	e.SenderAccount = n.SenderAccount
	e.BankReference = n.BankReference
	e.ValidationErrors = nil
}
