package normalize

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

var eatZone = time.FixedZone("EAT", 3*60*60)

// STK result codes that mean the payer never answered the prompt
const stkResultTimeout = 1037

// Normalizer turns provider payloads into domain.NormalizedPayment. It is pure
// and safe for concurrent use.
type Normalizer struct {
	validate      *validator.Validate
	defaultRegion string
}

// NewNormalizer creates a normalizer; defaultRegion is used for phone numbers
// when the integration currency does not imply one
func NewNormalizer(defaultRegion string) *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if defaultRegion == "" {
		defaultRegion = "KE"
	}
	return &Normalizer{validate: v, defaultRegion: defaultRegion}
}

// fields is the provider-independent intermediate form
type fields struct {
	occurredAt    *time.Time
	amount        string
	currency      string
	phone         string
	name          string
	account       string
	bankReference string
	billReference string
	kind          domain.EventKind
	issues        []domain.ValidationIssue
}

func (f *fields) fail(field, format string, args ...interface{}) {
	f.issues = append(f.issues, domain.ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Normalize canonicalises payload for the given integration. A non-empty
// issue list means the event must be marked failed; the payment is then nil.
func (n *Normalizer) Normalize(payload domain.RawPayload, integration *domain.Integration, body []byte) (*domain.NormalizedPayment, []domain.ValidationIssue) {
	var f fields
	switch p := payload.(type) {
	case domain.UnparsedPayload:
		return nil, []domain.ValidationIssue{{Field: "payload", Message: "unparseable payload: " + p.Reason}}
	case domain.MpesaC2BPayload:
		f = fromC2B(p)
	case domain.MpesaSTKPayload:
		f = fromSTK(p)
	case domain.BankTransferPayload:
		f = fromBank(p)
	case domain.GenericPayload:
		f = fromGeneric(p)
	default:
		return nil, []domain.ValidationIssue{{Field: "payload", Message: fmt.Sprintf("unsupported payload %T", payload)}}
	}

	if (f.kind == domain.EventKindTimeout || f.kind == domain.EventKindValidationFailure) && len(f.issues) == 0 {
		f.fail("event_type", "non-financial %s event", f.kind)
	}
	if payload.Provider() != integration.Provider {
		f.fail("provider", "payload provider %s does not match integration provider %s", payload.Provider(), integration.Provider)
	}

	out := &domain.NormalizedPayment{
		ExternalReference: ExternalReference(payload, body),
		Kind:              f.kind,
		SenderName:        CleanName(f.name),
		SenderAccount:     CleanReference(f.account),
		BankReference:     CleanReference(f.bankReference),
		BillReference:     CleanReference(f.billReference),
		OccurredAt:        f.occurredAt,
	}

	currency := f.currency
	if currency == "" {
		currency = integration.Currency
	}
	if c, err := NormalizeCurrency(currency); err != nil {
		f.fail("currency", "%s", err.Error())
	} else {
		out.Currency = c
	}

	if out.Currency != "" {
		if minor, err := ParseMinorUnits(f.amount, out.Currency); err != nil {
			f.fail("amount", "%s", err.Error())
		} else {
			out.AmountMinor = minor
		}
	} else if strings.TrimSpace(f.amount) == "" {
		f.fail("amount", "amount is required")
	}

	if CleanReference(payload.Reference()) == "" && out.SenderAccount == "" &&
		out.BankReference == "" && out.BillReference == "" {
		f.fail("reference", "at least one reference is required")
	}

	// Optional; a masked or garbled phone is dropped rather than failing the event
	if phone, err := NormalizePhone(f.phone, RegionForCurrency(integration.Currency, n.defaultRegion)); err == nil {
		out.SenderPhone = phone
	}

	if len(f.issues) > 0 {
		return nil, f.issues
	}
	if err := n.validate.Struct(out); err != nil {
		return nil, validationIssues(err)
	}
	return out, nil
}

func validationIssues(err error) []domain.ValidationIssue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []domain.ValidationIssue{{Field: "payload", Message: err.Error()}}
	}
	issues := make([]domain.ValidationIssue, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %s validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
		}
		issues = append(issues, domain.ValidationIssue{Field: fe.Field(), Message: msg})
	}
	return issues
}

func fromC2B(p domain.MpesaC2BPayload) fields {
	f := fields{
		kind:          domain.EventKindPayment,
		amount:        p.TransAmount.String(),
		phone:         p.MSISDN,
		name:          CleanName(p.FirstName, p.MiddleName, p.LastName),
		billReference: p.BillRefNumber,
		account:       p.InvoiceNumber,
	}
	if t, err := time.ParseInLocation("20060102150405", p.TransTime, eatZone); err == nil {
		utc := t.UTC()
		f.occurredAt = &utc
	}
	return f
}

func fromSTK(p domain.MpesaSTKPayload) fields {
	f := fields{
		kind:          domain.EventKindPayment,
		amount:        p.Amount,
		phone:         p.PhoneNumber,
		billReference: p.AccountReference,
	}
	if !p.Succeeded() {
		f.kind = domain.EventKindValidationFailure
		if p.ResultCode == stkResultTimeout {
			f.kind = domain.EventKindTimeout
		}
		f.fail("result_code", "non-financial callback %d: %s", p.ResultCode, p.ResultDesc)
	}
	if t, err := time.ParseInLocation("20060102150405", p.TransactionDate, eatZone); err == nil {
		utc := t.UTC()
		f.occurredAt = &utc
	}
	return f
}

func fromBank(p domain.BankTransferPayload) fields {
	f := fields{
		kind:          eventKind(p.EventType),
		amount:        p.Amount.String(),
		currency:      p.Currency,
		phone:         p.SenderPhone,
		name:          p.SenderName,
		account:       p.SenderAccount,
		bankReference: p.TransactionID,
		billReference: p.PayerRef,
	}
	if f.billReference == "" {
		f.billReference = p.Narrative
	}
	if f.kind == "" {
		f.fail("event_type", "unknown event type %q", p.EventType)
	}
	if t, err := time.Parse("2006-01-02", p.ValueDate); err == nil {
		f.occurredAt = &t
	}
	return f
}

func fromGeneric(p domain.GenericPayload) fields {
	f := fields{
		kind:          eventKind(p.EventType),
		amount:        p.Amount.String(),
		currency:      p.Currency,
		phone:         p.SenderPhone,
		name:          p.SenderName,
		account:       p.SenderAccount,
		bankReference: p.BankReference,
		billReference: p.BillReference,
	}
	if f.kind == "" {
		f.fail("event_type", "unknown event type %q", p.EventType)
	}
	return f
}

// eventKind maps provider event types; empty input means a plain payment
func eventKind(eventType string) domain.EventKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "", "payment", "credit", "c2b", "deposit":
		return domain.EventKindPayment
	case "reversal", "debit_reversal", "chargeback", "refund":
		return domain.EventKindReversal
	case "timeout":
		return domain.EventKindTimeout
	case "validation_failure":
		return domain.EventKindValidationFailure
	}
	return ""
}
