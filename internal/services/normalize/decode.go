package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

// Decode interprets body as the payload family configured for the integration.
// Bodies that do not decode become domain.UnparsedPayload; nothing is dropped.
func Decode(provider domain.Provider, body []byte) domain.RawPayload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return domain.UnparsedPayload{Source: provider, Reason: "empty body", Body: body}
	}

	switch provider {
	case domain.ProviderMpesaC2B:
		var p domain.MpesaC2BPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return unparsed(provider, body, err)
		}
		return p
	case domain.ProviderMpesaSTK:
		return decodeSTK(body, trimmed)
	case domain.ProviderBankTransfer:
		var p domain.BankTransferPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return unparsed(provider, body, err)
		}
		return p
	case domain.ProviderGeneric:
		var p domain.GenericPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return unparsed(provider, body, err)
		}
		return p
	default:
		return domain.UnparsedPayload{Source: provider, Reason: "unknown provider " + string(provider), Body: body}
	}
}

// ExternalReference returns the identity reference for a payload: the
// provider's transaction id, or a digest of the body when there is none
func ExternalReference(payload domain.RawPayload, body []byte) string {
	if ref := CleanReference(payload.Reference()); ref != "" {
		return ref
	}
	return domain.BodyReference(body)
}

func unparsed(provider domain.Provider, body []byte, err error) domain.RawPayload {
	return domain.UnparsedPayload{Source: provider, Reason: err.Error(), Body: body}
}

type stkEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
			ResultCode *int `json:"ResultCode"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func decodeSTK(body, trimmed []byte) domain.RawPayload {
	var env stkEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return unparsed(domain.ProviderMpesaSTK, body, err)
	}
	cb := env.Body.StkCallback
	if cb.ResultCode == nil || cb.CheckoutRequestID == "" {
		return domain.UnparsedPayload{Source: domain.ProviderMpesaSTK, Reason: "missing stkCallback", Body: body}
	}

	p := domain.MpesaSTKPayload{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		value := rawScalar(item.Value)
		switch item.Name {
		case "Amount":
			p.Amount = value
		case "MpesaReceiptNumber":
			p.MpesaReceiptNumber = value
		case "TransactionDate":
			p.TransactionDate = value
		case "PhoneNumber":
			p.PhoneNumber = value
		case "AccountReference":
			p.AccountReference = value
		}
	}
	return p
}

// rawScalar renders a JSON string or number without float rounding
func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}
