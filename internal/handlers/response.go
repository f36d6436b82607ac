// Package handlers holds the HTTP surface of the reconciliation service.
// Sub-packages register their routes on a gorilla/mux router; this file
// carries the JSON response helpers they share.
package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/pkg/encoding"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Success bool                   `json:"success"`
	Code    domain.ErrorCode       `json:"code,omitempty"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON encodes v with statusCode
func WriteJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, v interface{}) {
	body, err := encoding.EncodeJSON(v)
	if err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, `{"success":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

// RespondError writes a plain error message
func RespondError(w http.ResponseWriter, logger *zap.Logger, statusCode int, message string) {
	WriteJSON(w, logger, statusCode, ErrorResponse{Error: message})
}

// RespondDomainError maps err to a status code. Internal errors are logged
// and reported without detail.
func RespondDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		logger.Error("Request failed", zap.Error(err))
		RespondError(w, logger, http.StatusInternalServerError, "internal error")
		return
	}

	status := StatusFor(de.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("code", string(de.Code)), zap.Error(err))
		WriteJSON(w, logger, status, ErrorResponse{Code: de.Code, Error: "internal error"})
		return
	}
	WriteJSON(w, logger, status, ErrorResponse{Code: de.Code, Error: de.Message, Details: de.Details})
}

// StatusFor returns the HTTP status for an error code
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeAuthMissing, domain.ErrorCodeAuthInvalid:
		return http.StatusUnauthorized
	case domain.ErrorCodeValidationFailed, domain.ErrorCodeValidationMissingField:
		return http.StatusBadRequest
	case domain.ErrorCodeValidationAmountInvalid:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeEventNotFound, domain.ErrorCodeIntegrationNotFound, domain.ErrorCodeQueueItemNotFound,
		domain.ErrorCodeFeeAccountNotFound, domain.ErrorCodeInvoiceNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeEventInvalidState, domain.ErrorCodeQueueInvalidState, domain.ErrorCodeInvalidCandidate,
		domain.ErrorCodeDuplicateEvent, domain.ErrorCodeApplicationConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
