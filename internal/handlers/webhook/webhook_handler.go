package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/handlers"
	"github.com/kevin07696/fee-reconciliation/pkg/middleware"
)

// Receiver stores an inbound notification
type Receiver interface {
	Receive(ctx context.Context, integrationID uuid.UUID, body []byte, sourceIP string) (*domain.PaymentEvent, error)
}

// Ack is the acknowledgement body providers expect
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted acknowledges a stored event, duplicates included, so the provider stops retrying
var Accepted = Ack{ResultCode: 0, ResultDesc: "Accepted"}

// Handler receives provider IPN webhooks
type Handler struct {
	receiver     Receiver
	limiter      *middleware.RateLimiter
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewHandler creates a webhook handler. limiter may be nil.
func NewHandler(receiver Receiver, limiter *middleware.RateLimiter, maxBodyBytes int64, logger *zap.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		receiver:     receiver,
		limiter:      limiter,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Register mounts POST /webhooks/{integration_id}
func (h *Handler) Register(r *mux.Router) {
	var handler http.Handler = http.HandlerFunc(h.Receive)
	if h.limiter != nil {
		handler = h.limiter.Middleware(handler)
	}
	r.Handle("/webhooks/{integration_id}", handler).Methods(http.MethodPost)
}

// Receive handles POST /webhooks/{integration_id}
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	integrationID, err := uuid.Parse(mux.Vars(r)["integration_id"])
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, "unknown integration")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Webhook body too large",
				zap.String("integration_id", integrationID.String()),
				zap.Int64("limit", tooLarge.Limit),
			)
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "empty request body")
		return
	}

	source := middleware.ClientIP(r)
	ev, err := h.receiver.Receive(r.Context(), integrationID, body, source)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeIntegrationNotFound) {
			h.logger.Warn("Webhook for unknown integration",
				zap.String("integration_id", integrationID.String()),
				zap.String("source_ip", source),
			)
		}
		handlers.RespondDomainError(w, h.logger, err)
		return
	}

	h.logger.Debug("Webhook accepted",
		zap.String("event_id", ev.ID.String()),
		zap.String("status", string(ev.Status)),
	)
	handlers.WriteJSON(w, h.logger, http.StatusOK, Accepted)
}
