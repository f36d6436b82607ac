package dashboard

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/handlers"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
)

// StatsService computes pipeline statistics on demand
type StatsService interface {
	Snapshot(ctx context.Context, institutionID *uuid.UUID) (*domain.Stats, error)
}

// Subscriber hands out live notification streams
type Subscriber interface {
	Subscribe(ctx context.Context, buffer int) <-chan notify.Notification
}

// Handler serves the read-only dashboard endpoints
type Handler struct {
	stats      StatsService
	subscriber Subscriber
	logger     *zap.Logger
	heartbeat  heartbeat

	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a dashboard handler
func NewHandler(stats StatsService, subscriber Subscriber, logger *zap.Logger) *Handler {
	return &Handler{
		stats:      stats,
		subscriber: subscriber,
		logger:     logger,
		heartbeat:  defaultHeartbeat,
		closing:    make(chan struct{}),
	}
}

// CloseStreams ends every open event stream. http.Server.Shutdown waits for
// active requests and a stream never finishes on its own.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Register mounts the dashboard routes on an authenticated /api/v1 subrouter
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/events/stream", h.Stream).Methods(http.MethodGet)
}

// Stats handles GET /api/v1/stats?institution_id=
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var institutionID *uuid.UUID
	if v := r.URL.Query().Get("institution_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid institution_id")
			return
		}
		institutionID = &id
	}

	snap, err := h.stats.Snapshot(r.Context(), institutionID)
	if err != nil {
		handlers.RespondDomainError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, snap)
}
