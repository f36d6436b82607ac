package review

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/handlers"
	"github.com/kevin07696/fee-reconciliation/internal/middleware"
	"github.com/kevin07696/fee-reconciliation/internal/services/review"
)

const maxActionBodyBytes = 64 << 10

// ReviewService is the manual-review surface
type ReviewService interface {
	List(ctx context.Context, filter domain.ReviewFilter) ([]*domain.QueueItem, error)
	Get(ctx context.Context, itemID uuid.UUID) (*review.ReviewItem, error)
	Act(ctx context.Context, req review.ActionRequest) (*review.ActionResult, error)
}

// EventResubmitter sends failed events back through validation
type EventResubmitter interface {
	Resubmit(ctx context.Context, eventID uuid.UUID, operator, notes string) (*domain.PaymentEvent, error)
}

// Handler serves the operator review API
type Handler struct {
	service     ReviewService
	resubmitter EventResubmitter
	logger      *zap.Logger
}

// NewHandler creates a review handler
func NewHandler(service ReviewService, resubmitter EventResubmitter, logger *zap.Logger) *Handler {
	return &Handler{
		service:     service,
		resubmitter: resubmitter,
		logger:      logger,
	}
}

// Register mounts the review routes on an authenticated /api/v1 subrouter
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/review", h.List).Methods(http.MethodGet)
	r.HandleFunc("/review/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/review/{id}/actions", h.Act).Methods(http.MethodPost)
	r.HandleFunc("/events/{id}/resubmit", h.Resubmit).Methods(http.MethodPost)
}

// ListResponse is the body of GET /api/v1/review
type ListResponse struct {
	Items  []*domain.QueueItem `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// List handles GET /api/v1/review?status=exception,unmatched&institution_id=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.ReviewFilter

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, domain.MatchStatus(s))
			}
		}
	}
	if v := q.Get("institution_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid institution_id")
			return
		}
		filter.InstitutionID = &id
	}
	var ok bool
	if filter.Limit, ok = intParam(q.Get("limit")); !ok {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, ok = intParam(q.Get("offset")); !ok {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid offset")
		return
	}

	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		handlers.RespondDomainError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []*domain.QueueItem{}
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, ListResponse{Items: items, Limit: filter.Limit, Offset: filter.Offset})
}

// Get handles GET /api/v1/review/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		handlers.RespondDomainError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, item)
}

// ActionBody is the body of POST /api/v1/review/{id}/actions. queue_item_id
// is optional and must match the path when present.
type ActionBody struct {
	QueueItemID        *uuid.UUID                 `json:"queue_item_id,omitempty"`
	CandidateSelection *review.CandidateSelection `json:"candidate_selection,omitempty"`
	Action             domain.QueueAction         `json:"action"`
	Notes              string                     `json:"notes,omitempty"`
}

// Act handles POST /api/v1/review/{id}/actions
func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var body ActionBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.QueueItemID != nil && *body.QueueItemID != id {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "queue_item_id does not match path")
		return
	}

	operator := middleware.OperatorFromContext(r.Context())
	res, err := h.service.Act(r.Context(), review.ActionRequest{
		QueueItemID: id,
		Action:      body.Action,
		Candidate:   body.CandidateSelection,
		Notes:       body.Notes,
		Operator:    operator,
	})
	if err != nil {
		h.logger.Warn("Review action refused",
			zap.String("queue_item_id", id.String()),
			zap.String("action", string(body.Action)),
			zap.String("operator", operator),
			zap.Error(err),
		)
		handlers.RespondDomainError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, res)
}

// ResubmitBody is the optional body of POST /api/v1/events/{id}/resubmit
type ResubmitBody struct {
	Notes string `json:"notes,omitempty"`
}

// Resubmit handles POST /api/v1/events/{id}/resubmit
func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var body ResubmitBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBodyBytes)).Decode(&body); err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ev, err := h.resubmitter.Resubmit(r.Context(), id, middleware.OperatorFromContext(r.Context()), body.Notes)
	if err != nil {
		handlers.RespondDomainError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, ev)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func intParam(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
