package cron

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/handlers"
	"github.com/kevin07696/fee-reconciliation/internal/services/queue"
)

// BatchRunner drains one batch of a pipeline stage
type BatchRunner interface {
	RunOnce(ctx context.Context) (queue.BatchResult, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueHandler lets an external scheduler drive the pipeline when the
// in-process pollers are disabled or need a nudge
type QueueHandler struct {
	stages     []BatchRunner
	store      Pinger
	logger     *zap.Logger
	cronSecret string
}

// NewQueueHandler creates the queue cron handler. Stages run in the order given.
func NewQueueHandler(store Pinger, logger *zap.Logger, cronSecret string, stages ...BatchRunner) *QueueHandler {
	return &QueueHandler{
		stages:     stages,
		store:      store,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// Register mounts the cron routes
func (h *QueueHandler) Register(r *mux.Router) {
	r.HandleFunc("/cron/process-queue", h.ProcessQueue).Methods(http.MethodPost)
	r.HandleFunc("/cron/health", h.HealthCheck).Methods(http.MethodGet)
}

// ProcessQueueRequest is the optional body of POST /cron/process-queue
type ProcessQueueRequest struct {
	Rounds *int `json:"rounds"` // defaults to 1
}

// ProcessQueueResponse reports every batch that ran
type ProcessQueueResponse struct {
	Results     []queue.BatchResult `json:"results"`
	Errors      []string            `json:"errors,omitempty"`
	ProcessedAt string              `json:"processed_at"`
	Success     bool                `json:"success"`
}

// ProcessQueue handles POST /cron/process-queue: each round drains one
// intake batch and then one matching batch
func (h *QueueHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Queue cron job triggered",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ProcessQueueRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	rounds := 1
	if req.Rounds != nil {
		if *req.Rounds < 1 || *req.Rounds > 10 {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, "rounds must be between 1 and 10")
			return
		}
		rounds = *req.Rounds
	}

	resp := ProcessQueueResponse{Results: []queue.BatchResult{}}
	ctx := r.Context()
	for i := 0; i < rounds; i++ {
		claimed := 0
		for _, stage := range h.stages {
			res, err := stage.RunOnce(ctx)
			resp.Results = append(resp.Results, res)
			if err != nil {
				resp.Errors = append(resp.Errors, err.Error())
				continue
			}
			claimed += res.Claimed
		}
		if claimed == 0 {
			break
		}
	}

	failed := 0
	for _, res := range resp.Results {
		failed += res.Failed
	}
	resp.Success = failed == 0 && len(resp.Errors) == 0
	resp.ProcessedAt = time.Now().UTC().Format(time.RFC3339)

	h.logger.Info("Queue processing completed",
		zap.Int("batches", len(resp.Results)),
		zap.Int("failed", failed),
		zap.Int("errors", len(resp.Errors)),
	)

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusPartialContent
	}
	handlers.WriteJSON(w, h.logger, status, resp)
}

// HealthCheck handles GET /cron/health
func (h *QueueHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateRequest(r) {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Cron health check failed", zap.Error(err))
		resp["status"] = "unhealthy"
		resp["error"] = "database unreachable"
		status = http.StatusServiceUnavailable
	}
	handlers.WriteJSON(w, h.logger, status, resp)
}

// authenticateRequest accepts X-Cron-Secret or a bearer token
func (h *QueueHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if matches(r.Header.Get("X-Cron-Secret"), h.cronSecret) {
		return true
	}
	return matches(r.Header.Get("Authorization"), "Bearer "+h.cronSecret)
}

func matches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
