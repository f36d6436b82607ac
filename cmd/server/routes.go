package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/config"
	cronHandler "github.com/kevin07696/fee-reconciliation/internal/handlers/cron"
	dashboardHandler "github.com/kevin07696/fee-reconciliation/internal/handlers/dashboard"
	reviewHandler "github.com/kevin07696/fee-reconciliation/internal/handlers/review"
	webhookHandler "github.com/kevin07696/fee-reconciliation/internal/handlers/webhook"
	authMiddleware "github.com/kevin07696/fee-reconciliation/internal/middleware"
	"github.com/kevin07696/fee-reconciliation/internal/services/ingest"
	"github.com/kevin07696/fee-reconciliation/internal/services/intake"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/internal/services/queue"
	"github.com/kevin07696/fee-reconciliation/internal/services/review"
	"github.com/kevin07696/fee-reconciliation/internal/services/stats"
	"github.com/kevin07696/fee-reconciliation/pkg/middleware"
	"github.com/kevin07696/fee-reconciliation/pkg/observability"
)

type routerDeps struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      cronHandler.Pinger
	verifier   *authMiddleware.OperatorTokenVerifier
	limiter    *middleware.RateLimiter
	ingest     *ingest.Service
	intake     *intake.Service
	review     *review.Service
	stats      *stats.Service
	broker     *notify.Broker
	intakePool *queue.Pool
	matchPool  *queue.Pool
}

// newRouter mounts:
//
//	POST /webhooks/{integration_id}              provider IPN (rate limited)
//	POST /cron/process-queue, GET /cron/health   cron secret
//	/api/v1/...                                  operator bearer token or JWT
//
// The returned func ends open event streams.
func newRouter(d routerDeps) (http.Handler, func()) {
	r := mux.NewRouter()
	r.Use(authMiddleware.RequestID)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(authMiddleware.SecurityHeaders(d.cfg.Logger.Development))

	webhookHandler.NewHandler(d.ingest, d.limiter, d.cfg.Server.MaxBodyBytes, d.logger).Register(r)
	cronHandler.NewQueueHandler(d.store, d.logger, d.cfg.Auth.CronSecret, d.intakePool, d.matchPool).Register(r)

	api := r.PathPrefix("/api/v1").Subrouter()
	operatorAuth := authMiddleware.NewOperatorAuth(d.cfg.Auth.OperatorToken, d.logger)
	if d.verifier != nil {
		operatorAuth.WithTokenVerifier(d.verifier)
	}
	api.Use(operatorAuth.Middleware)
	reviewHandler.NewHandler(d.review, d.intake, d.logger).Register(api)
	dashboard := dashboardHandler.NewHandler(d.stats, d.broker, d.logger)
	dashboard.Register(api)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"not found"}`))
	})
	return r, dashboard.CloseStreams
}
