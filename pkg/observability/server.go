package observability

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Readiness flips to false when the service starts draining so load
// balancers stop sending webhooks before the HTTP server closes
type Readiness struct {
	ready atomic.Bool
}

// SetReady marks the service as accepting traffic or not
func (r *Readiness) SetReady(v bool) { r.ready.Store(v) }

// Ready reports the current state
func (r *Readiness) Ready() bool { return r.ready.Load() }

// NewMetricsHandler serves /metrics, /health and /ready
func NewMetricsHandler(health *HealthChecker, readiness *Readiness) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if health != nil {
		mux.HandleFunc("/health", health.HealthHandler())
	}
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if readiness != nil && !readiness.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// StartMetricsServer serves NewMetricsHandler on port in the background
func StartMetricsServer(port int, health *HealthChecker, readiness *Readiness, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMetricsHandler(health, readiness),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	return server
}
