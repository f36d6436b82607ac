package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shutdown gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	componentShutdownDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "component_shutdown_duration_seconds",
		Help:    "Time taken to shutdown individual components",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 25, 30},
	}, []string{"component"})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// Func stops one component within ctx's deadline
type Func func(context.Context) error

type component struct {
	name string
	stop Func
}

// Manager stops registered components one at a time in reverse registration
// order, so the worker pools finish their in-flight ledger writes before the
// database pool they write through is closed.
type Manager struct {
	logger     *zap.Logger
	timeout    time.Duration
	mu         sync.Mutex
	components []component
	once       sync.Once
}

// NewManager creates a shutdown manager whose whole sequence shares timeout
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register adds a component. Register dependencies before their dependents:
// database, then notifications, then pools, then HTTP servers.
func (sm *Manager) Register(name string, fn Func) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.components = append(sm.components, component{name: name, stop: fn})
	sm.logger.Debug("Registered shutdown component",
		zap.String("component", name),
		zap.Int("registration_order", len(sm.components)),
	)
}

// RegisterHTTPServer registers an http.Server or anything shaped like one
func (sm *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	sm.Register(name, server.Shutdown)
}

// RegisterNoErr registers a stop function that cannot fail
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs Shutdown
func (sm *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	sm.logger.Info("Received shutdown signal - initiating graceful shutdown",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", sm.timeout),
	)
	_ = sm.Shutdown()
}

// Shutdown stops every component, last registered first. A component that
// fails or times out does not prevent the rest from being stopped. Only the
// first call does any work.
func (sm *Manager) Shutdown() error {
	var err error
	sm.once.Do(func() {
		err = sm.shutdown()
	})
	return err
}

func (sm *Manager) shutdown() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	components := make([]component, len(sm.components))
	copy(components, sm.components)
	sm.mu.Unlock()

	sm.logger.Info("Starting graceful shutdown",
		zap.Int("component_count", len(components)),
		zap.Duration("timeout", sm.timeout),
	)

	var failed []string
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		began := time.Now()
		if err := c.stop(ctx); err != nil {
			failed = append(failed, c.name)
			shutdownErrors.WithLabelValues(c.name).Inc()
			sm.logger.Error("Component shutdown failed",
				zap.String("component", c.name),
				zap.Duration("elapsed", time.Since(began)),
				zap.Error(err),
			)
		} else {
			sm.logger.Info("Component shut down",
				zap.String("component", c.name),
				zap.Duration("elapsed", time.Since(began)),
			)
		}
		componentShutdownDuration.WithLabelValues(c.name).Observe(time.Since(began).Seconds())
	}

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())
	if len(failed) > 0 {
		sm.logger.Error("Graceful shutdown completed with errors",
			zap.Strings("components", failed),
			zap.Duration("elapsed", elapsed),
		)
		return fmt.Errorf("shutdown failed for %v", failed)
	}
	sm.logger.Info("Graceful shutdown completed", zap.Duration("elapsed", elapsed))
	return nil
}
