package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var workInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "work_in_flight",
	Help: "Units of pipeline work currently being processed",
}, []string{"tracker"})

// InFlightTracker counts running work so shutdown can wait for it. Once
// shutdown starts no new work is admitted.
type InFlightTracker struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewInFlightTracker creates a tracker reported under name
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{name: name, logger: logger}
}

func (t *InFlightTracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return false
	}
	t.wg.Add(1)
	workInFlight.WithLabelValues(t.name).Inc()
	return true
}

func (t *InFlightTracker) done() {
	workInFlight.WithLabelValues(t.name).Dec()
	t.wg.Done()
}

// RunWithContext runs fn as tracked work. It returns false without calling
// fn once shutdown has begun.
func (t *InFlightTracker) RunWithContext(ctx context.Context, fn func(context.Context)) bool {
	if !t.add() {
		return false
	}
	defer t.done()
	fn(ctx)
	return true
}

// IsShuttingDown reports whether Shutdown has been called
func (t *InFlightTracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

// Shutdown stops admitting work and waits for running work or ctx
func (t *InFlightTracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	t.logger.Info("Waiting for in-flight work to complete", zap.String("tracker", t.name))
	if err := waitGroup(ctx, &t.wg); err != nil {
		t.logger.Warn("Shutdown timeout - some work may be incomplete", zap.String("tracker", t.name))
		return err
	}
	return nil
}

// PeriodicWorker calls a function immediately and then on every tick until
// shut down
type PeriodicWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPeriodicWorker creates a worker that is idle until Start
func NewPeriodicWorker(name string, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return &PeriodicWorker{name: name, interval: interval, logger: logger}
}

// Start runs work in a background goroutine. work should return promptly
// once its context is cancelled.
func (pw *PeriodicWorker) Start(work func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	pw.cancel = cancel
	pw.wg.Add(1)

	go func() {
		defer pw.wg.Done()
		pw.logger.Info("Periodic worker started",
			zap.String("worker", pw.name),
			zap.Duration("interval", pw.interval),
		)

		ticker := time.NewTicker(pw.interval)
		defer ticker.Stop()

		work(ctx)
		for {
			select {
			case <-ctx.Done():
				pw.logger.Info("Periodic worker stopped", zap.String("worker", pw.name))
				return
			case <-ticker.C:
				work(ctx)
			}
		}
	}()
}

// Shutdown cancels the worker's context and waits for the current call to
// return, or for ctx
func (pw *PeriodicWorker) Shutdown(ctx context.Context) error {
	pw.once.Do(func() {
		if pw.cancel != nil {
			pw.cancel()
		}
	})
	return waitGroup(ctx, &pw.wg)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
