package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/pkg/shutdown"
)

// Stage is one claim-and-process step of the pipeline
type Stage interface {
	Name() string
	// Claim leases up to limit units of work
	Claim(ctx context.Context, limit int) ([]uuid.UUID, error)
	Process(ctx context.Context, id uuid.UUID) error
}

// PoolConfig sizes a stage's worker pool
type PoolConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
}

// BatchResult counts the outcome of one drained batch
type BatchResult struct {
	Stage     string `json:"stage"`
	Claimed   int    `json:"claimed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Pool runs a Stage with bounded concurrency, fed by a polling ticker
type Pool struct {
	stage    Stage
	cfg      PoolConfig
	logger   *zap.Logger
	inflight *shutdown.InFlightTracker
	poller   *shutdown.PeriodicWorker
	mu       sync.Mutex
}

// NewPool creates a worker pool for stage
func NewPool(stage Stage, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Pool{
		stage:    stage,
		cfg:      cfg,
		logger:   logger,
		inflight: shutdown.NewInFlightTracker(stage.Name(), logger),
	}
}

// Start begins polling in the background until Shutdown
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.poller != nil {
		return
	}
	p.poller = shutdown.NewPeriodicWorker(p.stage.Name()+"-poller", p.cfg.PollInterval, p.logger)
	p.poller.Start(func(ctx context.Context) {
		res, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("Stage batch failed",
					zap.String("stage", p.stage.Name()),
					zap.Error(err),
				)
			}
			return
		}
		if res.Claimed > 0 {
			p.logger.Info("Stage batch drained",
				zap.String("stage", res.Stage),
				zap.Int("claimed", res.Claimed),
				zap.Int("succeeded", res.Succeeded),
				zap.Int("failed", res.Failed),
			)
		}
	})
}

// RunOnce claims one batch and processes it with at most Workers units in
// flight. It returns when the whole batch is done.
func (p *Pool) RunOnce(ctx context.Context) (BatchResult, error) {
	res := BatchResult{Stage: p.stage.Name()}
	if p.inflight.IsShuttingDown() {
		return res, nil
	}

	ids, err := p.stage.Claim(ctx, p.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	res.Claimed = len(ids)
	if len(ids) == 0 {
		return res, nil
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, p.cfg.Workers)
	)
	for _, id := range ids {
		select {
		case <-ctx.Done():
			wg.Wait()
			return res, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			started := p.inflight.RunWithContext(ctx, func(ctx context.Context) {
				err := p.stage.Process(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed++
					p.logger.Warn("Stage work item failed",
						zap.String("stage", p.stage.Name()),
						zap.String("id", id.String()),
						zap.Error(err),
					)
					return
				}
				res.Succeeded++
			})
			if !started {
				p.logger.Debug("Skipping work item during shutdown",
					zap.String("stage", p.stage.Name()),
					zap.String("id", id.String()),
				)
			}
		}(id)
	}
	wg.Wait()
	return res, nil
}

// Shutdown stops polling and waits for in-flight work. Leased but
// unprocessed work is reclaimed after the lease expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	poller := p.poller
	p.mu.Unlock()
	if poller != nil {
		if err := poller.Shutdown(ctx); err != nil {
			return err
		}
	}
	return p.inflight.Shutdown(ctx)
}
