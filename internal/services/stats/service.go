package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
)

// Service computes pipeline statistics from the stores on demand
type Service struct {
	store ports.Store
	now   func() time.Time
}

// NewService creates a stats service
func NewService(store ports.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Snapshot aggregates events by status, queue items by match status and
// processed totals per provider, optionally for one institution
func (s *Service) Snapshot(ctx context.Context, institutionID *uuid.UUID) (*domain.Stats, error) {
	events, err := s.store.Events().CountByStatus(ctx, institutionID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	queue, err := s.store.Queue().CountByStatus(ctx, institutionID)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	providers, err := s.store.Events().ProviderTotals(ctx, institutionID)
	if err != nil {
		return nil, fmt.Errorf("provider totals: %w", err)
	}
	if providers == nil {
		providers = []domain.ProviderTotal{}
	}
	return &domain.Stats{
		GeneratedAt:    s.now().UTC(),
		EventsByStatus: events,
		QueueByStatus:  queue,
		Providers:      providers,
	}, nil
}
