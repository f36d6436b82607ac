package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

type queueRepo struct{ s *Store }

func (r queueRepo) Create(ctx context.Context, item *domain.QueueItem) error {
	defer r.s.lock()()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	for _, existing := range r.s.data.queue {
		if existing.EventID == item.EventID {
			return fmt.Errorf("queue item for event %s already exists", item.EventID)
		}
	}
	r.s.data.queue[item.ID] = *item
	r.s.data.queueOrder = append(r.s.data.queueOrder, item.ID)
	return nil
}

func (r queueRepo) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	defer r.s.lock()()
	item, ok := r.s.data.queue[id]
	if !ok {
		return nil, domain.ErrQueueItemNotFound
	}
	return &item, nil
}

func (r queueRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	return r.Get(ctx, id)
}

func (r queueRepo) GetByEvent(ctx context.Context, eventID uuid.UUID) (*domain.QueueItem, error) {
	defer r.s.lock()()
	for _, item := range r.s.data.queue {
		if item.EventID == eventID {
			return &item, nil
		}
	}
	return nil, domain.ErrQueueItemNotFound
}

func (r queueRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]uuid.UUID, error) {
	defer r.s.lock()()
	var due []domain.QueueItem
	for _, id := range r.s.data.queueOrder {
		item := r.s.data.queue[id]
		if !item.IsClaimable() || item.NextRetryAt.After(now) {
			continue
		}
		due = append(due, item)
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, item := range due {
		item.NextRetryAt = now.Add(lease)
		r.s.data.queue[item.ID] = item
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (r queueRepo) Update(ctx context.Context, item *domain.QueueItem) error {
	defer r.s.lock()()
	if _, ok := r.s.data.queue[item.ID]; !ok {
		return domain.ErrQueueItemNotFound
	}
	r.s.data.queue[item.ID] = *item
	return nil
}

func (r queueRepo) ListReview(ctx context.Context, filter domain.ReviewFilter) ([]*domain.QueueItem, error) {
	defer r.s.lock()()
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = domain.ReviewStatuses
	}
	wanted := make(map[domain.MatchStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var items []*domain.QueueItem
	for _, id := range r.s.data.queueOrder {
		item := r.s.data.queue[id]
		if !wanted[item.MatchStatus] {
			continue
		}
		if filter.InstitutionID != nil && item.InstitutionID != *filter.InstitutionID {
			continue
		}
		items = append(items, &item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return nil, nil
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (r queueRepo) CountByStatus(ctx context.Context, institutionID *uuid.UUID) (map[domain.MatchStatus]int64, error) {
	defer r.s.lock()()
	out := make(map[domain.MatchStatus]int64)
	for _, item := range r.s.data.queue {
		if institutionID != nil && item.InstitutionID != *institutionID {
			continue
		}
		out[item.MatchStatus]++
	}
	return out, nil
}
