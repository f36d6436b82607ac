package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

type eventRepo struct{ s *Store }

func isLive(status domain.EventStatus) bool {
	switch status {
	case domain.EventStatusDuplicate, domain.EventStatusFailed, domain.EventStatusIgnored:
		return false
	}
	return true
}

func (r eventRepo) liveHolder(integrationID uuid.UUID, ref string, except uuid.UUID) *domain.PaymentEvent {
	var found *domain.PaymentEvent
	for _, id := range r.s.data.eventOrder {
		ev := r.s.data.events[id]
		if id == except || !isLive(ev.Status) {
			continue
		}
		if ev.IntegrationID != integrationID || ev.ExternalReference != ref {
			continue
		}
		if found == nil || ev.ReceivedAt.Before(found.ReceivedAt) {
			e := ev
			found = &e
		}
	}
	return found
}

func (r eventRepo) Create(ctx context.Context, ev *domain.PaymentEvent) (bool, error) {
	defer r.s.lock()()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if isLive(ev.Status) && r.liveHolder(ev.IntegrationID, ev.ExternalReference, ev.ID) != nil {
		return false, nil
	}
	r.s.data.events[ev.ID] = *ev
	r.s.data.eventOrder = append(r.s.data.eventOrder, ev.ID)
	return true, nil
}

func (r eventRepo) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error) {
	defer r.s.lock()()
	ev, ok := r.s.data.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &ev, nil
}

func (r eventRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error) {
	return r.Get(ctx, id)
}

func (r eventRepo) FindEarlier(ctx context.Context, ev *domain.PaymentEvent) (*domain.PaymentEvent, error) {
	defer r.s.lock()()
	holder := r.liveHolder(ev.IntegrationID, ev.ExternalReference, ev.ID)
	if holder == nil {
		return nil, nil
	}
	if holder.ReceivedAt.Before(ev.ReceivedAt) {
		return holder, nil
	}
	if holder.ReceivedAt.Equal(ev.ReceivedAt) && holder.ID.String() < ev.ID.String() {
		return holder, nil
	}
	return nil, nil
}

func (r eventRepo) FindLive(ctx context.Context, integrationID uuid.UUID, externalReference string) (*domain.PaymentEvent, error) {
	defer r.s.lock()()
	return r.liveHolder(integrationID, externalReference, uuid.Nil), nil
}

func (r eventRepo) ClaimReceived(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]uuid.UUID, error) {
	defer r.s.lock()()
	var due []domain.PaymentEvent
	for _, id := range r.s.data.eventOrder {
		ev := r.s.data.events[id]
		if ev.Status != domain.EventStatusReceived {
			continue
		}
		if ev.ProcessingStartedAt != nil && ev.ProcessingStartedAt.Add(lease).After(now) {
			continue
		}
		due = append(due, ev)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ReceivedAt.Before(due[j].ReceivedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, ev := range due {
		started := now
		ev.ProcessingStartedAt = &started
		r.s.data.events[ev.ID] = ev
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

func (r eventRepo) Update(ctx context.Context, ev *domain.PaymentEvent) error {
	defer r.s.lock()()
	if _, ok := r.s.data.events[ev.ID]; !ok {
		return domain.ErrEventNotFound
	}
	r.s.data.events[ev.ID] = *ev
	return nil
}

func (r eventRepo) CountByStatus(ctx context.Context, institutionID *uuid.UUID) (map[domain.EventStatus]int64, error) {
	defer r.s.lock()()
	out := make(map[domain.EventStatus]int64)
	for _, ev := range r.s.data.events {
		if institutionID != nil && ev.InstitutionID != *institutionID {
			continue
		}
		out[ev.Status]++
	}
	return out, nil
}

func (r eventRepo) ProviderTotals(ctx context.Context, institutionID *uuid.UUID) ([]domain.ProviderTotal, error) {
	defer r.s.lock()()
	type key struct {
		provider domain.Provider
		currency string
	}
	totals := make(map[key]*domain.ProviderTotal)
	var keys []key
	for _, id := range r.s.data.eventOrder {
		ev := r.s.data.events[id]
		if institutionID != nil && ev.InstitutionID != *institutionID {
			continue
		}
		k := key{ev.Provider, ev.Currency}
		t, ok := totals[k]
		if !ok {
			t = &domain.ProviderTotal{Provider: ev.Provider, Currency: ev.Currency}
			totals[k] = t
			keys = append(keys, k)
		}
		t.Events++
		if ev.Status == domain.EventStatusProcessed {
			t.Processed++
			t.ProcessedAmountMinor += ev.Amount()
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].provider != keys[j].provider {
			return keys[i].provider < keys[j].provider
		}
		return keys[i].currency < keys[j].currency
	})
	out := make([]domain.ProviderTotal, 0, len(keys))
	for _, k := range keys {
		out = append(out, *totals[k])
	}
	return out, nil
}
