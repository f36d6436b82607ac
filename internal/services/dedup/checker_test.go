package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/internal/services/dedup"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/memstore"
)

var integrationID = uuid.MustParse("33333333-3333-3333-3333-333333333333")

func event(ref string, status domain.EventStatus, receivedAt time.Time) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		ID:                uuid.New(),
		IntegrationID:     integrationID,
		Provider:          domain.ProviderGeneric,
		ExternalReference: ref,
		Status:            status,
		ReceivedAt:        receivedAt,
	}
}

func check(t *testing.T, store *memstore.Store, ev *domain.PaymentEvent) *uuid.UUID {
	t.Helper()
	var dup *uuid.UUID
	err := store.InTx(context.Background(), func(ctx context.Context, tx ports.Store) error {
		var err error
		dup, err = dedup.NewChecker(zap.NewNop()).Check(ctx, tx, ev, time.Now())
		return err
	})
	require.NoError(t, err)
	return dup
}

func TestCheck(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		earlier *domain.PaymentEvent
		wantDup bool
	}{
		{
			name:    "no_other_event",
			wantDup: false,
		},
		{
			name:    "earlier_queued_event_wins",
			earlier: event("EXT-1", domain.EventStatusQueued, base.Add(-time.Minute)),
			wantDup: true,
		},
		{
			name:    "earlier_processed_event_wins",
			earlier: event("EXT-1", domain.EventStatusProcessed, base.Add(-time.Hour)),
			wantDup: true,
		},
		{
			name:    "failed_event_does_not_hold_reference",
			earlier: event("EXT-1", domain.EventStatusFailed, base.Add(-time.Minute)),
			wantDup: false,
		},
		{
			name:    "ignored_event_does_not_hold_reference",
			earlier: event("EXT-1", domain.EventStatusIgnored, base.Add(-time.Minute)),
			wantDup: false,
		},
		{
			name:    "different_reference",
			earlier: event("EXT-2", domain.EventStatusQueued, base.Add(-time.Minute)),
			wantDup: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			ctx := context.Background()
			if tt.earlier != nil {
				_, err := store.Events().Create(ctx, tt.earlier)
				require.NoError(t, err)
			}
			ev := event("EXT-1", domain.EventStatusValidated, base)
			ev.Status = domain.EventStatusDuplicate // bypass the live-reference index on insert
			_, err := store.Events().Create(ctx, ev)
			require.NoError(t, err)
			ev.Status = domain.EventStatusValidated
			require.NoError(t, store.Events().Update(ctx, ev))

			dup := check(t, store, ev)

			if !tt.wantDup {
				assert.Nil(t, dup)
				assert.Equal(t, domain.EventStatusValidated, ev.Status)
				return
			}
			require.NotNil(t, dup)
			assert.Equal(t, tt.earlier.ID, *dup)

			stored, err := store.Events().Get(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.EventStatusDuplicate, stored.Status)
			assert.Equal(t, tt.earlier.ID, *stored.DuplicateOf)

			audit, err := store.Audit().ListByEntity(ctx, domain.AuditEntityEvent, ev.ID)
			require.NoError(t, err)
			require.Len(t, audit, 1)
			assert.Equal(t, "event.duplicate", audit[0].Action)
		})
	}
}

func TestCheck_LaterEventDoesNotDisplaceFirst(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	first := event("EXT-1", domain.EventStatusValidated, base)
	_, err := store.Events().Create(ctx, first)
	require.NoError(t, err)

	later := event("EXT-1", domain.EventStatusDuplicate, base.Add(time.Second))
	_, err = store.Events().Create(ctx, later)
	require.NoError(t, err)
	later.Status = domain.EventStatusValidated
	require.NoError(t, store.Events().Update(ctx, later))

	assert.Nil(t, check(t, store, first))
	dup := check(t, store, later)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, *dup)
}
