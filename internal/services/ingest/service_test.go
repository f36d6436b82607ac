package ingest_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/ingest"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/fixtures"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/memstore"
)

type recordingPublisher struct {
	published []notify.Notification
}

func (p *recordingPublisher) Publish(n notify.Notification) {
	p.published = append(p.published, n)
}

func setup(t *testing.T) (*ingest.Service, *memstore.Store, *fixtures.School, *recordingPublisher) {
	t.Helper()
	store := memstore.New()
	school := fixtures.NewSchool()
	school.Seed(store)
	pub := &recordingPublisher{}
	return ingest.NewService(store, pub, zap.NewNop()), store, school, pub
}

func TestReceive_StoresEventWithIntegrationScope(t *testing.T) {
	svc, store, school, pub := setup(t)
	body := fixtures.C2BBody("QKL3ABC123", fixtures.BillingRef, fixtures.InvoiceAmountText, "254712345678", "GRACE", "OTIENO")

	ev, err := svc.Receive(context.Background(), school.C2B.ID, body, "196.201.214.200")
	require.NoError(t, err)

	assert.Equal(t, domain.EventStatusReceived, ev.Status)
	assert.Equal(t, "QKL3ABC123", ev.ExternalReference)
	assert.Equal(t, school.InstitutionID, ev.InstitutionID)
	assert.Equal(t, domain.ProviderMpesaC2B, ev.Provider)
	assert.Equal(t, body, ev.RawPayload)
	assert.Nil(t, ev.NormalizedPayload)

	stored, err := store.Events().Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusReceived, stored.Status)

	audit, err := store.Audit().ListByEntity(context.Background(), domain.AuditEntityEvent, ev.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "event.received", audit[0].Action)

	require.Len(t, pub.published, 1)
	assert.Equal(t, notify.KindEventReceived, pub.published[0].Kind)
}

func TestReceive_ProviderRetryIsStoredAsDuplicate(t *testing.T) {
	svc, store, school, pub := setup(t)
	body := fixtures.C2BBody("QKL3ABC123", fixtures.BillingRef, fixtures.InvoiceAmountText, "254712345678", "GRACE", "OTIENO")
	ctx := context.Background()

	first, err := svc.Receive(ctx, school.C2B.ID, body, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		retry, err := svc.Receive(ctx, school.C2B.ID, body, "")
		require.NoError(t, err)
		assert.Equal(t, domain.EventStatusDuplicate, retry.Status)
		require.NotNil(t, retry.DuplicateOf)
		assert.Equal(t, first.ID, *retry.DuplicateOf)
	}

	events := store.AllEvents()
	require.Len(t, events, 4)
	live := 0
	for _, ev := range events {
		if ev.Status == domain.EventStatusReceived {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Len(t, pub.published, 1)
}

func TestReceive_SameReferenceOnOtherIntegrationIsIndependent(t *testing.T) {
	svc, _, school, _ := setup(t)
	ctx := context.Background()
	body := fixtures.GenericPayment{ExternalReference: "EXT-1", Amount: "100"}.Body()

	a, err := svc.Receive(ctx, school.Generic.ID, body, "")
	require.NoError(t, err)
	b, err := svc.Receive(ctx, school.C2B.ID, fixtures.C2BBody("EXT-1", "", "100", "", "", ""), "")
	require.NoError(t, err)

	assert.Equal(t, domain.EventStatusReceived, a.Status)
	assert.Equal(t, domain.EventStatusReceived, b.Status)
}

func TestReceive_UnparsedBodyIsKept(t *testing.T) {
	svc, _, school, _ := setup(t)
	body := []byte("<xml>not json</xml>")

	ev, err := svc.Receive(context.Background(), school.Generic.ID, body, "")
	require.NoError(t, err)

	assert.Equal(t, domain.EventStatusReceived, ev.Status)
	assert.Equal(t, domain.BodyReference(body), ev.ExternalReference)
	assert.Equal(t, body, ev.RawPayload)
}

func TestReceive_UnknownIntegration(t *testing.T) {
	svc, store, _, _ := setup(t)

	_, err := svc.Receive(context.Background(), uuid.New(), []byte(`{}`), "")
	assert.True(t, domain.IsNotFoundError(err))
	assert.Empty(t, store.AllEvents())
}

func TestReceive_InactiveIntegrationStillRecords(t *testing.T) {
	store := memstore.New()
	school := fixtures.NewSchool()
	school.Generic.IsActive = false
	school.Seed(store)
	svc := ingest.NewService(store, nil, zap.NewNop())

	ev, err := svc.Receive(context.Background(), school.Generic.ID, fixtures.GenericPayment{ExternalReference: "EXT-9", Amount: "10"}.Body(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusReceived, ev.Status)
}
