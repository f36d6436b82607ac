package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/fixtures"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/pipeline"
)

type fakeSubscriber struct {
	ch chan notify.Notification
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, buffer int) <-chan notify.Notification {
	return f.ch
}

func noHeartbeat() (<-chan time.Time, func()) { return nil, func() {} }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStats(t *testing.T) {
	p := pipeline.New(t)
	p.Submit(t, p.School.Generic.ID, fixtures.GenericPayment{
		ExternalReference: "PAY-STATS",
		Amount:            fixtures.InvoiceAmountText,
		BillReference:     fixtures.BillingRef,
		SenderPhone:       fixtures.GuardianPhone,
	}.Body())
	p.Submit(t, p.School.Generic.ID, fixtures.GenericPayment{ExternalReference: "PAY-STATS", Amount: "1.00"}.Body())
	p.Drain(t, 5)

	h := NewHandler(p.Stats, &fakeSubscriber{}, zap.NewNop())

	rec := serve(h, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.EventsByStatus[domain.EventStatusProcessed])
	assert.Equal(t, int64(1), snap.EventsByStatus[domain.EventStatusDuplicate])
	assert.Equal(t, int64(1), snap.QueueByStatus[domain.MatchStatusProcessed])
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, domain.ProviderGeneric, snap.Providers[0].Provider)

	rec = serve(h, "/stats?institution_id="+uuid.NewString())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.EventsByStatus[domain.EventStatusProcessed])

	assert.Equal(t, http.StatusBadRequest, serve(h, "/stats?institution_id=nope").Code)
}

func TestStream_WritesServerSentEvents(t *testing.T) {
	school := uuid.New()
	other := uuid.New()
	sub := &fakeSubscriber{ch: make(chan notify.Notification, 3)}
	first := notify.Notification{Kind: notify.KindEventReceived, EventID: uuid.New(), InstitutionID: school, Status: "received"}
	skipped := notify.Notification{Kind: notify.KindEventReceived, EventID: uuid.New(), InstitutionID: other, Status: "received"}
	applied := notify.Notification{Kind: notify.KindPaymentApplied, EventID: uuid.New(), InstitutionID: school, Status: "processed", AmountMinor: 4500000}
	sub.ch <- first
	sub.ch <- skipped
	sub.ch <- applied
	close(sub.ch)

	h := NewHandler(nil, sub, zap.NewNop())
	h.heartbeat = noHeartbeat

	rec := serve(h, "/events/stream?institution_id="+school.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, ": connected\n\n"))
	assert.Contains(t, body, "id: "+first.EventID.String()+"\nevent: event.received\n")
	assert.Contains(t, body, "event: payment.applied\n")
	assert.Contains(t, body, `"amount_minor":4500000`)
	assert.NotContains(t, body, "}\n\n\n", "data stays on one line")
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n")[1:] {
		lines := strings.Split(frame, "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[2], "data: {"))
	}
	assert.NotContains(t, body, skipped.EventID.String())
}

func TestStream_EndsWithRequest(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan notify.Notification)}
	h := NewHandler(nil, sub, zap.NewNop())
	h.heartbeat = noHeartbeat

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end with its request")
	}
}

func TestStream_EndsOnCloseStreams(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan notify.Notification)}
	h := NewHandler(nil, sub, zap.NewNop())
	h.heartbeat = noHeartbeat

	done := make(chan struct{})
	go func() {
		h.Stream(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events/stream", nil))
		close(done)
	}()

	h.CloseStreams()
	h.CloseStreams()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream survived CloseStreams")
	}
}
