package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/handlers"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/fixtures"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/pipeline"
	"github.com/kevin07696/fee-reconciliation/pkg/middleware"
)

func newRouter(t *testing.T, h *Handler) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func post(r http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.RemoteAddr = "196.201.214.200:41000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReceive_AcknowledgesStoredEvent(t *testing.T) {
	p := pipeline.New(t)
	r := newRouter(t, NewHandler(p.Ingest, nil, 0, zap.NewNop()))

	body := fixtures.C2BBody("QK71ABC123", fixtures.BillingRef, fixtures.InvoiceAmountText, "254712345678", "Grace", "Otieno")
	rec := post(r, "/webhooks/"+p.School.C2B.ID.String(), body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	ev, err := p.Store.Events().FindLive(context.Background(), p.School.C2B.ID, "QK71ABC123")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventStatusReceived, ev.Status)
	assert.Equal(t, "196.201.214.200", ev.SourceIP)
}

func TestReceive_AcknowledgesDuplicates(t *testing.T) {
	p := pipeline.New(t)
	r := newRouter(t, NewHandler(p.Ingest, nil, 0, zap.NewNop()))
	body := fixtures.GenericPayment{ExternalReference: "GEN-1", Amount: "100.00"}.Body()
	path := "/webhooks/" + p.School.Generic.ID.String()

	for i := 0; i < 3; i++ {
		rec := post(r, path, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	counts, err := p.Store.Events().CountByStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.EventStatusReceived])
	assert.Equal(t, int64(2), counts[domain.EventStatusDuplicate])
}

func TestReceive_Rejections(t *testing.T) {
	p := pipeline.New(t)
	r := newRouter(t, NewHandler(p.Ingest, nil, 64, zap.NewNop()))

	tests := []struct {
		name       string
		path       string
		body       []byte
		wantStatus int
		wantCode   domain.ErrorCode
	}{
		{
			name:       "unknown integration",
			path:       "/webhooks/" + uuid.NewString(),
			body:       []byte(`{"external_reference":"X"}`),
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ErrorCodeIntegrationNotFound,
		},
		{
			name:       "malformed integration id",
			path:       "/webhooks/not-a-uuid",
			body:       []byte(`{}`),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "body over limit",
			path:       "/webhooks/" + p.School.Generic.ID.String(),
			body:       []byte(strings.Repeat("x", 65)),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "empty body",
			path:       "/webhooks/" + p.School.Generic.ID.String(),
			body:       nil,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(r, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp handlers.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestReceive_RateLimited(t *testing.T) {
	p := pipeline.New(t)
	limiter := middleware.NewRateLimiter(0.001, 1, zap.NewNop())
	defer limiter.Shutdown()
	r := newRouter(t, NewHandler(p.Ingest, limiter, 0, zap.NewNop()))
	path := "/webhooks/" + p.School.Generic.ID.String()

	assert.Equal(t, http.StatusOK, post(r, path, fixtures.GenericPayment{ExternalReference: "A"}.Body()).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, path, fixtures.GenericPayment{ExternalReference: "B"}.Body()).Code)
}

func TestReceive_OnlyPost(t *testing.T) {
	p := pipeline.New(t)
	r := newRouter(t, NewHandler(p.Ingest, nil, 0, zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/"+p.School.Generic.ID.String(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
