package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/queue"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/fixtures"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/pipeline"
)

const secret = "cron-secret"

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type failingStage struct{}

func (failingStage) RunOnce(ctx context.Context) (queue.BatchResult, error) {
	return queue.BatchResult{Stage: "broken"}, errors.New("claim failed")
}

func send(h *QueueHandler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.Register(r)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProcessQueue_RunsIntakeThenMatching(t *testing.T) {
	p := pipeline.New(t)
	ev := p.Submit(t, p.School.Generic.ID, fixtures.GenericPayment{
		ExternalReference: "PAY-CRON",
		Amount:            fixtures.InvoiceAmountText,
		BillReference:     fixtures.BillingRef,
		SenderPhone:       fixtures.GuardianPhone,
	}.Body())

	h := NewQueueHandler(p.Store, zap.NewNop(), secret, p.IntakePool, p.MatchPool)
	rec := send(h, http.MethodPost, "/cron/process-queue", "", map[string]string{"X-Cron-Secret": secret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ProcessQueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Claimed)
	assert.Equal(t, 1, resp.Results[1].Succeeded)
	assert.Equal(t, domain.EventStatusProcessed, p.Event(t, ev.ID).Status)
}

func TestProcessQueue_Rounds(t *testing.T) {
	p := pipeline.New(t)
	h := NewQueueHandler(p.Store, zap.NewNop(), secret, p.IntakePool, p.MatchPool)
	auth := map[string]string{"Authorization": "Bearer " + secret}

	rec := send(h, http.MethodPost, "/cron/process-queue", `{"rounds":5}`, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ProcessQueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2, "an idle pipeline stops after the first round")

	assert.Equal(t, http.StatusBadRequest, send(h, http.MethodPost, "/cron/process-queue", `{"rounds":11}`, auth).Code)
	assert.Equal(t, http.StatusBadRequest, send(h, http.MethodPost, "/cron/process-queue", `{`, auth).Code)
}

func TestProcessQueue_ReportsStageErrors(t *testing.T) {
	h := NewQueueHandler(pingFunc(func(context.Context) error { return nil }), zap.NewNop(), secret, failingStage{})
	rec := send(h, http.MethodPost, "/cron/process-queue", "", map[string]string{"X-Cron-Secret": secret})

	require.Equal(t, http.StatusPartialContent, rec.Code)
	var resp ProcessQueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, []string{"claim failed"}, resp.Errors)
}

func TestCronAuthentication(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })

	tests := []struct {
		name       string
		secret     string
		header     map[string]string
		wantStatus int
	}{
		{"valid X-Cron-Secret", secret, map[string]string{"X-Cron-Secret": secret}, http.StatusOK},
		{"valid bearer", secret, map[string]string{"Authorization": "Bearer " + secret}, http.StatusOK},
		{"wrong secret", secret, map[string]string{"X-Cron-Secret": "nope"}, http.StatusUnauthorized},
		{"missing secret", secret, nil, http.StatusUnauthorized},
		{"unconfigured secret", "", map[string]string{"X-Cron-Secret": ""}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewQueueHandler(ok, zap.NewNop(), tt.secret)
			assert.Equal(t, tt.wantStatus, send(h, http.MethodGet, "/cron/health", "", tt.header).Code)
		})
	}
}

func TestHealthCheck_ReportsDatabase(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	h := NewQueueHandler(down, zap.NewNop(), secret)

	rec := send(h, http.MethodGet, "/cron/health", "", map[string]string{"X-Cron-Secret": secret})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}
