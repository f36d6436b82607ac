package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/review"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/fixtures"
	"github.com/kevin07696/fee-reconciliation/internal/testutil/pipeline"
)

func run(t *testing.T, h *pipeline.Harness, args ...string) (string, error) {
	t.Helper()
	open := func(context.Context) (*services, func(), error) {
		return &services{review: h.Review, intake: h.Intake, stats: h.Stats}, func() {}, nil
	}
	cmd := newRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func held(t *testing.T, h *pipeline.Harness) *domain.QueueItem {
	t.Helper()
	ev := h.Submit(t, h.School.Generic.ID, fixtures.GenericPayment{
		ExternalReference: "PAY-CLI",
		Amount:            "500.00",
		SenderPhone:       fixtures.GuardianPhone,
	}.Body())
	h.Step(t)
	item := h.ItemFor(t, ev)
	require.Equal(t, domain.MatchStatusPartialMatch, item.MatchStatus)
	return item
}

func TestReviewList(t *testing.T) {
	h := pipeline.New(t)

	out, err := run(t, h, "review", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to review")

	item := held(t, h)
	out, err = run(t, h, "review", "list")
	require.NoError(t, err)
	assert.Contains(t, out, item.ID.String())
	assert.Contains(t, out, "partial_match")

	out, err = run(t, h, "review", "list", "--json", "--status", "exception")
	require.NoError(t, err)
	var items []*domain.QueueItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Empty(t, items)

	_, err = run(t, h, "review", "list", "--institution", "not-a-uuid")
	assert.Error(t, err)
}

func TestReviewShow(t *testing.T) {
	h := pipeline.New(t)
	item := held(t, h)

	out, err := run(t, h, "review", "show", item.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "PAY-CLI")
	assert.Contains(t, out, "KES 500.00")
	assert.Contains(t, out, h.School.Student.Student.FullName)

	_, err = run(t, h, "review", "show", "nope")
	assert.Error(t, err)
}

func TestReviewConfirm(t *testing.T) {
	h := pipeline.New(t)
	item := held(t, h)
	invoiceID := h.School.Student.OpenInvoices[0].ID

	out, err := run(t, h, "--operator", "ops-cli", "--json",
		"review", "confirm", item.ID.String(), "--invoice", invoiceID.String(), "--notes", "bursar confirmed")
	require.NoError(t, err)

	var res review.ActionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Applied)
	assert.Equal(t, domain.MatchStatusProcessed, res.Item.MatchStatus)
	assert.Equal(t, "ops-cli", res.Item.ActionBy)

	_, err = run(t, h, "--operator", "ops-cli", "review", "ignore", item.ID.String())
	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorCodeQueueInvalidState, de.Code)
}

func TestReviewIgnore_RequiresOperator(t *testing.T) {
	h := pipeline.New(t)
	item := held(t, h)

	_, err := run(t, h, "--operator", "", "review", "ignore", item.ID.String())
	assert.True(t, domain.IsAuthError(err))

	out, err := run(t, h, "--operator", "ops-cli", "review", "ignore", item.ID.String(), "--notes", "test payment")
	require.NoError(t, err)
	assert.Contains(t, out, "ignored")
}

func TestEventsResubmit(t *testing.T) {
	h := pipeline.New(t)
	ev := h.Submit(t, h.School.Generic.ID, fixtures.GenericPayment{ExternalReference: "PAY-NO-AMOUNT"}.Body())
	h.Step(t)
	require.Equal(t, domain.EventStatusFailed, h.Event(t, ev.ID).Status)

	out, err := run(t, h, "--operator", "ops-cli", "events", "resubmit", ev.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "now received")
	assert.Equal(t, domain.EventStatusReceived, h.Event(t, ev.ID).Status)
}

func TestStats(t *testing.T) {
	h := pipeline.New(t)
	h.Submit(t, h.School.Generic.ID, fixtures.GenericPayment{
		ExternalReference: "PAY-STATS",
		Amount:            fixtures.InvoiceAmountText,
		BillReference:     fixtures.BillingRef,
	}.Body())
	h.Drain(t, 10)

	out, err := run(t, h, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "processed:")
	assert.Contains(t, out, "45000.00")
}
