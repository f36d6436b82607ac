package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentEvent_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     EventStatus
		to       EventStatus
		expected bool
	}{
		{"received_to_validated", EventStatusReceived, EventStatusValidated, true},
		{"received_to_failed", EventStatusReceived, EventStatusFailed, true},
		{"received_to_duplicate", EventStatusReceived, EventStatusDuplicate, true},
		{"validated_to_queued", EventStatusValidated, EventStatusQueued, true},
		{"queued_to_processed", EventStatusQueued, EventStatusProcessed, true},
		{"queued_to_ignored", EventStatusQueued, EventStatusIgnored, true},
		{"failed_back_to_received", EventStatusFailed, EventStatusReceived, true},
		{"received_cannot_skip_to_processed", EventStatusReceived, EventStatusProcessed, false},
		{"processed_is_final", EventStatusProcessed, EventStatusQueued, false},
		{"duplicate_is_inert", EventStatusDuplicate, EventStatusValidated, false},
		{"failed_cannot_be_queued", EventStatusFailed, EventStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &PaymentEvent{Status: tt.from}
			assert.Equal(t, tt.expected, ev.CanTransitionTo(tt.to))
		})
	}
}

func TestPaymentEvent_TransitionTo(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("terminal_transition_stamps_completion", func(t *testing.T) {
		ev := &PaymentEvent{Status: EventStatusQueued}
		require.NoError(t, ev.TransitionTo(EventStatusProcessed, now))
		assert.Equal(t, EventStatusProcessed, ev.Status)
		require.NotNil(t, ev.ProcessingCompletedAt)
		assert.Equal(t, now, *ev.ProcessingCompletedAt)
		assert.True(t, ev.IsTerminal())
	})

	t.Run("resubmission_clears_timestamps", func(t *testing.T) {
		ev := &PaymentEvent{Status: EventStatusFailed, ProcessingStartedAt: &now, ProcessingCompletedAt: &now}
		require.NoError(t, ev.TransitionTo(EventStatusReceived, now))
		assert.Nil(t, ev.ProcessingStartedAt)
		assert.Nil(t, ev.ProcessingCompletedAt)
	})

	t.Run("illegal_transition_is_rejected", func(t *testing.T) {
		ev := &PaymentEvent{Status: EventStatusProcessed}
		err := ev.TransitionTo(EventStatusQueued, now)
		require.Error(t, err)
		assert.True(t, IsDomainError(err, ErrorCodeEventInvalidState))
		assert.Equal(t, EventStatusProcessed, ev.Status)
	})
}

func TestPaymentEvent_ApplyNormalized(t *testing.T) {
	ev := &PaymentEvent{ValidationErrors: []ValidationIssue{{Field: "amount", Message: "required"}}}
	ev.ApplyNormalized(&NormalizedPayment{
		ExternalReference: "QKL3ABC123",
		Kind:              EventKindPayment,
		AmountMinor:       150000,
		Currency:          "KES",
		SenderPhone:       "+254712345678",
		SenderName:        "Jane Wanjiku",
	})

	assert.Equal(t, "QKL3ABC123", ev.ExternalReference)
	assert.Equal(t, int64(150000), ev.Amount())
	assert.Equal(t, "+254712345678", ev.SenderPhone)
	assert.Nil(t, ev.ValidationErrors)
	assert.NotNil(t, ev.NormalizedPayload)
}

func TestPaymentEvent_AmountUnknown(t *testing.T) {
	ev := &PaymentEvent{}
	assert.Equal(t, int64(0), ev.Amount())
}
