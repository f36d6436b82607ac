package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestQueueItem_RecordFailedAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("schedules_next_attempt_below_cap", func(t *testing.T) {
		item := &QueueItem{MatchStatus: MatchStatusUnmatched, MaxRetries: 3}
		escalated := item.RecordFailedAttempt(now, time.Minute)

		assert.False(t, escalated)
		assert.Equal(t, 1, item.RetryCount)
		assert.Equal(t, now.Add(time.Minute), item.NextRetryAt)
		assert.Equal(t, MatchStatusUnmatched, item.MatchStatus)
	})

	t.Run("escalates_when_cap_reached", func(t *testing.T) {
		item := &QueueItem{MatchStatus: MatchStatusUnmatched, RetryCount: 2, MaxRetries: 3}
		escalated := item.RecordFailedAttempt(now, time.Minute)

		assert.True(t, escalated)
		assert.Equal(t, 3, item.RetryCount)
		assert.Equal(t, MatchStatusManualReview, item.MatchStatus)
		assert.False(t, item.IsClaimable())
	})
}

func TestQueueItem_IsClaimable(t *testing.T) {
	tests := []struct {
		status   MatchStatus
		expected bool
	}{
		{MatchStatusPending, true},
		{MatchStatusMatched, true},
		{MatchStatusPartialMatch, true},
		{MatchStatusUnmatched, true},
		{MatchStatusException, true},
		{MatchStatusManualReview, false},
		{MatchStatusProcessed, false},
		{MatchStatusIgnored, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			item := &QueueItem{MatchStatus: tt.status}
			assert.Equal(t, tt.expected, item.IsClaimable())
		})
	}
}

func TestQueueItem_AcceptsOperatorAction(t *testing.T) {
	assert.True(t, (&QueueItem{MatchStatus: MatchStatusManualReview}).AcceptsOperatorAction())
	assert.True(t, (&QueueItem{MatchStatus: MatchStatusMatched}).AcceptsOperatorAction())
	assert.False(t, (&QueueItem{MatchStatus: MatchStatusMatched, MatchLocked: true}).AcceptsOperatorAction())
	assert.False(t, (&QueueItem{MatchStatus: MatchStatusProcessed}).AcceptsOperatorAction())
	assert.False(t, (&QueueItem{MatchStatus: MatchStatusIgnored}).AcceptsOperatorAction())
}

func TestQueueItem_SetAndClearMatch(t *testing.T) {
	invoiceID := uuid.New()
	c := &MatchCandidate{StudentID: uuid.New(), FeeAccountID: uuid.New(), InvoiceID: &invoiceID}
	item := &QueueItem{}

	item.SetMatch(c)
	assert.Equal(t, c.StudentID, *item.StudentID)
	assert.Equal(t, c.FeeAccountID, *item.FeeAccountID)
	assert.Equal(t, invoiceID, *item.InvoiceID)

	item.MatchLocked = true
	item.ClearMatch()
	assert.Nil(t, item.StudentID)
	assert.Nil(t, item.InvoiceID)
	assert.False(t, item.MatchLocked)
}

func TestQueueItem_SetMatchWithoutFeeAccount(t *testing.T) {
	previous := uuid.New()
	item := &QueueItem{FeeAccountID: &previous}
	c := &MatchCandidate{StudentID: uuid.New()}

	item.SetMatch(c)
	assert.Equal(t, c.StudentID, *item.StudentID)
	assert.Nil(t, item.FeeAccountID)
}

func TestQueueItem_AppendNote(t *testing.T) {
	item := &QueueItem{}
	item.AppendNote("first")
	item.AppendNote("")
	item.AppendNote("second")
	assert.Equal(t, "first\nsecond", item.ProcessingNotes)
}
