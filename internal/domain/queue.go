package domain

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the state of a ProcessingQueueItem
type MatchStatus string

const (
	MatchStatusPending      MatchStatus = "pending"
	MatchStatusMatched      MatchStatus = "matched"
	MatchStatusPartialMatch MatchStatus = "partial_match"
	MatchStatusUnmatched    MatchStatus = "unmatched"
	MatchStatusException    MatchStatus = "exception"
	MatchStatusManualReview MatchStatus = "manual_review"
	MatchStatusProcessed    MatchStatus = "processed"
	MatchStatusIgnored      MatchStatus = "ignored"
)

// ClaimableStatuses are picked up by the retry scheduler once next_retry_at passes
var ClaimableStatuses = []MatchStatus{
	MatchStatusPending,
	MatchStatusMatched,
	MatchStatusPartialMatch,
	MatchStatusUnmatched,
	MatchStatusException,
}

// ReviewStatuses are surfaced to operators
var ReviewStatuses = []MatchStatus{
	MatchStatusException,
	MatchStatusManualReview,
	MatchStatusUnmatched,
	MatchStatusPartialMatch,
}

// Priority orders the review queue; exceptions jump ahead
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 10
)

// QueueAction is an operator decision on a queue item
type QueueAction string

const (
	ActionConfirm QueueAction = "confirm"
	ActionIgnore  QueueAction = "ignore"
	ActionRequeue QueueAction = "requeue"
)

// IsValid reports whether a is a known operator action
func (a QueueAction) IsValid() bool {
	return a == ActionConfirm || a == ActionIgnore || a == ActionRequeue
}

// QueueItem is one attempt to resolve a validated event to a fee account.
// Exactly one item exists per queued event.
type QueueItem struct {
	NextRetryAt     time.Time    `json:"next_retry_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
	ActionAt        *time.Time   `json:"action_at,omitempty"`
	BankAccountID   *uuid.UUID   `json:"bank_account_id,omitempty"`
	StudentID       *uuid.UUID   `json:"student_id,omitempty"`
	FeeAccountID    *uuid.UUID   `json:"fee_account_id,omitempty"`
	InvoiceID       *uuid.UUID   `json:"invoice_id,omitempty"`
	MatchDetail     *MatchDetail `json:"match_detail,omitempty"`
	MatchStatus     MatchStatus  `json:"match_status"`
	ProcessingNotes string       `json:"processing_notes,omitempty"`
	ActionTaken     QueueAction  `json:"action_taken,omitempty"`
	ActionBy        string       `json:"action_by,omitempty"`
	MatchConfidence float64      `json:"match_confidence"`
	RetryCount      int          `json:"retry_count"`
	MaxRetries      int          `json:"max_retries"`
	Priority        Priority     `json:"priority"`
	ID              uuid.UUID    `json:"id"`
	EventID         uuid.UUID    `json:"event_id"`
	InstitutionID   uuid.UUID    `json:"institution_id"`
	IntegrationID   uuid.UUID    `json:"integration_id"`
	MatchLocked     bool         `json:"match_locked"`
}

// IsClaimable returns true if the scheduler may work on the item
func (q *QueueItem) IsClaimable() bool {
	for _, s := range ClaimableStatuses {
		if q.MatchStatus == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true once the item is processed or ignored
func (q *QueueItem) IsTerminal() bool {
	return q.MatchStatus == MatchStatusProcessed || q.MatchStatus == MatchStatusIgnored
}

// AcceptsOperatorAction returns true if an operator may act on the item.
// Items mid-application (matched and locked) are left to the applier.
func (q *QueueItem) AcceptsOperatorAction() bool {
	if q.IsTerminal() {
		return false
	}
	return !(q.MatchStatus == MatchStatusMatched && q.MatchLocked)
}

// RetriesExhausted reports whether automatic retrying must stop
func (q *QueueItem) RetriesExhausted() bool {
	return q.RetryCount >= q.MaxRetries
}

// RecordFailedAttempt counts one unsuccessful attempt and either schedules the
// next one after delay or escalates to manual review. It returns true on escalation.
func (q *QueueItem) RecordFailedAttempt(now time.Time, delay time.Duration) bool {
	q.RetryCount++
	q.UpdatedAt = now
	if q.RetriesExhausted() {
		q.MatchStatus = MatchStatusManualReview
		return true
	}
	q.NextRetryAt = now.Add(delay)
	return false
}

// SetMatch records the chosen candidate on the item
func (q *QueueItem) SetMatch(c *MatchCandidate) {
	studentID := c.StudentID
	q.StudentID = &studentID
	q.FeeAccountID = nil
	if c.FeeAccountID != uuid.Nil {
		feeAccountID := c.FeeAccountID
		q.FeeAccountID = &feeAccountID
	}
	q.InvoiceID = nil
	if c.InvoiceID != nil {
		invoiceID := *c.InvoiceID
		q.InvoiceID = &invoiceID
	}
}

// ClearMatch drops any candidate and unlocks the item
func (q *QueueItem) ClearMatch() {
	q.StudentID = nil
	q.FeeAccountID = nil
	q.InvoiceID = nil
	q.MatchLocked = false
}

// AppendNote adds a line to the free-text processing notes
func (q *QueueItem) AppendNote(note string) {
	if note == "" {
		return
	}
	if q.ProcessingNotes == "" {
		q.ProcessingNotes = note
		return
	}
	q.ProcessingNotes += "\n" + note
}

// ReviewFilter narrows the operator review list
type ReviewFilter struct {
	InstitutionID *uuid.UUID
	Statuses      []MatchStatus
	Limit         int
	Offset        int
}
