package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signal names recorded in match detail
const (
	SignalReference     = "reference"
	SignalPhone         = "phone"
	SignalName          = "name"
	SignalExactAmount   = "exact_amount"
	SignalPartialAmount = "partial_amount"
)

// SignalHit is one signal that fired for a candidate
type SignalHit struct {
	Name     string  `json:"name"`
	Evidence string  `json:"evidence"`
	Weight   float64 `json:"weight"`
	Fraction float64 `json:"fraction"`
	Points   float64 `json:"points"`
}

// MatchCandidate is a scored association between an event and a fee account,
// optionally narrowed to one invoice. It is recomputed on every attempt.
type MatchCandidate struct {
	InvoiceID        *uuid.UUID  `json:"invoice_id,omitempty"`
	DueDate          *time.Time  `json:"due_date,omitempty"`
	BillingReference string      `json:"billing_reference,omitempty"`
	StudentName      string      `json:"student_name"`
	AccountNumber    string      `json:"account_number"`
	Currency         string      `json:"currency"`
	Signals          []SignalHit `json:"signals"`
	Score            float64     `json:"score"`
	BalanceMinor     int64       `json:"balance_minor"`
	StudentID        uuid.UUID   `json:"student_id"`
	FeeAccountID     uuid.UUID   `json:"fee_account_id"`
}

// Fired reports whether the named signal contributed to the score
func (c *MatchCandidate) Fired(signal string) bool {
	for _, s := range c.Signals {
		if s.Name == signal {
			return true
		}
	}
	return false
}

// MatchWeights are the signal weights in force for an attempt (sum to 100)
type MatchWeights struct {
	Reference     float64 `json:"reference"`
	Phone         float64 `json:"phone"`
	Name          float64 `json:"name"`
	ExactAmount   float64 `json:"exact_amount"`
	PartialAmount float64 `json:"partial_amount"`
}

// Total returns the sum of all weights
func (w MatchWeights) Total() float64 {
	return w.Reference + w.Phone + w.Name + w.ExactAmount + w.PartialAmount
}

// MatchThresholds are the confidence bands in force for an attempt
type MatchThresholds struct {
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	AmbiguityMargin float64 `json:"ambiguity_margin"`
}

// MatchDetail is the persisted explanation of one matching attempt
type MatchDetail struct {
	EvaluatedAt time.Time        `json:"evaluated_at"`
	Outcome     MatchStatus      `json:"outcome"`
	Reason      string           `json:"reason"`
	Candidates  []MatchCandidate `json:"candidates"`
	Weights     MatchWeights     `json:"weights"`
	Thresholds  MatchThresholds  `json:"thresholds"`
	Attempt     int              `json:"attempt"`
}

// Best returns the top-ranked candidate, if any
func (d *MatchDetail) Best() *MatchCandidate {
	if d == nil || len(d.Candidates) == 0 {
		return nil
	}
	return &d.Candidates[0]
}
