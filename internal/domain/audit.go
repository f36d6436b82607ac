package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntityType names the kind of record an audit entry describes
type AuditEntityType string

const (
	AuditEntityEvent      AuditEntityType = "payment_event"
	AuditEntityQueueItem  AuditEntityType = "queue_item"
	AuditEntityFeePayment AuditEntityType = "fee_payment"
)

// ActorSystem attributes automatic transitions
const ActorSystem = "system"

// AuditEntry is one immutable record of a state transition or operator action
type AuditEntry struct {
	CreatedAt  time.Time              `json:"created_at"`
	Details    map[string]interface{} `json:"details,omitempty"`
	EntityType AuditEntityType        `json:"entity_type"`
	Action     string                 `json:"action"`
	FromStatus string                 `json:"from_status,omitempty"`
	ToStatus   string                 `json:"to_status,omitempty"`
	Actor      string                 `json:"actor"`
	ID         uuid.UUID              `json:"id"`
	EntityID   uuid.UUID              `json:"entity_id"`
}

// NewAuditEntry builds an entry stamped with a fresh id
func NewAuditEntry(entityType AuditEntityType, entityID uuid.UUID, action, actor string, now time.Time) *AuditEntry {
	if actor == "" {
		actor = ActorSystem
	}
	return &AuditEntry{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		CreatedAt:  now,
	}
}

// Transition records the status change on the entry
func (a *AuditEntry) Transition(from, to string) *AuditEntry {
	a.FromStatus = from
	a.ToStatus = to
	return a
}

// With adds a detail field
func (a *AuditEntry) With(key string, value interface{}) *AuditEntry {
	if a.Details == nil {
		a.Details = make(map[string]interface{})
	}
	a.Details[key] = value
	return a
}

// Stats is an on-demand snapshot of pipeline state
type Stats struct {
	GeneratedAt    time.Time             `json:"generated_at"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	QueueByStatus  map[MatchStatus]int64 `json:"queue_by_status"`
	Providers      []ProviderTotal       `json:"providers"`
}

// ProviderTotal aggregates events and processed amounts per provider and currency
type ProviderTotal struct {
	Provider             Provider `json:"provider"`
	Currency             string   `json:"currency"`
	Events               int64    `json:"events"`
	Processed            int64    `json:"processed"`
	ProcessedAmountMinor int64    `json:"processed_amount_minor"`
}
