package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

const eventColumns = `id, integration_id, institution_id, provider, external_reference, kind,
	amount_minor, currency, sender_phone, sender_name, sender_account, bank_reference, source_ip,
	raw_payload, normalized_payload, validation_errors, duplicate_of, status,
	received_at, processing_started_at, processing_completed_at`

// Events that no longer hold their reference
const deadEventStatuses = `('duplicate', 'failed', 'ignored')`

// EventRepository implements ports.EventRepository
type EventRepository struct {
	db DBTX
}

// Create inserts ev. A conflict on the live-reference index means another
// event already holds the reference, and nothing is written.
func (r *EventRepository) Create(ctx context.Context, ev *domain.PaymentEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	args, err := eventArgs(ev)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO payment_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (integration_id, external_reference) WHERE status NOT IN `+deadEventStatuses+`
		DO NOTHING`, args...)
	if err != nil {
		return false, mapError(fmt.Errorf("insert payment event: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EventRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error) {
	ev, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrEventNotFound)
	}
	return ev, nil
}

func (r *EventRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error) {
	ev, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrEventNotFound)
	}
	return ev, nil
}

func (r *EventRepository) FindEarlier(ctx context.Context, ev *domain.PaymentEvent) (*domain.PaymentEvent, error) {
	earlier, err := scanEvent(r.db.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM payment_events
		WHERE integration_id = $1 AND external_reference = $2 AND id <> $3
		  AND status NOT IN `+deadEventStatuses+`
		  AND (received_at < $4 OR (received_at = $4 AND id::text < $3::text))
		ORDER BY received_at, id
		LIMIT 1`,
		ev.IntegrationID, ev.ExternalReference, ev.ID, ev.ReceivedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(fmt.Errorf("find earlier event: %w", err))
	}
	return earlier, nil
}

func (r *EventRepository) FindLive(ctx context.Context, integrationID uuid.UUID, externalReference string) (*domain.PaymentEvent, error) {
	ev, err := scanEvent(r.db.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM payment_events
		WHERE integration_id = $1 AND external_reference = $2 AND status NOT IN `+deadEventStatuses+`
		ORDER BY received_at, id
		LIMIT 1`, integrationID, externalReference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(fmt.Errorf("find live event: %w", err))
	}
	return ev, nil
}

// ClaimReceived stamps processing_started_at on up to limit received events
// whose previous lease has lapsed. SKIP LOCKED keeps concurrent pollers apart.
func (r *EventRepository) ClaimReceived(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE payment_events SET processing_started_at = $1
		WHERE id IN (
			SELECT id FROM payment_events
			WHERE status = 'received'
			  AND (processing_started_at IS NULL OR processing_started_at <= $2)
			ORDER BY received_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`, now, now.Add(-lease), limit)
	if err != nil {
		return nil, mapError(fmt.Errorf("claim received events: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, mapError(fmt.Errorf("claim received events: %w", err))
	}
	return ids, nil
}

// Update rewrites the mutable columns. Moving an event back into the live
// set while another event holds its reference fails with ErrDuplicateEvent.
func (r *EventRepository) Update(ctx context.Context, ev *domain.PaymentEvent) error {
	normalized, err := jsonOrNull(ev.NormalizedPayload, ev.NormalizedPayload == nil)
	if err != nil {
		return err
	}
	issues, err := jsonOrNull(ev.ValidationErrors, len(ev.ValidationErrors) == 0)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_events SET
			external_reference = $2, kind = $3, amount_minor = $4, currency = $5,
			sender_phone = $6, sender_name = $7, sender_account = $8, bank_reference = $9,
			normalized_payload = $10, validation_errors = $11, duplicate_of = $12, status = $13,
			processing_started_at = $14, processing_completed_at = $15
		WHERE id = $1`,
		ev.ID, ev.ExternalReference, string(ev.Kind), ev.AmountMinor, ev.Currency,
		ev.SenderPhone, ev.SenderName, ev.SenderAccount, ev.BankReference,
		normalized, issues, nullUUID(ev.DuplicateOf), string(ev.Status),
		nullTime(ev.ProcessingStartedAt), nullTime(ev.ProcessingCompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrorCodeDuplicateEvent, "reference held by another live event", err)
		}
		return mapError(fmt.Errorf("update payment event: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r *EventRepository) CountByStatus(ctx context.Context, institutionID *uuid.UUID) (map[domain.EventStatus]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*) FROM payment_events
		WHERE $1::uuid IS NULL OR institution_id = $1
		GROUP BY status`, nullUUID(institutionID))
	if err != nil {
		return nil, mapError(fmt.Errorf("count events: %w", err))
	}
	defer rows.Close()

	out := make(map[domain.EventStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		out[domain.EventStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *EventRepository) ProviderTotals(ctx context.Context, institutionID *uuid.UUID) ([]domain.ProviderTotal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT provider, currency,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'processed'),
		       COALESCE(SUM(amount_minor) FILTER (WHERE status = 'processed'), 0)::bigint
		FROM payment_events
		WHERE $1::uuid IS NULL OR institution_id = $1
		GROUP BY provider, currency
		ORDER BY provider, currency`, nullUUID(institutionID))
	if err != nil {
		return nil, mapError(fmt.Errorf("provider totals: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProviderTotal, error) {
		var (
			t        domain.ProviderTotal
			provider string
		)
		err := row.Scan(&provider, &t.Currency, &t.Events, &t.Processed, &t.ProcessedAmountMinor)
		t.Provider = domain.Provider(provider)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan provider totals: %w", err)
	}
	return out, nil
}

func eventArgs(ev *domain.PaymentEvent) ([]any, error) {
	normalized, err := jsonOrNull(ev.NormalizedPayload, ev.NormalizedPayload == nil)
	if err != nil {
		return nil, err
	}
	issues, err := jsonOrNull(ev.ValidationErrors, len(ev.ValidationErrors) == 0)
	if err != nil {
		return nil, err
	}
	raw := ev.RawPayload
	if raw == nil {
		raw = []byte{}
	}
	return []any{
		ev.ID, ev.IntegrationID, ev.InstitutionID, string(ev.Provider), ev.ExternalReference, string(ev.Kind),
		ev.AmountMinor, ev.Currency, ev.SenderPhone, ev.SenderName, ev.SenderAccount, ev.BankReference, ev.SourceIP,
		raw, normalized, issues, nullUUID(ev.DuplicateOf), string(ev.Status),
		ev.ReceivedAt, nullTime(ev.ProcessingStartedAt), nullTime(ev.ProcessingCompletedAt),
	}, nil
}

func scanEvent(row pgx.Row) (*domain.PaymentEvent, error) {
	var (
		ev                     domain.PaymentEvent
		provider, kind, status string
		normalized, issues     []byte
		duplicateOf            pgtype.UUID
		startedAt, completedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&ev.ID, &ev.IntegrationID, &ev.InstitutionID, &provider, &ev.ExternalReference, &kind,
		&ev.AmountMinor, &ev.Currency, &ev.SenderPhone, &ev.SenderName, &ev.SenderAccount, &ev.BankReference, &ev.SourceIP,
		&ev.RawPayload, &normalized, &issues, &duplicateOf, &status,
		&ev.ReceivedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Provider = domain.Provider(provider)
	ev.Kind = domain.EventKind(kind)
	ev.Status = domain.EventStatus(status)
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	ev.DuplicateOf = uuidPtr(duplicateOf)
	ev.ProcessingStartedAt = timePtr(startedAt)
	ev.ProcessingCompletedAt = timePtr(completedAt)
	if len(normalized) > 0 {
		ev.NormalizedPayload = &domain.NormalizedPayment{}
		if err := json.Unmarshal(normalized, ev.NormalizedPayload); err != nil {
			return nil, fmt.Errorf("unmarshal normalized payload: %w", err)
		}
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &ev.ValidationErrors); err != nil {
			return nil, fmt.Errorf("unmarshal validation errors: %w", err)
		}
	}
	return &ev, nil
}
