package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

const queueColumns = `id, event_id, institution_id, integration_id, bank_account_id,
	student_id, fee_account_id, invoice_id, match_status, match_confidence, match_detail,
	match_locked, retry_count, max_retries, next_retry_at, priority, processing_notes,
	action_taken, action_by, action_at, processed_at, created_at, updated_at`

// QueueRepository implements ports.QueueRepository
type QueueRepository struct {
	db DBTX
}

func (r *QueueRepository) Create(ctx context.Context, item *domain.QueueItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	args, err := queueArgs(item)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO processing_queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		args...)
	if err != nil {
		return mapError(fmt.Errorf("insert queue item: %w", err))
	}
	return nil
}

func (r *QueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	item, err := scanQueueItem(r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM processing_queue WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrQueueItemNotFound)
	}
	return item, nil
}

func (r *QueueRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	item, err := scanQueueItem(r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM processing_queue WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrQueueItemNotFound)
	}
	return item, nil
}

func (r *QueueRepository) GetByEvent(ctx context.Context, eventID uuid.UUID) (*domain.QueueItem, error) {
	item, err := scanQueueItem(r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM processing_queue WHERE event_id = $1`, eventID))
	if err != nil {
		return nil, notFound(err, domain.ErrQueueItemNotFound)
	}
	return item, nil
}

// ClaimDue pushes next_retry_at forward by the lease on up to limit due
// items, highest priority first. A worker that dies mid-attempt releases
// its items when the lease lapses.
func (r *QueueRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE processing_queue SET next_retry_at = $2
		WHERE id IN (
			SELECT id FROM processing_queue
			WHERE match_status = ANY($3) AND next_retry_at <= $1
			ORDER BY priority DESC, next_retry_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		now, now.Add(lease), statusStrings(domain.ClaimableStatuses), limit)
	if err != nil {
		return nil, mapError(fmt.Errorf("claim due queue items: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, mapError(fmt.Errorf("claim due queue items: %w", err))
	}
	return ids, nil
}

func (r *QueueRepository) Update(ctx context.Context, item *domain.QueueItem) error {
	detail, err := jsonOrNull(item.MatchDetail, item.MatchDetail == nil)
	if err != nil {
		return err
	}
	confidence, err := confidenceToNumeric(item.MatchConfidence)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE processing_queue SET
			bank_account_id = $2, student_id = $3, fee_account_id = $4, invoice_id = $5,
			match_status = $6, match_confidence = $7, match_detail = $8, match_locked = $9,
			retry_count = $10, max_retries = $11, next_retry_at = $12, priority = $13,
			processing_notes = $14, action_taken = $15, action_by = $16, action_at = $17,
			processed_at = $18, updated_at = $19
		WHERE id = $1`,
		item.ID, nullUUID(item.BankAccountID), nullUUID(item.StudentID), nullUUID(item.FeeAccountID), nullUUID(item.InvoiceID),
		string(item.MatchStatus), confidence, detail, item.MatchLocked,
		item.RetryCount, item.MaxRetries, item.NextRetryAt, int(item.Priority),
		item.ProcessingNotes, string(item.ActionTaken), item.ActionBy, nullTime(item.ActionAt),
		nullTime(item.ProcessedAt), item.UpdatedAt)
	if err != nil {
		return mapError(fmt.Errorf("update queue item: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQueueItemNotFound
	}
	return nil
}

// ListReview returns reviewable items, exceptions and other high-priority
// items first, then oldest first
func (r *QueueRepository) ListReview(ctx context.Context, filter domain.ReviewFilter) ([]*domain.QueueItem, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = domain.ReviewStatuses
	}
	limit := pgtype.Int4{}
	if filter.Limit > 0 {
		limit = pgtype.Int4{Int32: int32(filter.Limit), Valid: true}
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+queueColumns+` FROM processing_queue
		WHERE match_status = ANY($1) AND ($2::uuid IS NULL OR institution_id = $2)
		ORDER BY priority DESC, created_at, id
		LIMIT $3 OFFSET $4`,
		statusStrings(statuses), nullUUID(filter.InstitutionID), limit, filter.Offset)
	if err != nil {
		return nil, mapError(fmt.Errorf("list review items: %w", err))
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.QueueItem, error) {
		return scanQueueItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan review items: %w", err)
	}
	return items, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context, institutionID *uuid.UUID) (map[domain.MatchStatus]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT match_status, COUNT(*) FROM processing_queue
		WHERE $1::uuid IS NULL OR institution_id = $1
		GROUP BY match_status`, nullUUID(institutionID))
	if err != nil {
		return nil, mapError(fmt.Errorf("count queue items: %w", err))
	}
	defer rows.Close()

	out := make(map[domain.MatchStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		out[domain.MatchStatus(status)] = n
	}
	return out, rows.Err()
}

func queueArgs(item *domain.QueueItem) ([]any, error) {
	detail, err := jsonOrNull(item.MatchDetail, item.MatchDetail == nil)
	if err != nil {
		return nil, err
	}
	confidence, err := confidenceToNumeric(item.MatchConfidence)
	if err != nil {
		return nil, err
	}
	return []any{
		item.ID, item.EventID, item.InstitutionID, item.IntegrationID, nullUUID(item.BankAccountID),
		nullUUID(item.StudentID), nullUUID(item.FeeAccountID), nullUUID(item.InvoiceID),
		string(item.MatchStatus), confidence, detail,
		item.MatchLocked, item.RetryCount, item.MaxRetries, item.NextRetryAt, int(item.Priority), item.ProcessingNotes,
		string(item.ActionTaken), item.ActionBy, nullTime(item.ActionAt), nullTime(item.ProcessedAt),
		item.CreatedAt, item.UpdatedAt,
	}, nil
}

func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var (
		item                                   domain.QueueItem
		bankAccountID, studentID, feeAccountID pgtype.UUID
		invoiceID                              pgtype.UUID
		status, actionTaken                    string
		confidence                             pgtype.Numeric
		detail                                 []byte
		priority                               int
		actionAt, processedAt                  pgtype.Timestamptz
	)
	err := row.Scan(
		&item.ID, &item.EventID, &item.InstitutionID, &item.IntegrationID, &bankAccountID,
		&studentID, &feeAccountID, &invoiceID, &status, &confidence, &detail,
		&item.MatchLocked, &item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &priority, &item.ProcessingNotes,
		&actionTaken, &item.ActionBy, &actionAt, &processedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.BankAccountID = uuidPtr(bankAccountID)
	item.StudentID = uuidPtr(studentID)
	item.FeeAccountID = uuidPtr(feeAccountID)
	item.InvoiceID = uuidPtr(invoiceID)
	item.MatchStatus = domain.MatchStatus(status)
	item.ActionTaken = domain.QueueAction(actionTaken)
	item.Priority = domain.Priority(priority)
	item.ActionAt = timePtr(actionAt)
	item.ProcessedAt = timePtr(processedAt)
	item.NextRetryAt = item.NextRetryAt.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()

	score, err := pgNumericToDecimal(confidence)
	if err != nil {
		return nil, fmt.Errorf("convert confidence: %w", err)
	}
	item.MatchConfidence = score.InexactFloat64()

	if len(detail) > 0 {
		item.MatchDetail = &domain.MatchDetail{}
		if err := json.Unmarshal(detail, item.MatchDetail); err != nil {
			return nil, fmt.Errorf("unmarshal match detail: %w", err)
		}
	}
	return &item, nil
}
