package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

// AuditRepository implements ports.AuditRepository. The audit_log table
// rejects UPDATE and DELETE with a trigger.
type AuditRepository struct {
	db DBTX
}

func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	details, err := jsonOrNull(entry.Details, len(entry.Details) == 0)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, from_status, to_status, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.EntityType), entry.EntityID, entry.Action,
		entry.FromStatus, entry.ToStatus, entry.Actor, details, entry.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("append audit entry: %w", err))
	}
	return nil
}

// ListByEntity returns the entity's history in append order
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, entity_type, entity_id, action, from_status, to_status, actor, details, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq`, string(entityType), entityID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list audit entries: %w", err))
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e          domain.AuditEntry
			entityType string
			details    []byte
		)
		if err := row.Scan(&e.ID, &entityType, &e.EntityID, &e.Action, &e.FromStatus, &e.ToStatus,
			&e.Actor, &details, &e.CreatedAt); err != nil {
			return e, err
		}
		e.EntityType = domain.AuditEntityType(entityType)
		e.CreatedAt = e.CreatedAt.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return e, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}
	return entries, nil
}
