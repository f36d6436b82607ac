package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	defer r.s.lock()()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.s.data.audit = append(r.s.data.audit, *entry)
	return nil
}

func (r auditRepo) ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID uuid.UUID) ([]domain.AuditEntry, error) {
	defer r.s.lock()()
	var out []domain.AuditEntry
	for _, e := range r.s.data.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
