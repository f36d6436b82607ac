package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ports.Store on PostgreSQL. The root Store runs each
// repository call on the pool; a Store handed to an InTx callback runs
// everything on that transaction.
type Store struct {
	pool   *pgxpool.Pool
	db     DBTX
	tx     pgx.Tx
	logger *zap.Logger
}

var _ ports.Store = (*Store)(nil)

// NewStore creates a store on an open pool
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, db: pool, logger: logger}
}

func (s *Store) Events() ports.EventRepository       { return &EventRepository{db: s.db} }
func (s *Store) Queue() ports.QueueRepository        { return &QueueRepository{db: s.db} }
func (s *Store) Ledger() ports.LedgerRepository      { return &LedgerRepository{db: s.db} }
func (s *Store) Directory() ports.DirectoryRepository { return &DirectoryRepository{db: s.db} }
func (s *Store) Audit() ports.AuditRepository        { return &AuditRepository{db: s.db} }

// Ping checks the pool can reach the server
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx executes fn within a read-committed transaction. Row locks taken
// through the GetForUpdate and Lock* methods are held until fn returns.
// Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}

	// Ensure rollback on panic or error
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p) // Re-throw panic after rollback
		}
	}()

	txStore := &Store{pool: s.pool, db: tx, tx: tx, logger: s.logger}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Error("Failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err),
			)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}
