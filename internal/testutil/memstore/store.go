// Package memstore is an in-memory ports.Store for service and handler tests.
// Transactions are serialized on one mutex and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
)

type state struct {
	events       map[uuid.UUID]domain.PaymentEvent
	eventOrder   []uuid.UUID
	queue        map[uuid.UUID]domain.QueueItem
	queueOrder   []uuid.UUID
	payments     []domain.FeePayment
	accounts     map[uuid.UUID]domain.FeeAccount
	invoices     map[uuid.UUID]domain.Invoice
	integrations map[uuid.UUID]domain.Integration
	students     map[uuid.UUID]domain.Student
	guardians    []domain.Guardian
	audit        []domain.AuditEntry
}

func newState() *state {
	return &state{
		events:       make(map[uuid.UUID]domain.PaymentEvent),
		queue:        make(map[uuid.UUID]domain.QueueItem),
		accounts:     make(map[uuid.UUID]domain.FeeAccount),
		invoices:     make(map[uuid.UUID]domain.Invoice),
		integrations: make(map[uuid.UUID]domain.Integration),
		students:     make(map[uuid.UUID]domain.Student),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.events {
		c.events[k] = v
	}
	c.eventOrder = append([]uuid.UUID(nil), s.eventOrder...)
	for k, v := range s.queue {
		c.queue[k] = v
	}
	c.queueOrder = append([]uuid.UUID(nil), s.queueOrder...)
	c.payments = append([]domain.FeePayment(nil), s.payments...)
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	for k, v := range s.integrations {
		c.integrations[k] = v
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	c.guardians = append([]domain.Guardian(nil), s.guardians...)
	c.audit = append([]domain.AuditEntry(nil), s.audit...)
	return c
}

func copyInvoice(inv domain.Invoice) domain.Invoice {
	inv.Installments = append([]domain.Installment(nil), inv.Installments...)
	return inv
}

// Store implements ports.Store in memory
type Store struct {
	mu   *sync.Mutex
	data *state
	// injected faults survive rollback
	ledgerConflicts *int
	inTx            bool
}

var _ ports.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newState(), ledgerConflicts: new(int)}
}

// lock guards a single call outside a transaction; inside one the
// transaction already holds the mutex
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Events() ports.EventRepository { return eventRepo{s} }
func (s *Store) Queue() ports.QueueRepository { return queueRepo{s} }
func (s *Store) Ledger() ports.LedgerRepository { return ledgerRepo{s} }
func (s *Store) Directory() ports.DirectoryRepository { return directoryRepo{s} }
func (s *Store) Audit() ports.AuditRepository { return auditRepo{s} }
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// InTx runs fn holding the store mutex. Any error restores the state seen
// on entry. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, ledgerConflicts: s.ledgerConflicts, inTx: true}

	defer func() {
		if p := recover(); p != nil {
			*s.data = *snapshot
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

// InjectLedgerConflicts makes the next n LockFeeAccount calls fail with
// ErrApplicationConflict, as a serialization failure would
func (s *Store) InjectLedgerConflicts(n int) {
	defer s.lock()()
	*s.ledgerConflicts = n
}

// AddIntegration seeds a provider integration
func (s *Store) AddIntegration(integ domain.Integration) {
	defer s.lock()()
	s.data.integrations[integ.ID] = integ
}

// AddStudent seeds a student with guardians, fee account and open invoices
func (s *Store) AddStudent(rec domain.StudentRecord) {
	defer s.lock()()
	s.data.students[rec.Student.ID] = rec.Student
	if rec.FeeAccount.ID != uuid.Nil {
		s.data.accounts[rec.FeeAccount.ID] = rec.FeeAccount
	}
	s.data.guardians = append(s.data.guardians, rec.Guardians...)
	for _, inv := range rec.OpenInvoices {
		s.data.invoices[inv.ID] = copyInvoice(inv)
	}
}

// Payments returns every ledger payment in insertion order
func (s *Store) Payments() []domain.FeePayment {
	defer s.lock()()
	return append([]domain.FeePayment(nil), s.data.payments...)
}

// AuditEntries returns the whole audit trail in append order
func (s *Store) AuditEntries() []domain.AuditEntry {
	defer s.lock()()
	return append([]domain.AuditEntry(nil), s.data.audit...)
}

// AllEvents returns every event in insertion order
func (s *Store) AllEvents() []domain.PaymentEvent {
	defer s.lock()()
	out := make([]domain.PaymentEvent, 0, len(s.data.eventOrder))
	for _, id := range s.data.eventOrder {
		out = append(out, s.data.events[id])
	}
	return out
}
