// services/payment-service/internal/store/memory/store.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// Store is an in-process payment.Store for tests and local runs.
// It keeps deep copies so callers never share memory with stored rows.
type Store struct {
	mu           sync.RWMutex
	payments     map[uuid.UUID]*payment.Payment
	transactions map[uuid.UUID]*payment.TransactionRecord
	byRef        map[string]uuid.UUID
	order        []uuid.UUID // transaction insertion order
	now          func() time.Time
}

var _ payment.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		payments:     make(map[uuid.UUID]*payment.Payment),
		transactions: make(map[uuid.UUID]*payment.TransactionRecord),
		byRef:        make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

// WithClock sets the clock used by ListStuckTransactions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	p.Version = 1
	s.payments[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

func (s *Store) SavePayment(ctx context.Context, p *payment.Payment, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPayment(p.ID, expectedVersion); err != nil {
		return err
	}
	s.putPayment(p, expectedVersion)
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (s *Store) GetTransactionByExternalRef(ctx context.Context, ref string) (*payment.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return s.transactions[id].Clone(), nil
}

func (s *Store) ListTransactions(ctx context.Context, paymentID uuid.UUID) ([]*payment.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payment.TransactionRecord
	for _, id := range s.order {
		if tx := s.transactions[id]; tx.PaymentID == paymentID {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx *payment.TransactionRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTransaction(tx.ID, expectedVersion); err != nil {
		return err
	}
	s.putTransaction(tx, expectedVersion)
	return nil
}

func (s *Store) ListStuckTransactions(ctx context.Context, olderThan time.Duration, limit int) ([]*payment.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-olderThan)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payment.TransactionRecord
	for _, id := range s.order {
		if tx := s.transactions[id]; !tx.IsTerminal() && tx.UpdatedAt.Before(cutoff) {
			out = append(out, tx.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) BeginTransaction(ctx context.Context, p *payment.Payment, expectedVersion int64, tx *payment.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPayment(p.ID, expectedVersion); err != nil {
		return err
	}
	if _, ok := s.transactions[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	s.putPayment(p, expectedVersion)
	s.putTransaction(tx, 0)
	s.order = append(s.order, tx.ID)
	return nil
}

func (s *Store) SaveOutcome(ctx context.Context, p *payment.Payment, paymentVersion int64, tx *payment.TransactionRecord, txVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPayment(p.ID, paymentVersion); err != nil {
		return err
	}
	if err := s.checkTransaction(tx.ID, txVersion); err != nil {
		return err
	}
	s.putPayment(p, paymentVersion)
	s.putTransaction(tx, txVersion)
	return nil
}

func (s *Store) checkPayment(id uuid.UUID, expected int64) error {
	cur, ok := s.payments[id]
	if !ok {
		return payment.ErrPaymentNotFound
	}
	if cur.Version != expected {
		return fmt.Errorf("%w: payment %s is at version %d, expected %d", payment.ErrVersionConflict, id, cur.Version, expected)
	}
	return nil
}

func (s *Store) checkTransaction(id uuid.UUID, expected int64) error {
	cur, ok := s.transactions[id]
	if !ok {
		return payment.ErrTransactionNotFound
	}
	if cur.Version != expected {
		return fmt.Errorf("%w: transaction %s is at version %d, expected %d", payment.ErrVersionConflict, id, cur.Version, expected)
	}
	return nil
}

// putPayment and putTransaction must be called with the write lock held.
func (s *Store) putPayment(p *payment.Payment, expected int64) {
	p.Version = expected + 1
	s.payments[p.ID] = p.Clone()
}

func (s *Store) putTransaction(tx *payment.TransactionRecord, expected int64) {
	tx.Version = expected + 1
	s.transactions[tx.ID] = tx.Clone()
	if tx.ExternalRef != "" {
		s.byRef[tx.ExternalRef] = tx.ID
	}
}
