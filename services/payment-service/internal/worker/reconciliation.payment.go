// services/payment-service/internal/worker/reconciliation.payment.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

/*
A charge can leave PROCESSING only through the processor's answer. If the process dies
between the processor call and the store write, or the webhook never arrives, the record
stays PROCESSING while the money may already have moved.

Every interval the Reconciler picks records not updated for longer than the grace period
and lets the orchestrator ask the processor what really happened.
*/

// Defaults for the sweep.
const (
	DefaultInterval = 5 * time.Minute
	DefaultGrace    = 5 * time.Minute
	DefaultBatch    = 50
	DefaultWorkers  = 5
)

// StuckLister is the part of the store the sweep reads.
type StuckLister interface {
	ListStuckTransactions(ctx context.Context, olderThan time.Duration, limit int) ([]*payment.TransactionRecord, error)
}

// TransactionReconciler is satisfied by payment.PaymentService.
type TransactionReconciler interface {
	ReconcileTransaction(ctx context.Context, txID uuid.UUID) error
}

// Recorder is optional; metrics.Prometheus implements it.
type Recorder interface {
	IncReconciled(result string)
}

type Config struct {
	Interval time.Duration
	Grace    time.Duration
	Batch    int
	Workers  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.Batch <= 0 {
		c.Batch = DefaultBatch
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Summary describes one sweep.
type Summary struct {
	Examined int
	Resolved int
	Failed   int
}

type Reconciler struct {
	store    StuckLister
	service  TransactionReconciler
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

type Option func(*Reconciler)

func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.logger = l } }

func WithRecorder(rec Recorder) Option { return func(r *Reconciler) { r.recorder = rec } }

func NewReconciler(store StuckLister, service TransactionReconciler, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		service: service,
		cfg:     cfg.withDefaults(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs a sweep immediately and then every interval. It blocks until ctx ends.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.logger.Info("[Reconciler] worker started", zap.Duration("interval", r.cfg.Interval), zap.Duration("grace", r.cfg.Grace))
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("[Reconciler] sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("[Reconciler] context cancelled, stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep over at most Batch stuck records.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	stuck, err := r.store.ListStuckTransactions(ctx, r.cfg.Grace, r.cfg.Batch)
	if err != nil {
		return Summary{}, err
	}
	if len(stuck) == 0 {
		r.logger.Debug("[Reconciler] no stuck transactions")
		return Summary{}, nil
	}
	r.logger.Info("[Reconciler] reconciling stuck transactions", zap.Int("count", len(stuck)))

	jobs := make(chan uuid.UUID, len(stuck))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sum = Summary{Examined: len(stuck)}
	)
	for w := 0; w < min(r.cfg.Workers, len(stuck)); w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for txID := range jobs {
				err := r.reconcile(ctx, txID)
				mu.Lock()
				if err != nil {
					sum.Failed++
				} else {
					sum.Resolved++
				}
				mu.Unlock()
				if err != nil {
					r.logger.Warn("[Reconciler] transaction not reconciled",
						zap.Int("worker", id),
						zap.String("transaction_id", txID.String()),
						zap.Error(err),
					)
				}
			}
		}(w)
	}
	for _, tx := range stuck {
		jobs <- tx.ID
	}
	close(jobs)
	wg.Wait()

	r.logger.Info("[Reconciler] sweep completed",
		zap.Int("examined", sum.Examined),
		zap.Int("resolved", sum.Resolved),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (r *Reconciler) reconcile(ctx context.Context, txID uuid.UUID) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("reconcile panicked")
			r.logger.Error("[Reconciler] panic", zap.String("transaction_id", txID.String()), zap.Any("panic", p))
		}
		if r.recorder != nil {
			result := "resolved"
			if err != nil {
				result = "error"
			}
			r.recorder.IncReconciled(result)
		}
	}()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return r.service.ReconcileTransaction(ctx, txID)
}
