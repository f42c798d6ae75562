// services/payment-service/internal/payment/Payment_Service.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultOperationTimeout bounds a whole use case, retries and backoff included.
const DefaultOperationTimeout = 60 * time.Second

// PaymentService orchestrates Payment Aggregates, Transaction Records and the Processor Adapter.
// It holds no per-payment state: every mutation goes through the store's version-checked writes,
// so several instances can run side by side.
type PaymentService struct {
	store     Store
	processor ProcessorAdapter
	policy    RetryPolicy
	events    EventPublisher
	metrics   Metrics
	dedupe    EventDeduper
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	opTimeout time.Duration

	// sf collapses concurrent customer creation for the same payer into one processor call.
	sf singleflight.Group
}

type Option func(*PaymentService)

func WithRetryPolicy(p RetryPolicy) Option { return func(s *PaymentService) { s.policy = p } }

func WithLogger(l *zap.Logger) Option { return func(s *PaymentService) { s.logger = l } }

func WithMetrics(m Metrics) Option { return func(s *PaymentService) { s.metrics = m } }

func WithEventPublisher(p EventPublisher) Option { return func(s *PaymentService) { s.events = p } }

func WithDeduper(d EventDeduper) Option { return func(s *PaymentService) { s.dedupe = d } }

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *PaymentService) { s.now = now } }

// WithSleeper overrides the backoff wait. It must return ctx.Err() when ctx ends first.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *PaymentService) { s.sleep = fn }
}

func WithOperationTimeout(d time.Duration) Option { return func(s *PaymentService) { s.opTimeout = d } }

func NewPaymentService(store Store, processor ProcessorAdapter, opts ...Option) (*PaymentService, error) {
	if store == nil || processor == nil {
		return nil, errors.New("payment service requires a store and a processor adapter")
	}
	s := &PaymentService{
		store:     store,
		processor: processor,
		policy:    DefaultRetryPolicy(),
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
		opTimeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.metrics = safeMetrics{inner: s.metrics, logger: s.logger}
	return s, nil
}

// CreatePaymentSpec is the input of CreatePayment.
type CreatePaymentSpec struct {
	TenantID   string
	PropertyID string
	UnitID     string
	Payer      CustomerProfile
	Kind       Kind
	Amount     int64 // minor units
	Currency   string
	Frequency  Frequency // ONE_TIME when empty
	DueDate    time.Time
	Metadata   map[string]string
}

func (c CreatePaymentSpec) validate() (Money, error) {
	if c.TenantID == "" || c.PropertyID == "" {
		return Money{}, fmt.Errorf("%w: tenant and property are required", ErrValidation)
	}
	if !c.Kind.Valid() {
		return Money{}, fmt.Errorf("%w: unknown payment kind %q", ErrValidation, c.Kind)
	}
	if c.Frequency != "" && !c.Frequency.Valid() {
		return Money{}, fmt.Errorf("%w: unknown frequency %q", ErrValidation, c.Frequency)
	}
	if c.DueDate.IsZero() {
		return Money{}, fmt.Errorf("%w: due date is required", ErrValidation)
	}
	if err := c.Payer.Validate(); err != nil {
		return Money{}, err
	}
	return NewMoney(c.Amount, c.Currency)
}

// CreatePayment validates the request, ensures a processor customer exists for the payer and
// persists the aggregate in PENDING.
func (s *PaymentService) CreatePayment(ctx context.Context, spec CreatePaymentSpec) (p *Payment, err error) {
	start := s.now()
	defer func() { s.observe("create_payment", p, nil, err, start) }()

	amount, err := spec.validate()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	customer, err := s.ensureCustomer(ctx, spec.Payer)
	if err != nil {
		return nil, err
	}

	freq := spec.Frequency
	if freq == "" {
		freq = FrequencyOneTime
	}
	now := s.now()
	p = &Payment{
		ID:                   uuid.New(),
		TenantID:             spec.TenantID,
		PropertyID:           spec.PropertyID,
		UnitID:               spec.UnitID,
		PayerID:              spec.Payer.PayerID,
		Kind:                 spec.Kind,
		Amount:               amount,
		Frequency:            freq,
		DueDate:              spec.DueDate.UTC(),
		Status:               StatusPending,
		ProcessorCustomerRef: string(customer),
		Metadata:             SanitizeMetadata(spec.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}
	return p.Clone(), nil
}

func (s *PaymentService) ensureCustomer(ctx context.Context, profile CustomerProfile) (CustomerRef, error) {
	// The shared call outlives any single waiter; it is bounded by the operation timeout instead.
	ch := s.sf.DoChan("customer_"+profile.PayerID, func() (interface{}, error) {
		callCtx, cancel := s.withDeadline(context.WithoutCancel(ctx))
		defer cancel()
		return s.processor.CreateCustomer(callCtx, profile)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: customer creation: %w", ErrOperationTimeout, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: customer creation: %w", ErrOperationTimeout, res.Err)
		}
		return "", processorFailure("customer creation failed", res.Err)
	}
	if res.Shared {
		s.logger.Debug("customer creation shared with a concurrent request", zap.String("payer_id", profile.PayerID))
	}
	return res.Val.(CustomerRef), nil
}

// ProcessPayment charges a PENDING aggregate. On a terminal failure the returned aggregate is
// FAILED and err says why (declined, unavailable after retries, invalid method).
func (s *PaymentService) ProcessPayment(ctx context.Context, paymentID uuid.UUID, method MethodSpec) (p *Payment, err error) {
	start := s.now()
	var tx *TransactionRecord
	defer func() { s.observe("process_payment", p, tx, err, start) }()

	if err = method.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	p, tx, err = s.beginTransaction(ctx, paymentID, TxCapture, func(cur *Payment) (Money, uuid.UUID, error) {
		if cur.Status != StatusPending {
			return Money{}, uuid.Nil, fmt.Errorf("%w: payment is %s, expected %s", ErrInvalidState, cur.Status, StatusPending)
		}
		return cur.Amount, uuid.Nil, nil
	})
	if err != nil {
		return nil, err
	}

	customer := CustomerRef(p.ProcessorCustomerRef)
	base := p.Clone()
	var methodRef MethodRef
	call := func(ctx context.Context, tx *TransactionRecord) (string, ChargeStatus, error) {
		// Attach once per use case; a failed attach is retried as part of the next attempt.
		if methodRef == "" {
			ref, err := s.processor.AttachPaymentMethod(ctx, customer, method)
			if err != nil {
				return "", "", err
			}
			methodRef = ref
		}
		res, err := s.processor.Charge(ctx, ChargeRequest{
			Amount:         tx.Amount,
			Customer:       customer,
			Method:         methodRef,
			IdempotencyKey: tx.IdempotencyKey(),
			Description:    fmt.Sprintf("%s payment for property %s", base.Kind, base.PropertyID),
			Metadata:       outboundMetadata(base, tx),
		})
		if err != nil {
			return "", "", err
		}
		return res.ExternalRef, res.Status, nil
	}
	p, tx, err = s.drive(ctx, p, tx, "payment failed", call)
	return p, err
}

// RefundPayment returns part or all of the captured amount. Several partial refunds may follow
// each other as long as the refundable balance allows.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID uuid.UUID, amount int64, reason RefundReason) (p *Payment, err error) {
	start := s.now()
	var tx *TransactionRecord
	defer func() { s.observe("refund_payment", p, tx, err, start) }()

	if reason == "" {
		reason = RefundRequestedByCustomer
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown refund reason %q", ErrValidation, reason)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be greater than zero", ErrValidation)
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	var capture *TransactionRecord
	p, tx, err = s.beginTransaction(ctx, paymentID, TxRefund, func(cur *Payment) (Money, uuid.UUID, error) {
		if cur.Status != StatusCaptured && cur.Status != StatusPartiallyRefunded {
			return Money{}, uuid.Nil, fmt.Errorf("%w: payment is %s, expected %s", ErrInvalidState, cur.Status, StatusCaptured)
		}
		if amount > cur.RefundableAmount() {
			return Money{}, uuid.Nil, fmt.Errorf("%w: refund %d exceeds refundable balance %d", ErrValidation, amount, cur.RefundableAmount())
		}
		c, err := s.captureRecord(ctx, cur.ID)
		if err != nil {
			return Money{}, uuid.Nil, err
		}
		capture = c
		return Money{Amount: amount, Currency: cur.Amount.Currency}, c.ID, nil
	})
	if err != nil {
		return nil, err
	}

	base := p.Clone()
	call := func(ctx context.Context, tx *TransactionRecord) (string, ChargeStatus, error) {
		res, err := s.processor.Refund(ctx, RefundRequest{
			ChargeRef:      capture.ExternalRef,
			Amount:         tx.Amount,
			Reason:         reason,
			IdempotencyKey: tx.IdempotencyKey(),
			Metadata:       outboundMetadata(base, tx),
		})
		if err != nil {
			return "", "", err
		}
		return res.ExternalRef, res.Status, nil
	}
	p, tx, err = s.drive(ctx, p, tx, "refund failed", call)
	return p, err
}

// GetPayment returns the caller view with its transactions.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*PaymentView, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	v := NewPaymentView(p, txs)
	return &v, nil
}

// ArchivePayment flags a settled aggregate. Nothing is ever deleted.
func (s *PaymentService) ArchivePayment(ctx context.Context, paymentID uuid.UUID) (p *Payment, err error) {
	start := s.now()
	defer func() { s.observe("archive_payment", p, nil, err, start) }()

	err = s.retryOnConflict("archive payment", func() error {
		cur, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := next.Archive(s.now()); err != nil {
			if errors.Is(err, ErrTransitionSatisfied) {
				p = cur
				return nil
			}
			return err
		}
		if err := s.store.SavePayment(ctx, next, cur.Version); err != nil {
			return err
		}
		p = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// beginTransaction claims the aggregate for a new PENDING record. The claim and the insert are
// one version-checked write, so of two concurrent callers only one gets past this point; the other
// re-reads, sees the claim and fails with ErrInvalidState without touching the processor.
func (s *PaymentService) beginTransaction(
	ctx context.Context,
	paymentID uuid.UUID,
	txType TransactionType,
	guard func(cur *Payment) (Money, uuid.UUID, error),
) (*Payment, *TransactionRecord, error) {
	var p *Payment
	var tx *TransactionRecord
	err := s.retryOnConflict("begin transaction", func() error {
		cur, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if cur.ArchivedAt != nil {
			return fmt.Errorf("%w: payment is archived", ErrInvalidState)
		}
		amount, parent, err := guard(cur)
		if err != nil {
			return err
		}
		if cur.HasInFlight() {
			return fmt.Errorf("%w: transaction %s is already in flight", ErrInvalidState, cur.InFlightTransactionID)
		}
		now := s.now()
		next := cur.Clone()
		t := NewTransactionRecord(cur.ID, txType, amount, s.policy.MaxRetries, now, ActorOrchestrator)
		t.ParentID = parent
		if err := next.Claim(t.ID, now); err != nil {
			return err
		}
		if err := s.store.BeginTransaction(ctx, next, cur.Version, t); err != nil {
			return err
		}
		p, tx = next, t
		return nil
	})
	return p, tx, err
}

func (s *PaymentService) captureRecord(ctx context.Context, paymentID uuid.UUID) (*TransactionRecord, error) {
	txs, err := s.store.ListTransactions(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	for _, tx := range txs {
		if tx.Type == TxCapture && tx.Status == TxCompleted {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("%w: payment has no completed capture", ErrInvalidState)
}

// processorCall dispatches one attempt and reports the processor reference and status.
type processorCall func(ctx context.Context, tx *TransactionRecord) (string, ChargeStatus, error)

// drive runs the Transaction Record state machine until the record is settled, waiting on the
// processor, or the deadline passes. Every step is persisted before the next one starts.
func (s *PaymentService) drive(ctx context.Context, p *Payment, tx *TransactionRecord, action string, call processorCall) (*Payment, *TransactionRecord, error) {
	// Outcomes of calls that already happened are saved even when ctx is done.
	persist := context.WithoutCancel(ctx)
	var lastErr error
	for {
		var err error
		prev := tx.Status
		switch tx.Status {
		case TxCompleted, TxReversed:
			return p, tx, nil

		case TxFailed:
			if !tx.CanRetry() {
				return p, tx, terminalError(action, tx, lastErr)
			}
			delay := s.policy.BackoffFor(tx.RetryCount + 1)
			s.logger.Info("scheduling payment retry",
				zap.String("transaction_id", tx.ID.String()),
				zap.Int("retry", tx.RetryCount+1),
				zap.Duration("backoff", delay),
				zap.String("error_code", tx.ErrorCode),
			)
			if err := s.sleep(ctx, delay); err != nil {
				return s.abandon(persist, p, tx, "deadline exceeded during retry backoff")
			}
			p, tx, err = s.apply(persist, p, tx, false, func(_ *Payment, t *TransactionRecord, now time.Time) error {
				return t.ScheduleRetry(now, ActorOrchestrator)
			})

		case TxPending, TxRetrying:
			if ctx.Err() != nil {
				if tx.Status == TxRetrying {
					return s.abandon(persist, p, tx, "deadline exceeded before retry dispatch")
				}
				return p, tx, fmt.Errorf("%w: deadline exceeded before dispatch", ErrOperationTimeout)
			}
			p, tx, err = s.apply(persist, p, tx, false, func(_ *Payment, t *TransactionRecord, now time.Time) error {
				return t.StartProcessing(now, ActorOrchestrator)
			})

		case TxProcessing:
			ref, status, callErr := call(ctx, tx)
			if callErr == nil && status == ChargeFailed {
				callErr = NewRejected(CodeCardDeclined, "processor reported the charge as failed", nil)
			}
			switch {
			case callErr == nil && status == ChargeProcessing:
				// Accepted but not settled; the webhook or the reconciler finishes it.
				p, tx, err = s.apply(persist, p, tx, false, recordRef(ref))
				if err == nil {
					return p, tx, nil
				}
			case callErr == nil:
				p, tx, err = s.apply(persist, p, tx, true, succeedOutcome(ref, ActorOrchestrator))
			case ctx.Err() != nil && IsRetryAbleError(callErr):
				// Outcome unknown. The record stays PROCESSING until the reconciler asks the processor.
				s.logger.Warn("processor call exceeded the operation deadline",
					zap.String("transaction_id", tx.ID.String()), zap.Error(callErr))
				return p, tx, fmt.Errorf("%w: processor call did not finish in time", ErrOperationTimeout)
			default:
				lastErr = callErr
				p, tx, err = s.apply(persist, p, tx, true,
					failOutcome(ErrorCode(callErr), callErr.Error(), IsRetryAbleError(callErr), ActorOrchestrator))
			}

		default:
			return p, tx, fmt.Errorf("%w: unknown transaction status %q", ErrInvalidTransition, tx.Status)
		}

		if err != nil {
			// Another actor moved the record; carry on from the fresh copy unless nothing changed.
			if !errors.Is(err, ErrInvalidTransition) || tx.Status == prev {
				return p, tx, err
			}
			s.logger.Info("transaction advanced concurrently",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("from", string(prev)),
				zap.String("to", string(tx.Status)),
			)
		}
	}
}

func (s *PaymentService) abandon(ctx context.Context, p *Payment, tx *TransactionRecord, reason string) (*Payment, *TransactionRecord, error) {
	p, tx, err := s.apply(ctx, p, tx, true, abandonOutcome(reason, ActorOrchestrator))
	if err != nil {
		s.logger.Error("failed to abandon transaction", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	}
	if tx.Status == TxCompleted {
		return p, tx, nil
	}
	return p, tx, fmt.Errorf("%w: %s", ErrOperationTimeout, reason)
}

// outcomeFunc mutates fresh copies of the aggregate and the record. Returning
// ErrTransitionSatisfied means there is nothing to write.
type outcomeFunc func(p *Payment, tx *TransactionRecord, now time.Time) error

// apply runs fn and saves the result with version checks, re-reading both rows after a conflict.
// On error the freshest known copies are returned.
func (s *PaymentService) apply(ctx context.Context, p *Payment, tx *TransactionRecord, withPayment bool, fn outcomeFunc) (*Payment, *TransactionRecord, error) {
	curP, curTx := p, tx
	reload := false
	err := s.retryOnConflict("save transaction outcome", func() error {
		if reload {
			t, err := s.store.GetTransaction(ctx, tx.ID)
			if err != nil {
				return err
			}
			pay, err := s.store.GetPayment(ctx, tx.PaymentID)
			if err != nil {
				return err
			}
			curP, curTx = pay, t
		}
		reload = true

		nextP, nextTx := curP.Clone(), curTx.Clone()
		now := s.now()
		if err := fn(nextP, nextTx, now); err != nil {
			if errors.Is(err, ErrTransitionSatisfied) {
				return nil
			}
			return err
		}
		var err error
		if withPayment {
			err = s.store.SaveOutcome(ctx, nextP, curP.Version, nextTx, curTx.Version)
		} else {
			err = s.store.SaveTransaction(ctx, nextTx, curTx.Version)
		}
		if err != nil {
			return err
		}
		s.publish(ctx, curP, nextP, curTx, nextTx, now)
		curP, curTx = nextP, nextTx
		return nil
	})
	return curP, curTx, err
}

// retryOnConflict is the optimistic-concurrency loop. Its budget is separate from payment retries.
func (s *PaymentService) retryOnConflict(op string, fn func() error) error {
	for i := 0; i < s.policy.ConflictRetries; i++ {
		err := fn()
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		s.logger.Debug("version conflict, retrying with a fresh read", zap.String("op", op), zap.Int("attempt", i+1))
	}
	return fmt.Errorf("%w: %s", ErrConcurrentModification, op)
}

func succeedOutcome(ref, actor string) outcomeFunc {
	return func(p *Payment, tx *TransactionRecord, now time.Time) error {
		if err := tx.Complete(ref, now, actor); err != nil {
			return err
		}
		return settle(p, tx, now)
	}
}

// confirmOutcome records a success reported from outside the orchestrator's own call.
func confirmOutcome(ref string, attempt int, actor string) outcomeFunc {
	return func(p *Payment, tx *TransactionRecord, now time.Time) error {
		if err := tx.ConfirmAttempt(attempt, ref, now, actor); err != nil {
			return err
		}
		return settle(p, tx, now)
	}
}

// settle applies a COMPLETED record to the aggregate and releases the claim.
func settle(p *Payment, tx *TransactionRecord, now time.Time) error {
	if tx.Type == TxRefund {
		if n := min(tx.Amount.Amount, p.RefundableAmount()); n > 0 {
			if err := p.ApplyRefund(n, now); err != nil {
				return err
			}
		}
	} else if tx.Type.MovesMoneyIn() && p.Status == StatusPending {
		if err := p.MarkCaptured(tx.Amount.Amount, now); err != nil {
			return err
		}
	}
	p.Release(tx.ID, now)
	return nil
}

func failOutcome(code, message string, retryable bool, actor string) outcomeFunc {
	return func(p *Payment, tx *TransactionRecord, now time.Time) error {
		if err := tx.Fail(code, message, retryable, now, actor); err != nil {
			return err
		}
		if !tx.CanRetry() {
			giveUp(p, tx, now)
		}
		return nil
	}
}

func abandonOutcome(reason, actor string) outcomeFunc {
	return func(p *Payment, tx *TransactionRecord, now time.Time) error {
		if err := tx.Abandon(reason, now, actor); err != nil {
			return err
		}
		giveUp(p, tx, now)
		return nil
	}
}

func recordRef(ref string) outcomeFunc {
	return func(_ *Payment, tx *TransactionRecord, now time.Time) error {
		if ref == "" || tx.ExternalRef == ref {
			return ErrTransitionSatisfied
		}
		tx.ExternalRef = ref
		tx.UpdatedAt = now
		return nil
	}
}

// giveUp applies a terminal record failure to the aggregate. A failed refund leaves the
// aggregate as it was.
func giveUp(p *Payment, tx *TransactionRecord, now time.Time) {
	if tx.Type.MovesMoneyIn() && p.Status == StatusPending && p.InFlightTransactionID == tx.ID {
		_ = p.MarkFailed(now)
	}
	p.Release(tx.ID, now)
}

// terminalError turns the last failure into one of the caller-facing categories.
func terminalError(action string, tx *TransactionRecord, lastErr error) error {
	if lastErr != nil {
		return processorFailure(action, lastErr)
	}
	if IsRetryableCode(tx.ErrorCode) {
		return processorFailure(action, NewUnavailable(tx.ErrorCode, tx.ErrorMessage, nil))
	}
	return processorFailure(action, NewRejected(tx.ErrorCode, tx.ErrorMessage, nil))
}

func processorFailure(action string, err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrProcessorRejected), errors.Is(err, ErrProcessorUnavailable):
		return fmt.Errorf("%s: %w", action, err)
	case IsRetryAbleError(err):
		return fmt.Errorf("%s: %w: %w", action, ErrProcessorUnavailable, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func outboundMetadata(p *Payment, tx *TransactionRecord) map[string]string {
	m := make(map[string]string, len(p.Metadata)+5)
	for k, v := range p.Metadata {
		m[k] = v
	}
	m[MetaTransactionID] = tx.ID.String()
	m[MetaPaymentID] = p.ID.String()
	m[MetaTenantID] = p.TenantID
	m[MetaKind] = string(p.Kind)
	m[MetaAttempt] = fmt.Sprint(tx.AttemptNumber())
	return m
}

func (s *PaymentService) publish(ctx context.Context, beforeP, afterP *Payment, beforeTx, afterTx *TransactionRecord, now time.Time) {
	if s.events == nil {
		return
	}
	returned := (afterTx.Type == TxRefund || afterTx.Type == TxChargeback) &&
		afterTx.Status == TxCompleted && beforeTx.Status != TxCompleted
	reinstated := afterTx.Status == TxReversed && beforeTx.Status != TxReversed
	if beforeP.Status == afterP.Status && !returned && !reinstated {
		return
	}
	ev := newDomainEvent(afterP, afterTx, now)
	if ev.Type == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event publisher panicked", zap.Any("panic", r))
		}
	}()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(pctx, afterP.ID.String(), ev); err != nil {
		s.logger.Warn("failed to publish payment event", zap.String("event", ev.Type), zap.String("payment_id", afterP.ID.String()), zap.Error(err))
	}
}

// observe emits the per-operation metrics and the log event. It never fails.
func (s *PaymentService) observe(op string, p *Payment, tx *TransactionRecord, err error, start time.Time) {
	latency := s.now().Sub(start)
	tenant, txType, status := "", "", "ok"
	if p != nil {
		tenant = p.TenantID
		status = string(p.Status)
	}
	if tx != nil {
		txType = string(tx.Type)
		status = string(tx.Status)
	}
	if p == nil && tx == nil && err != nil {
		status = "rejected"
	}
	s.metrics.IncOperation(op, txType, status, tenant)
	s.metrics.ObserveLatency(op, latency)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("status", status),
		zap.Int64("latency_ms", latency.Milliseconds()),
	}
	if p != nil {
		fields = append(fields, zap.String("payment_id", p.ID.String()), zap.String("tenant_id", p.TenantID))
	}
	if tx != nil {
		fields = append(fields, zap.String("transaction_id", tx.ID.String()), zap.Int("retry_count", tx.RetryCount))
	}
	if err != nil {
		s.logger.Warn("payment operation failed", append(fields, zap.String("error_code", ErrorCode(err)), zap.Error(err))...)
		return
	}
	s.logger.Info("payment operation completed", fields...)
}

func (s *PaymentService) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// safeMetrics keeps a misbehaving sink from affecting a transaction outcome.
type safeMetrics struct {
	inner  Metrics
	logger *zap.Logger
}

func (m safeMetrics) IncOperation(operation, txType, status, tenant string) {
	if m.inner == nil {
		return
	}
	defer m.recover("inc_operation")
	m.inner.IncOperation(operation, txType, status, tenant)
}

func (m safeMetrics) ObserveLatency(operation string, d time.Duration) {
	if m.inner == nil {
		return
	}
	defer m.recover("observe_latency")
	m.inner.ObserveLatency(operation, d)
}

func (m safeMetrics) recover(call string) {
	if r := recover(); r != nil {
		m.logger.Warn("metrics sink panicked", zap.String("call", call), zap.Any("panic", r))
	}
}
