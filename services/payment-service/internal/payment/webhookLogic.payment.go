// services/payment-service/internal/payment/webhookLogic.payment.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/logging"
)

// errStaleEvent marks an event that belongs to an earlier attempt.
var errStaleEvent = errors.New("event belongs to an earlier attempt")

// HandleProcessorWebhook verifies a raw delivery and applies it. Deliveries are at-least-once:
// duplicates and out-of-order events are no-ops. Only a bad signature or an unknown transaction
// is reported as an error.
func (s *PaymentService) HandleProcessorWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	start := s.now()
	defer func() { s.observe("handle_webhook", nil, nil, err, start) }()

	event, err := s.processor.VerifyWebhookSignature(payload, signature)
	if err != nil {
		s.logger.Warn("[Webhook] discarding event with invalid signature", zap.Error(err))
		if errors.Is(err, ErrInvalidSignature) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	meta := event.Meta()
	if s.dedupe != nil && meta.EventID != "" {
		fresh, derr := s.dedupe.MarkSeen(ctx, meta.EventID)
		switch {
		case derr != nil:
			s.logger.Warn("[Webhook] dedupe cache unavailable", zap.Error(derr))
		case !fresh:
			s.logger.Debug("[Webhook] duplicate delivery", zap.String("event_id", meta.EventID))
			return nil
		}
	}

	if err = s.ApplyWebhookEvent(ctx, event); err != nil && s.dedupe != nil && meta.EventID != "" {
		// Let a redelivery try again.
		if ferr := s.dedupe.Forget(context.WithoutCancel(ctx), meta.EventID); ferr != nil {
			s.logger.Warn("[Webhook] failed to clear dedupe entry", zap.Error(ferr))
		}
	}
	return err
}

// ApplyWebhookEvent maps a verified event onto the state machine.
func (s *PaymentService) ApplyWebhookEvent(ctx context.Context, event WebhookEvent) error {
	meta := event.Meta()
	s.logger.Info("[Webhook] processing event",
		zap.String("provider", meta.Provider),
		zap.String("event_id", meta.EventID),
		zap.String("type", fmt.Sprintf("%T", event)),
	)

	switch e := event.(type) {
	case *ChargeSucceededEvent:
		return s.applyProcessorSuccess(ctx, e.EventMeta, ActorWebhook)
	case *RefundSucceededEvent:
		return s.applyProcessorSuccess(ctx, e.EventMeta, ActorWebhook)
	case *ChargeFailedEvent:
		return s.applyProcessorFailure(ctx, e.EventMeta, e.ErrorCode, e.ErrorMessage)
	case *RefundFailedEvent:
		return s.applyProcessorFailure(ctx, e.EventMeta, e.ErrorCode, e.ErrorMessage)
	case *ChargeDisputedEvent:
		return s.applyChargeback(ctx, e)
	case *DisputeFundsReinstatedEvent:
		return s.applyFundsReinstated(ctx, e)
	case *IgnoredEvent:
		s.logger.Debug("[Webhook] ignoring event", zap.String("type", e.Type))
		return nil
	default:
		return fmt.Errorf("unhandled webhook event %T", event)
	}
}

func (s *PaymentService) applyProcessorSuccess(ctx context.Context, meta EventMeta, actor string) error {
	tx, err := s.lookupTransaction(ctx, meta)
	if err != nil {
		return err
	}
	return s.applyExternal(ctx, tx, actor, true, confirmOutcome(meta.ExternalRef, meta.Attempt, actor))
}

func (s *PaymentService) applyProcessorFailure(ctx context.Context, meta EventMeta, code, message string) error {
	tx, err := s.lookupTransaction(ctx, meta)
	if err != nil {
		return err
	}
	if code == "" {
		code = CodeProcessorError
	}
	fail := failOutcome(code, message, IsRetryableCode(code), ActorWebhook)
	return s.applyExternal(ctx, tx, ActorWebhook, false, func(p *Payment, t *TransactionRecord, now time.Time) error {
		if meta.Attempt != 0 && meta.Attempt != t.AttemptNumber() {
			return errStaleEvent
		}
		return fail(p, t, now)
	})
}

// applyChargeback records a dispute as its own CHARGEBACK record linked to the disputed capture.
// The record insert and the returned amount on the aggregate are one version-checked write.
// The capture stays COMPLETED, and the dispute id makes a replayed event a no-op.
func (s *PaymentService) applyChargeback(ctx context.Context, e *ChargeDisputedEvent) error {
	capture, err := s.lookupTransaction(ctx, e.EventMeta)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("transaction_id", capture.ID.String()),
		zap.String("payment_id", capture.PaymentID.String()),
	}
	if !capture.Type.MovesMoneyIn() {
		s.logger.Warn("[Webhook] dispute does not reference a charge, ignoring",
			append(fields, zap.String("type", string(capture.Type)))...)
		return nil
	}
	if capture.Status != TxCompleted {
		// Redelivered once the charge itself is confirmed.
		return fmt.Errorf("%w: disputed charge is %s", ErrInvalidState, capture.Status)
	}

	disputeRef := e.DisputeID
	if disputeRef == "" {
		disputeRef = "dispute_" + capture.ID.String()
	}
	amount := e.Amount
	if !amount.SameCurrency(capture.Amount) || amount.Amount <= 0 || amount.Amount > capture.Amount.Amount {
		amount = capture.Amount
	}
	reason := "chargeback"
	if e.Reason != "" {
		reason += ": " + e.Reason
	}

	return s.retryOnConflict("record chargeback", func() error {
		cur, err := s.store.GetPayment(ctx, capture.PaymentID)
		if err != nil {
			return err
		}
		txs, err := s.store.ListTransactions(ctx, cur.ID)
		if err != nil {
			return fmt.Errorf("failed to list transactions: %w", err)
		}
		for _, t := range txs {
			if t.Type == TxChargeback && t.ExternalRef == disputeRef {
				s.logger.Debug("[Webhook] chargeback already recorded", fields...)
				return nil
			}
		}
		n := min(amount.Amount, cur.RefundableAmount())
		if cur.Status.Terminal() || n <= 0 {
			s.logger.Error("[Webhook] dispute on a payment with nothing left to return, manual review required",
				append(fields, zap.String("status", string(cur.Status)), zap.String("dispute_ref", logging.MaskRef(disputeRef)))...)
			return nil
		}

		now := s.now()
		next := cur.Clone()
		if err := next.ApplyRefund(n, now); err != nil {
			return err
		}
		cb := NewChargebackRecord(capture, disputeRef, Money{Amount: n, Currency: capture.Amount.Currency}, reason, now, ActorWebhook)
		if err := s.store.BeginTransaction(ctx, next, cur.Version, cb); err != nil {
			return err
		}
		s.logger.Info("[Webhook] chargeback recorded", append(fields,
			zap.String("chargeback_id", cb.ID.String()),
			zap.Int64("amount", n),
			zap.String("status", string(next.Status)),
		)...)
		s.publish(ctx, cur, next, &TransactionRecord{}, cb, now)
		return nil
	})
}

// applyFundsReinstated reverses the chargeback of a won dispute and gives the money back to the
// aggregate.
func (s *PaymentService) applyFundsReinstated(ctx context.Context, e *DisputeFundsReinstatedEvent) error {
	meta := e.EventMeta
	if meta.ExternalRef == "" {
		meta.ExternalRef = e.DisputeID
	}
	cb, err := s.lookupTransaction(ctx, meta)
	if err != nil {
		return err
	}
	if cb.Type != TxChargeback {
		s.logger.Warn("[Webhook] reinstatement does not reference a chargeback, ignoring",
			zap.String("transaction_id", cb.ID.String()), zap.String("type", string(cb.Type)))
		return nil
	}
	return s.applyExternal(ctx, cb, ActorWebhook, false, func(p *Payment, t *TransactionRecord, now time.Time) error {
		if err := t.Reverse("dispute won", now, ActorWebhook); err != nil {
			return err
		}
		if n := min(t.Amount.Amount, p.RefundedAmount); n > 0 {
			return p.ReinstateFunds(n, now)
		}
		return nil
	})
}

// ReconcileTransaction resolves one stuck record against what the processor actually did.
// A record that cannot be driven any further ends FAILED; nothing is left in PROCESSING.
func (s *PaymentService) ReconcileTransaction(ctx context.Context, txID uuid.UUID) (err error) {
	start := s.now()
	var tx *TransactionRecord
	defer func() { s.observe("reconcile_transaction", nil, tx, err, start) }()

	tx, err = s.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.IsTerminal() {
		return nil
	}

	q := StatusQuery{TransactionID: tx.ID.String(), Type: tx.Type, ExternalRef: tx.ExternalRef}
	if tx.ParentID != uuid.Nil {
		parent, perr := s.store.GetTransaction(ctx, tx.ParentID)
		if perr != nil {
			return fmt.Errorf("failed to load parent transaction: %w", perr)
		}
		q.ParentExternalRef = parent.ExternalRef
	}
	res, err := s.processor.QueryStatus(ctx, q)
	if err != nil {
		return fmt.Errorf("status query for transaction %s failed: %w", tx.ID, err)
	}

	var fn outcomeFunc
	success := false
	switch res.Status {
	case ProcessorSucceeded:
		success = true
		fn = confirmOutcome(res.ExternalRef, 0, ActorReconciler)
	case ProcessorFailed:
		code := res.ErrorCode
		if code == "" {
			code = CodeProcessorError
		}
		fn = reconcileFailure(code, res.ErrorMessage)
	case ProcessorNotFound:
		fn = reconcileFailure(CodeReconcileNotFound, "processor has no record of this transaction")
	case ProcessorProcessing:
		if res.ExternalRef == "" || res.ExternalRef == tx.ExternalRef {
			s.logger.Debug("[Reconciler] transaction still processing at the processor", zap.String("transaction_id", tx.ID.String()))
			return nil
		}
		fn = recordRef(res.ExternalRef)
	default:
		return fmt.Errorf("unknown processor status %q", res.Status)
	}
	if err = s.applyExternal(ctx, tx, ActorReconciler, success, fn); err != nil {
		return err
	}
	fresh, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return fmt.Errorf("failed to reload reconciled transaction: %w", err)
	}
	tx = fresh
	return nil
}

// applyExternal applies an update that did not originate from the orchestrator's own call.
// Updates the state machine refuses are logged and dropped.
func (s *PaymentService) applyExternal(ctx context.Context, tx *TransactionRecord, actor string, success bool, fn outcomeFunc) error {
	p, err := s.store.GetPayment(ctx, tx.PaymentID)
	if err != nil {
		return err
	}
	_, after, err := s.apply(ctx, p, tx, true, fn)
	fields := []zap.Field{
		zap.String("actor", actor),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("payment_id", tx.PaymentID.String()),
		zap.String("status", string(after.Status)),
	}
	switch {
	case err == nil && after.Version == tx.Version:
		s.logger.Debug("processor update already applied", fields...)
		return nil
	case err == nil:
		s.logger.Info("transaction updated from processor state", fields...)
		return nil
	case success && errors.Is(err, ErrInvalidTransition) && after.Status == TxFailed:
		s.logger.Error("processor reports money moved for a terminally failed transaction, manual review required",
			append(fields, zap.String("external_ref", logging.MaskRef(tx.ExternalRef)))...)
		return nil
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, errStaleEvent):
		s.logger.Warn("ignoring out-of-order processor update", append(fields, zap.Error(err))...)
		return nil
	}
	return err
}

func (s *PaymentService) lookupTransaction(ctx context.Context, meta EventMeta) (*TransactionRecord, error) {
	if meta.TransactionID != "" {
		if id, err := uuid.Parse(meta.TransactionID); err == nil {
			tx, err := s.store.GetTransaction(ctx, id)
			if err == nil {
				return tx, nil
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return nil, err
			}
		}
	}
	if meta.ExternalRef != "" {
		tx, err := s.store.GetTransactionByExternalRef(ctx, meta.ExternalRef)
		if err != nil {
			return nil, fmt.Errorf("transaction not found for provider ref %s: %w", logging.MaskRef(meta.ExternalRef), err)
		}
		return tx, nil
	}
	return nil, fmt.Errorf("%w: event carries no transaction reference", ErrTransactionNotFound)
}

// reconcileFailure ends a record the reconciler cannot drive any further.
func reconcileFailure(code, message string) outcomeFunc {
	return func(p *Payment, tx *TransactionRecord, now time.Time) error {
		switch tx.Status {
		case TxPending:
			if err := tx.StartProcessing(now, ActorReconciler); err != nil {
				return err
			}
			fallthrough
		case TxProcessing:
			if err := tx.Fail(code, message, false, now, ActorReconciler); err != nil {
				return err
			}
		case TxFailed, TxRetrying:
			if err := tx.Abandon(message, now, ActorReconciler); err != nil {
				return err
			}
		default:
			return tx.invalid(TxFailed)
		}
		giveUp(p, tx, now)
		return nil
	}
}
