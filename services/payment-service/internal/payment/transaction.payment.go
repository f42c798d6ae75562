// services/payment-service/internal/payment/transaction.payment.go
package payment

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TxAuthorization TransactionType = "AUTHORIZATION"
	TxCapture       TransactionType = "CAPTURE"
	TxRefund        TransactionType = "REFUND"
	TxChargeback    TransactionType = "CHARGEBACK"
	TxFee           TransactionType = "FEE"
	TxAdjustment    TransactionType = "ADJUSTMENT"
	TxCommission    TransactionType = "COMMISSION"
)

// MovesMoneyIn reports whether the type collects money from the payer.
func (t TransactionType) MovesMoneyIn() bool {
	switch t {
	case TxAuthorization, TxCapture, TxFee, TxCommission, TxAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxPending    TransactionStatus = "PENDING"
	TxProcessing TransactionStatus = "PROCESSING"
	TxCompleted  TransactionStatus = "COMPLETED"
	TxFailed     TransactionStatus = "FAILED"
	TxReversed   TransactionStatus = "REVERSED"
	TxRetrying   TransactionStatus = "RETRYING"
)

// Audit actions, one per status transition.
const (
	ActionCreated    = "transaction_created"
	ActionProcessing = "transaction_processing"
	ActionCompleted  = "transaction_completed"
	ActionFailed     = "transaction_failed"
	ActionRetrying   = "transaction_retrying"
	ActionReversed   = "transaction_reversed"
	ActionAbandoned  = "retries_abandoned"
)

// Retry-history outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Actors recorded on audit entries.
const (
	ActorOrchestrator = "orchestrator"
	ActorWebhook      = "webhook"
	ActorReconciler   = "reconciler"
)

// RetryEntry records the outcome of one processor attempt.
type RetryEntry struct {
	AttemptNumber int       `json:"attempt_number"`
	At            time.Time `json:"at"`
	Error         string    `json:"error,omitempty"`
	Outcome       string    `json:"outcome"`
}

// AuditEntry is append-only.
type AuditEntry struct {
	Action  string            `json:"action"`
	At      time.Time         `json:"at"`
	Actor   string            `json:"actor"`
	Details map[string]string `json:"details,omitempty"`
}

// TransactionRecord is one concrete attempt to move money against a Payment.
// It is a plain data struct: the methods below mutate memory only and persistence
// happens through the store with the Version counter.
type TransactionRecord struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	// ParentID links a refund or chargeback to the capture it returns money from.
	ParentID uuid.UUID
	Type     TransactionType
	Status   TransactionStatus
	Amount   Money

	// ExternalRef is the processor-side id (pi_..., re_...). Access-restricted, never serialized.
	ExternalRef string `json:"-"`

	ErrorCode    string
	ErrorMessage string
	// Retryable is the classification of the last failure.
	Retryable bool

	RetryCount   int
	MaxRetries   int
	RetryHistory []RetryEntry
	AuditLog     []AuditEntry
	LastRetryAt  *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransactionRecord creates a PENDING record.
func NewTransactionRecord(paymentID uuid.UUID, txType TransactionType, amount Money, maxRetries int, now time.Time, actor string) *TransactionRecord {
	tx := &TransactionRecord{
		ID:         uuid.New(),
		PaymentID:  paymentID,
		Type:       txType,
		Status:     TxPending,
		Amount:     amount,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx.audit(ActionCreated, now, actor, map[string]string{"type": string(txType)})
	return tx
}

// NewChargebackRecord records a dispute the processor has already settled against capture.
// The record starts COMPLETED and carries the dispute id as its reference; capture is not touched.
func NewChargebackRecord(capture *TransactionRecord, disputeRef string, amount Money, reason string, now time.Time, actor string) *TransactionRecord {
	tx := NewTransactionRecord(capture.PaymentID, TxChargeback, amount, 0, now, actor)
	tx.ParentID = capture.ID
	tx.ExternalRef = disputeRef
	tx.Status = TxCompleted
	tx.RetryHistory = []RetryEntry{{AttemptNumber: 1, At: now, Outcome: OutcomeSuccess}}
	tx.audit(ActionCompleted, now, actor, map[string]string{"reason": reason})
	return tx
}

// AttemptNumber is the 1-based number of the current (or next) processor attempt.
func (tx *TransactionRecord) AttemptNumber() int {
	return tx.RetryCount + 1
}

// IdempotencyKey is derived from the record id plus the attempt number: repeating the same
// attempt never double-charges, while a new attempt gets a fresh key.
func (tx *TransactionRecord) IdempotencyKey() string {
	return "txn_" + tx.ID.String() + "_attempt_" + strconv.Itoa(tx.AttemptNumber())
}

// CanRetry reports whether a FAILED record may move to RETRYING.
func (tx *TransactionRecord) CanRetry() bool {
	return tx.Status == TxFailed && tx.Retryable && tx.RetryCount < tx.MaxRetries
}

// IsTerminal reports whether no further automatic action will happen.
// A COMPLETED chargeback may still be reversed when the dispute is won.
func (tx *TransactionRecord) IsTerminal() bool {
	switch tx.Status {
	case TxCompleted, TxReversed:
		return true
	case TxFailed:
		return !tx.CanRetry()
	}
	return false
}

// StartProcessing: PENDING|RETRYING -> PROCESSING, on processor call dispatch.
func (tx *TransactionRecord) StartProcessing(now time.Time, actor string) error {
	switch tx.Status {
	case TxProcessing:
		return ErrTransitionSatisfied
	case TxPending, TxRetrying:
	default:
		return tx.invalid(TxProcessing)
	}
	tx.Status = TxProcessing
	tx.UpdatedAt = now
	tx.audit(ActionProcessing, now, actor, map[string]string{"attempt": strconv.Itoa(tx.AttemptNumber())})
	return nil
}

// Complete: PROCESSING -> COMPLETED. Records the external reference.
func (tx *TransactionRecord) Complete(externalRef string, now time.Time, actor string) error {
	switch tx.Status {
	case TxCompleted, TxReversed:
		return ErrTransitionSatisfied
	case TxProcessing:
	default:
		return tx.invalid(TxCompleted)
	}
	tx.complete(tx.AttemptNumber(), externalRef, now, actor)
	return nil
}

// ConfirmAttempt records a success the processor reports for an attempt that was already
// dispatched, e.g. a webhook arriving while the record waits out its backoff. attempt 0 means the
// latest dispatched attempt. Only the completion is recorded; no retry or dispatch steps are added.
func (tx *TransactionRecord) ConfirmAttempt(attempt int, externalRef string, now time.Time, actor string) error {
	dispatched := tx.AttemptNumber()
	switch tx.Status {
	case TxCompleted, TxReversed:
		return ErrTransitionSatisfied
	case TxProcessing:
	case TxRetrying:
		// RetryCount already counts the attempt that has not gone out yet.
		dispatched--
	case TxFailed:
		if !tx.CanRetry() {
			return tx.invalid(TxCompleted)
		}
	default:
		return tx.invalid(TxCompleted)
	}
	if attempt == 0 {
		attempt = dispatched
	}
	if attempt < 1 || attempt > dispatched {
		return fmt.Errorf("%w: attempt %d was never dispatched", ErrInvalidTransition, attempt)
	}
	tx.complete(attempt, externalRef, now, actor)
	return nil
}

func (tx *TransactionRecord) complete(attempt int, externalRef string, now time.Time, actor string) {
	if externalRef != "" {
		tx.ExternalRef = externalRef
	}
	tx.Status = TxCompleted
	tx.ErrorCode = ""
	tx.ErrorMessage = ""
	tx.Retryable = false
	tx.UpdatedAt = now
	tx.RetryHistory = append(tx.RetryHistory, RetryEntry{
		AttemptNumber: attempt,
		At:            now,
		Outcome:       OutcomeSuccess,
	})
	tx.audit(ActionCompleted, now, actor, map[string]string{"attempt": strconv.Itoa(attempt)})
}

// Fail: PROCESSING -> FAILED. Records the error and whether it is retryable.
func (tx *TransactionRecord) Fail(code, message string, retryable bool, now time.Time, actor string) error {
	switch tx.Status {
	case TxFailed:
		return ErrTransitionSatisfied
	case TxProcessing:
	default:
		return tx.invalid(TxFailed)
	}
	tx.Status = TxFailed
	tx.ErrorCode = code
	tx.ErrorMessage = message
	tx.Retryable = retryable
	tx.UpdatedAt = now
	tx.RetryHistory = append(tx.RetryHistory, RetryEntry{
		AttemptNumber: tx.AttemptNumber(),
		At:            now,
		Error:         message,
		Outcome:       OutcomeFailed,
	})
	tx.audit(ActionFailed, now, actor, map[string]string{
		"attempt":   strconv.Itoa(tx.AttemptNumber()),
		"code":      code,
		"retryable": strconv.FormatBool(retryable),
	})
	return nil
}

// ScheduleRetry: FAILED -> RETRYING, only while retries remain and the failure is retryable.
func (tx *TransactionRecord) ScheduleRetry(now time.Time, actor string) error {
	if tx.Status == TxRetrying {
		return ErrTransitionSatisfied
	}
	if !tx.CanRetry() {
		return tx.invalid(TxRetrying)
	}
	tx.RetryCount++
	at := now
	tx.LastRetryAt = &at
	tx.Status = TxRetrying
	tx.UpdatedAt = now
	tx.audit(ActionRetrying, now, actor, map[string]string{"retry_count": strconv.Itoa(tx.RetryCount)})
	return nil
}

// Abandon makes a FAILED record terminal even though retries remain, e.g. when the use case
// deadline passes during backoff. Status does not change.
func (tx *TransactionRecord) Abandon(reason string, now time.Time, actor string) error {
	if tx.Status == TxRetrying {
		// The next attempt was never dispatched; record the failure first.
		tx.Status = TxFailed
	}
	if tx.Status != TxFailed {
		return tx.invalid(TxFailed)
	}
	if !tx.Retryable {
		return ErrTransitionSatisfied
	}
	tx.Retryable = false
	tx.UpdatedAt = now
	tx.audit(ActionAbandoned, now, actor, map[string]string{"reason": reason})
	return nil
}

// Reverse: COMPLETED -> REVERSED, for a refund or chargeback record whose money came back.
// Captures are never reversed. REVERSED is terminal.
func (tx *TransactionRecord) Reverse(reason string, now time.Time, actor string) error {
	switch tx.Status {
	case TxReversed:
		return ErrTransitionSatisfied
	case TxCompleted:
	default:
		return tx.invalid(TxReversed)
	}
	if tx.Type != TxRefund && tx.Type != TxChargeback {
		return fmt.Errorf("%w: %s records are not reversible", ErrInvalidTransition, tx.Type)
	}
	tx.Status = TxReversed
	tx.UpdatedAt = now
	tx.audit(ActionReversed, now, actor, map[string]string{"reason": reason})
	return nil
}

// Clone returns a deep copy.
func (tx *TransactionRecord) Clone() *TransactionRecord {
	if tx == nil {
		return nil
	}
	c := *tx
	c.RetryHistory = append([]RetryEntry(nil), tx.RetryHistory...)
	c.AuditLog = make([]AuditEntry, len(tx.AuditLog))
	for i, e := range tx.AuditLog {
		c.AuditLog[i] = e
		if e.Details != nil {
			c.AuditLog[i].Details = make(map[string]string, len(e.Details))
			for k, v := range e.Details {
				c.AuditLog[i].Details[k] = v
			}
		}
	}
	if tx.LastRetryAt != nil {
		at := *tx.LastRetryAt
		c.LastRetryAt = &at
	}
	return &c
}

func (tx *TransactionRecord) audit(action string, now time.Time, actor string, details map[string]string) {
	tx.AuditLog = append(tx.AuditLog, AuditEntry{Action: action, At: now, Actor: actor, Details: details})
}

func (tx *TransactionRecord) invalid(target TransactionStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, target)
}
