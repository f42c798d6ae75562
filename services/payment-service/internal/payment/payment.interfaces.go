// services/payment-service/internal/payment/payment.interfaces.go
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProcessorAdapter abstracts the actual money mover (Stripe etc).
// Every method accepts a Context for cancellation and timeout propagation.
type ProcessorAdapter interface {
	// CreateCustomer registers the payer with the processor.
	CreateCustomer(ctx context.Context, profile CustomerProfile) (CustomerRef, error)
	// AttachPaymentMethod validates the method shape before calling out.
	AttachPaymentMethod(ctx context.Context, customer CustomerRef, method MethodSpec) (MethodRef, error)
	// Charge executes an off-session charge with a caller-supplied idempotency key.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// Refund returns money from a previous charge.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// QueryStatus asks the processor what really happened to a transaction.
	QueryStatus(ctx context.Context, q StatusQuery) (*StatusResult, error)
	// VerifyWebhookSignature fails with ErrInvalidSignature; the caller must discard the event.
	VerifyWebhookSignature(payload []byte, signature string) (WebhookEvent, error)
}

// PaymentStore persists Payment Aggregates. Saves are version-checked.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *Payment) error
	// GetPayment returns ErrPaymentNotFound when missing.
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	// SavePayment writes p if the stored version equals expectedVersion and bumps p.Version.
	SavePayment(ctx context.Context, p *Payment, expectedVersion int64) error
}

// TransactionStore persists Transaction Records. Saves are version-checked.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*TransactionRecord, error)
	GetTransactionByExternalRef(ctx context.Context, ref string) (*TransactionRecord, error)
	ListTransactions(ctx context.Context, paymentID uuid.UUID) ([]*TransactionRecord, error)
	SaveTransaction(ctx context.Context, tx *TransactionRecord, expectedVersion int64) error
	// ListStuckTransactions fetches non-terminal records not updated for longer than olderThan,
	// oldest first.
	ListStuckTransactions(ctx context.Context, olderThan time.Duration, limit int) ([]*TransactionRecord, error)
}

// Store is the storage boundary used by the PaymentService.
type Store interface {
	PaymentStore
	TransactionStore
	// BeginTransaction atomically saves the aggregate (version-checked) and inserts a new record:
	// a PENDING record that claims the aggregate, or a chargeback that is already settled.
	// Either both are written or neither.
	BeginTransaction(ctx context.Context, p *Payment, expectedVersion int64, tx *TransactionRecord) error
	// SaveOutcome atomically saves the aggregate and the record, both version-checked.
	SaveOutcome(ctx context.Context, p *Payment, paymentVersion int64, tx *TransactionRecord, txVersion int64) error
}

// EventPublisher is fire-and-forget from the service's point of view.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// Metrics is the metrics sink. Implementations must never panic into the caller;
// the service wraps them regardless.
type Metrics interface {
	IncOperation(operation, txType, status, tenant string)
	ObserveLatency(operation string, d time.Duration)
}

// EventDeduper remembers processor webhook event ids. Failures are ignored by the service.
type EventDeduper interface {
	// MarkSeen returns true when the id was not seen before.
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}
