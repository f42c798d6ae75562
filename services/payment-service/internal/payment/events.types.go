// services/payment-service/internal/payment/events.types.go
package payment

import (
	"time"

	"github.com/google/uuid"
)

// Domain event types published when an aggregate changes status.
const (
	EventPaymentCaptured          = "payment.captured"
	EventPaymentFailed            = "payment.failed"
	EventPaymentRefunded          = "payment.refunded"
	EventPaymentPartiallyRefunded = "payment.partially_refunded"
	EventPaymentFundsReinstated   = "payment.funds_reinstated"
)

// DomainEvent is what downstream services (notifications, ledger) consume.
type DomainEvent struct {
	Type           string    `json:"type"`
	PaymentID      uuid.UUID `json:"payment_id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	TenantID       string    `json:"tenant_id"`
	PropertyID     string    `json:"property_id"`
	PayerID        string    `json:"payer_id"`
	Kind           Kind      `json:"kind"`
	Status         Status    `json:"status"`
	Amount         Money     `json:"amount"`
	CapturedAmount int64     `json:"captured_amount"`
	RefundedAmount int64     `json:"refunded_amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func eventTypeFor(s Status) string {
	switch s {
	case StatusCaptured:
		return EventPaymentCaptured
	case StatusFailed:
		return EventPaymentFailed
	case StatusRefunded:
		return EventPaymentRefunded
	case StatusPartiallyRefunded:
		return EventPaymentPartiallyRefunded
	}
	return ""
}

func newDomainEvent(p *Payment, tx *TransactionRecord, now time.Time) DomainEvent {
	typ := eventTypeFor(p.Status)
	if tx.Type == TxChargeback && tx.Status == TxReversed {
		typ = EventPaymentFundsReinstated
	}
	return DomainEvent{
		Type:           typ,
		PaymentID:      p.ID,
		TransactionID:  tx.ID,
		TenantID:       p.TenantID,
		PropertyID:     p.PropertyID,
		PayerID:        p.PayerID,
		Kind:           p.Kind,
		Status:         p.Status,
		Amount:         p.Amount,
		CapturedAmount: p.CapturedAmount,
		RefundedAmount: p.RefundedAmount,
		OccurredAt:     now,
	}
}
