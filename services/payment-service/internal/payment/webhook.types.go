// services/payment-service/internal/payment/webhook.types.go
package payment

import "time"

// WebhookEvent is the closed set of processor events this service understands.
// The adapter maps every provider event type onto exactly one variant; anything it does not
// care about becomes an *IgnoredEvent. The unexported marker keeps the set closed.
type WebhookEvent interface {
	Meta() EventMeta
	isWebhookEvent()
}

// EventMeta is common to every variant.
type EventMeta struct {
	EventID  string // provider event id, used for dedupe
	Provider string // e.g. "stripe"
	// TransactionID is read from the metadata we attached on the outbound call.
	TransactionID string
	// Attempt is the attempt number from the outbound metadata, 0 when unknown.
	Attempt     int
	ExternalRef string // pi_..., re_...
	OccurredAt  time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

// ChargeSucceededEvent: money was collected.
type ChargeSucceededEvent struct {
	EventMeta
}

// ChargeFailedEvent: the charge attempt failed at the processor.
type ChargeFailedEvent struct {
	EventMeta
	ErrorCode    string
	ErrorMessage string
}

// RefundSucceededEvent: money was returned to the payer.
type RefundSucceededEvent struct {
	EventMeta
}

type RefundFailedEvent struct {
	EventMeta
	ErrorCode    string
	ErrorMessage string
}

// ChargeDisputedEvent: the payer's bank pulled the money back (chargeback).
// ExternalRef is the disputed charge.
type ChargeDisputedEvent struct {
	EventMeta
	DisputeID string
	Amount    Money
	Reason    string
}

// DisputeFundsReinstatedEvent: a dispute was decided for the merchant and the money came back.
// ExternalRef is the dispute.
type DisputeFundsReinstatedEvent struct {
	EventMeta
	DisputeID string
	Amount    Money
}

// IgnoredEvent is a verified event with no effect on payment state.
type IgnoredEvent struct {
	EventMeta
	Type string
}

func (*ChargeSucceededEvent) isWebhookEvent()        {}
func (*ChargeFailedEvent) isWebhookEvent()           {}
func (*RefundSucceededEvent) isWebhookEvent()        {}
func (*RefundFailedEvent) isWebhookEvent()           {}
func (*ChargeDisputedEvent) isWebhookEvent()         {}
func (*DisputeFundsReinstatedEvent) isWebhookEvent() {}
func (*IgnoredEvent) isWebhookEvent()                {}
