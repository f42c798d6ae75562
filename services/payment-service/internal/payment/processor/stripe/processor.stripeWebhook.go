// services/payment-service/internal/payment/processor/stripe/processor.stripeWebhook.go
package stripe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// VerifyWebhookSignature checks the Stripe-Signature header and maps the event onto the closed
// set of payment.WebhookEvent variants.
func (g *Gateway) VerifyWebhookSignature(payload []byte, signature string) (payment.WebhookEvent, error) {
	// 1. Verify signature (timestamp tolerance included)
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrInvalidSignature, err)
	}

	// 2. Map to domain event
	meta := payment.EventMeta{
		EventID:    event.ID,
		Provider:   Provider,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	eventType := string(event.Type)
	switch eventType {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("malformed payment intent in event %s: %w", event.ID, err)
		}
		withMetadata(&meta, pi.ID, pi.Metadata)
		if eventType == "payment_intent.succeeded" {
			return &payment.ChargeSucceededEvent{EventMeta: meta}, nil
		}
		ev := &payment.ChargeFailedEvent{EventMeta: meta, ErrorCode: payment.CodeCardDeclined}
		if pi.LastPaymentError != nil {
			ev.ErrorCode, ev.ErrorMessage = declineCode(pi.LastPaymentError), pi.LastPaymentError.Msg
		} else if pi.Status == stripe.PaymentIntentStatusCanceled {
			ev.ErrorMessage = "payment intent canceled"
		}
		return ev, nil

	case "refund.created", "refund.updated", "refund.failed", "charge.refund.updated":
		var r stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("malformed refund in event %s: %w", event.ID, err)
		}
		withMetadata(&meta, r.ID, r.Metadata)
		switch r.Status {
		case stripe.RefundStatusSucceeded:
			return &payment.RefundSucceededEvent{EventMeta: meta}, nil
		case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
			return &payment.RefundFailedEvent{
				EventMeta:    meta,
				ErrorCode:    refundFailureCode(&r),
				ErrorMessage: fmt.Sprintf("refund %s", r.Status),
			}, nil
		}
		return &payment.IgnoredEvent{EventMeta: meta, Type: eventType}, nil

	case "charge.dispute.created", "charge.dispute.funds_reinstated":
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
			return nil, fmt.Errorf("malformed dispute in event %s: %w", event.ID, err)
		}
		amount := payment.Money{Amount: d.Amount, Currency: strings.ToUpper(string(d.Currency))}
		if eventType == "charge.dispute.funds_reinstated" {
			// The chargeback record carries the dispute id as its reference.
			meta.ExternalRef = d.ID
			return &payment.DisputeFundsReinstatedEvent{EventMeta: meta, DisputeID: d.ID, Amount: amount}, nil
		}
		// The dispute's own metadata is not ours; the disputed intent identifies the record.
		if d.PaymentIntent != nil {
			meta.ExternalRef = d.PaymentIntent.ID
		}
		return &payment.ChargeDisputedEvent{
			EventMeta: meta,
			DisputeID: d.ID,
			Amount:    amount,
			Reason:    string(d.Reason),
		}, nil
	}

	// Verified, but of no interest (customer.updated, payment_intent.created, ...).
	return &payment.IgnoredEvent{EventMeta: meta, Type: eventType}, nil
}

func withMetadata(meta *payment.EventMeta, ref string, md map[string]string) {
	meta.ExternalRef = ref
	meta.TransactionID = md[payment.MetaTransactionID]
	if n, err := strconv.Atoi(md[payment.MetaAttempt]); err == nil {
		meta.Attempt = n
	}
}
