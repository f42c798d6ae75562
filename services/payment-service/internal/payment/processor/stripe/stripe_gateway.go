// services/payment-service/internal/payment/processor/stripe/stripe_gateway.go
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/logging"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// Provider is recorded on every webhook event this adapter produces.
const Provider = "stripe"

// codeRefundFailed is recorded when Stripe gives no failure reason.
const codeRefundFailed = "refund_failed"

// metaPayerID tags the Stripe customer so it can be found again by payer.
const metaPayerID = "payer_id"

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BackendURL overrides the API endpoint, mostly for tests.
	BackendURL string
	// MaxNetworkRetries is the stripe-go internal retry count. The orchestrator owns retries,
	// so this stays 0 unless explicitly set.
	MaxNetworkRetries int64
}

// Gateway implements payment.ProcessorAdapter on top of Stripe PaymentIntents.
// All charges are OFF-SESSION: the payer is not present, so no 3DS challenge can be completed.
type Gateway struct {
	client        *client.API
	webhookSecret string
	logger        *zap.Logger
}

var _ payment.ProcessorAdapter = (*Gateway)(nil)

// NewGateway creates a Gateway with its own client.API. It never touches stripe.Key (global state).
func NewGateway(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     logger.Named("stripe").Sugar(),
	}
	if cfg.BackendURL != "" {
		backend.URL = stripe.String(cfg.BackendURL)
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backend),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, &stripe.BackendConfig{LeveledLogger: backend.LeveledLogger}),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{LeveledLogger: backend.LeveledLogger}),
	})
	return &Gateway{client: sc, webhookSecret: cfg.WebhookSecret, logger: logger}, nil
}

// CreateCustomer returns the Stripe customer tagged with the payer id, creating it if needed.
func (g *Gateway) CreateCustomer(ctx context.Context, profile payment.CustomerProfile) (payment.CustomerRef, error) {
	search := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['%s']:'%s'", metaPayerID, quote(profile.PayerID)),
		},
	}
	iter := g.client.Customers.Search(search)
	if iter.Next() {
		return payment.CustomerRef(iter.Customer().ID), nil
	}
	if err := iter.Err(); err != nil {
		return "", mapStripeError(err)
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(profile.Email),
		Metadata: map[string]string{metaPayerID: profile.PayerID},
	}
	if profile.Name != "" {
		params.Name = stripe.String(profile.Name)
	}
	if profile.Phone != "" {
		params.Phone = stripe.String(profile.Phone)
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("create_customer_" + uuid.NewString())

	c, err := g.client.Customers.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	g.logger.Info("[Stripe] customer created",
		zap.String("payer_id", profile.PayerID),
		zap.String("email", logging.MaskEmail(profile.Email)),
		zap.String("customer_ref", logging.MaskRef(c.ID)),
	)
	return payment.CustomerRef(c.ID), nil
}

// AttachPaymentMethod attaches a tokenized method to the customer.
func (g *Gateway) AttachPaymentMethod(ctx context.Context, customer payment.CustomerRef, method payment.MethodSpec) (payment.MethodRef, error) {
	if err := method.Validate(); err != nil {
		return "", err
	}
	if customer == "" {
		return "", fmt.Errorf("%w: customer is required", payment.ErrValidation)
	}
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(string(customer))}
	params.Context = ctx
	pm, err := g.client.PaymentMethods.Attach(method.Token, params)
	if err != nil {
		return "", mapAttachError(err)
	}
	if string(pm.Type) != string(method.Type) {
		return "", fmt.Errorf("%w: token is a %s method, expected %s", payment.ErrInvalidPaymentMethod, pm.Type, method.Type)
	}
	return payment.MethodRef(pm.ID), nil
}

// Charge executes a confirmed off-session PaymentIntent.
func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if req.Amount.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", payment.ErrValidation)
	}
	if req.Customer == "" || req.Method == "" {
		return nil, fmt.Errorf("%w: customer and payment method are required", payment.ErrValidation)
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Amount),
		Currency:      stripe.String(strings.ToLower(req.Amount.Currency)),
		Customer:      stripe.String(string(req.Customer)),
		PaymentMethod: stripe.String(string(req.Method)),
		// confirm=true charges immediately, off_session=true tells the bank the payer is absent.
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	params.Metadata = payment.SanitizeMetadata(req.Metadata)
	params.Context = ctx
	g.logger.Debug("[Stripe] creating payment intent",
		zap.Int64("amount", req.Amount.Amount),
		zap.String("currency", req.Amount.Currency),
		zap.String("customer_ref", logging.MaskRef(string(req.Customer))),
		logging.Metadata("metadata", params.Metadata),
	)

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	// Network success != payment success.
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &payment.ChargeResult{ExternalRef: pi.ID, Status: payment.ChargeSucceeded}, nil
	case stripe.PaymentIntentStatusProcessing:
		// Bank debits settle later; the webhook or the reconciler finishes the record.
		return &payment.ChargeResult{ExternalRef: pi.ID, Status: payment.ChargeProcessing}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return nil, payment.NewRejected(payment.CodeRequiresAction, "payer authentication required for an off-session charge", nil)
	}
	code, msg := payment.CodeCardDeclined, fmt.Sprintf("payment intent ended in status %s", pi.Status)
	if pi.LastPaymentError != nil {
		code, msg = declineCode(pi.LastPaymentError), pi.LastPaymentError.Msg
	}
	return nil, payment.NewRejected(code, msg, nil)
}

// Refund returns money from a captured PaymentIntent.
func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	if req.ChargeRef == "" {
		return nil, fmt.Errorf("%w: charge reference is required", payment.ErrValidation)
	}
	if req.Amount.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", payment.ErrValidation)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeRef),
		Amount:        stripe.Int64(req.Amount.Amount),
	}
	if req.Reason != "" {
		params.Reason = stripe.String(string(req.Reason))
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	params.Metadata = payment.SanitizeMetadata(req.Metadata)
	params.Context = ctx
	g.logger.Debug("[Stripe] creating refund",
		zap.Int64("amount", req.Amount.Amount),
		zap.String("charge_ref", logging.MaskRef(req.ChargeRef)),
		logging.Metadata("metadata", params.Metadata),
	)

	r, err := g.client.Refunds.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	switch r.Status {
	case stripe.RefundStatusSucceeded:
		return &payment.RefundResult{ExternalRef: r.ID, Status: payment.ChargeSucceeded}, nil
	case stripe.RefundStatusPending, "requires_action":
		return &payment.RefundResult{ExternalRef: r.ID, Status: payment.ChargeProcessing}, nil
	}
	return nil, payment.NewRejected(refundFailureCode(r), fmt.Sprintf("refund ended in status %s", r.Status), nil)
}

// QueryStatus asks Stripe what really happened. Without an external ref it searches by the
// transaction id we put in the outbound metadata.
func (g *Gateway) QueryStatus(ctx context.Context, q payment.StatusQuery) (*payment.StatusResult, error) {
	if q.Type == payment.TxRefund {
		return g.refundStatus(ctx, q)
	}

	var pi *stripe.PaymentIntent
	if q.ExternalRef != "" {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		found, err := g.client.PaymentIntents.Get(q.ExternalRef, params)
		if err != nil {
			if isNotFound(err) {
				return &payment.StatusResult{Status: payment.ProcessorNotFound}, nil
			}
			return nil, mapStripeError(err)
		}
		pi = found
	} else {
		iter := g.client.PaymentIntents.Search(&stripe.PaymentIntentSearchParams{
			SearchParams: stripe.SearchParams{
				Context: ctx,
				Query:   fmt.Sprintf("metadata['%s']:'%s'", payment.MetaTransactionID, quote(q.TransactionID)),
			},
		})
		for iter.Next() {
			if cur := iter.PaymentIntent(); preferIntent(cur, pi) {
				pi = cur
			}
		}
		if err := iter.Err(); err != nil {
			return nil, mapStripeError(err)
		}
		if pi == nil {
			return &payment.StatusResult{Status: payment.ProcessorNotFound}, nil
		}
	}
	return intentStatus(pi), nil
}

func (g *Gateway) refundStatus(ctx context.Context, q payment.StatusQuery) (*payment.StatusResult, error) {
	if q.ExternalRef != "" {
		params := &stripe.RefundParams{}
		params.Context = ctx
		r, err := g.client.Refunds.Get(q.ExternalRef, params)
		if err != nil {
			if isNotFound(err) {
				return &payment.StatusResult{Status: payment.ProcessorNotFound}, nil
			}
			return nil, mapStripeError(err)
		}
		return refundStatus(r), nil
	}
	if q.ParentExternalRef == "" {
		return &payment.StatusResult{Status: payment.ProcessorNotFound}, nil
	}
	list := &stripe.RefundListParams{PaymentIntent: stripe.String(q.ParentExternalRef)}
	list.Context = ctx
	iter := g.client.Refunds.List(list)
	for iter.Next() {
		r := iter.Refund()
		if r.Metadata[payment.MetaTransactionID] == q.TransactionID {
			return refundStatus(r), nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	return &payment.StatusResult{Status: payment.ProcessorNotFound}, nil
}

// preferIntent picks between intents of several attempts: a success wins, then the newest.
func preferIntent(cur, best *stripe.PaymentIntent) bool {
	switch {
	case best == nil:
		return true
	case best.Status == stripe.PaymentIntentStatusSucceeded:
		return false
	case cur.Status == stripe.PaymentIntentStatusSucceeded:
		return true
	}
	return cur.Created > best.Created
}

func intentStatus(pi *stripe.PaymentIntent) *payment.StatusResult {
	res := &payment.StatusResult{ExternalRef: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status = payment.ProcessorSucceeded
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		res.Status = payment.ProcessorFailed
		res.ErrorCode = payment.CodeCardDeclined
		if pi.LastPaymentError != nil {
			res.ErrorCode, res.ErrorMessage = declineCode(pi.LastPaymentError), pi.LastPaymentError.Msg
		}
	case stripe.PaymentIntentStatusRequiresAction:
		// Off-session: nobody will complete the challenge.
		res.Status = payment.ProcessorFailed
		res.ErrorCode = payment.CodeRequiresAction
	default:
		res.Status = payment.ProcessorProcessing
	}
	return res
}

func refundStatus(r *stripe.Refund) *payment.StatusResult {
	res := &payment.StatusResult{ExternalRef: r.ID}
	switch r.Status {
	case stripe.RefundStatusSucceeded:
		res.Status = payment.ProcessorSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		res.Status = payment.ProcessorFailed
		res.ErrorCode = refundFailureCode(r)
	default:
		res.Status = payment.ProcessorProcessing
	}
	return res
}

func refundFailureCode(r *stripe.Refund) string {
	if r.FailureReason != "" {
		return string(r.FailureReason)
	}
	return codeRefundFailed
}

// quote escapes a value for the Stripe search query language.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
