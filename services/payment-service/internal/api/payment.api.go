// services/payment-service/internal/api/payment.api.go
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// PaymentUseCases is satisfied by payment.PaymentService.
type PaymentUseCases interface {
	CreatePayment(ctx context.Context, spec payment.CreatePaymentSpec) (*payment.Payment, error)
	ProcessPayment(ctx context.Context, paymentID uuid.UUID, method payment.MethodSpec) (*payment.Payment, error)
	RefundPayment(ctx context.Context, paymentID uuid.UUID, amount int64, reason payment.RefundReason) (*payment.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*payment.PaymentView, error)
	ArchivePayment(ctx context.Context, paymentID uuid.UUID) (*payment.Payment, error)
	HandleProcessorWebhook(ctx context.Context, payload []byte, signature string) error
}

// Transport-neutral requests. A gRPC or HTTP layer decodes into these.

type CreatePaymentRequest struct {
	TenantID   string            `json:"tenant_id"`
	PropertyID string            `json:"property_id"`
	UnitID     string            `json:"unit_id"`
	PayerID    string            `json:"payer_id"`
	PayerEmail string            `json:"payer_email"`
	PayerName  string            `json:"payer_name"`
	Kind       string            `json:"kind"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	Frequency  string            `json:"frequency"`
	DueDate    time.Time         `json:"due_date"`
	Metadata   map[string]string `json:"metadata"`
}

type ProcessPaymentRequest struct {
	PaymentID   string `json:"payment_id"`
	MethodType  string `json:"method_type"`
	MethodToken string `json:"method_token"`
}

type RefundPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// PaymentAPI is the caller-facing surface. Every error it returns is a gRPC status.
type PaymentAPI struct {
	svc PaymentUseCases
}

func NewPaymentAPI(svc PaymentUseCases) *PaymentAPI {
	return &PaymentAPI{svc: svc}
}

func (a *PaymentAPI) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*payment.PaymentView, error) {
	p, err := a.svc.CreatePayment(ctx, payment.CreatePaymentSpec{
		TenantID:   req.TenantID,
		PropertyID: req.PropertyID,
		UnitID:     req.UnitID,
		Payer:      payment.CustomerProfile{PayerID: req.PayerID, Email: req.PayerEmail, Name: req.PayerName},
		Kind:       payment.Kind(req.Kind),
		Amount:     req.Amount,
		Currency:   req.Currency,
		Frequency:  payment.Frequency(req.Frequency),
		DueDate:    req.DueDate,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return nil, MapError(err)
	}
	v := payment.NewPaymentView(p, nil)
	return &v, nil
}

func (a *PaymentAPI) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*payment.PaymentView, error) {
	id, err := parseID(req.PaymentID)
	if err != nil {
		return nil, MapError(err)
	}
	method := payment.MethodSpec{Type: payment.MethodType(req.MethodType), Token: req.MethodToken}
	if _, err := a.svc.ProcessPayment(ctx, id, method); err != nil {
		return nil, MapError(err)
	}
	return a.view(ctx, id)
}

func (a *PaymentAPI) RefundPayment(ctx context.Context, req RefundPaymentRequest) (*payment.PaymentView, error) {
	id, err := parseID(req.PaymentID)
	if err != nil {
		return nil, MapError(err)
	}
	if _, err := a.svc.RefundPayment(ctx, id, req.Amount, payment.RefundReason(req.Reason)); err != nil {
		return nil, MapError(err)
	}
	return a.view(ctx, id)
}

func (a *PaymentAPI) GetPayment(ctx context.Context, paymentID string) (*payment.PaymentView, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, MapError(err)
	}
	return a.view(ctx, id)
}

func (a *PaymentAPI) ArchivePayment(ctx context.Context, paymentID string) (*payment.PaymentView, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, MapError(err)
	}
	if _, err := a.svc.ArchivePayment(ctx, id); err != nil {
		return nil, MapError(err)
	}
	return a.view(ctx, id)
}

// ReceiveWebhook is the synchronous path for processor callbacks.
func (a *PaymentAPI) ReceiveWebhook(ctx context.Context, payload []byte, signature string) error {
	return MapError(a.svc.HandleProcessorWebhook(ctx, payload, signature))
}

func (a *PaymentAPI) view(ctx context.Context, id uuid.UUID) (*payment.PaymentView, error) {
	v, err := a.svc.GetPayment(ctx, id)
	if err != nil {
		return nil, MapError(err)
	}
	return v, nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed payment id", payment.ErrValidation)
	}
	return id, nil
}
