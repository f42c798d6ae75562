package api

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

type fakeUseCases struct {
	gotSpec    payment.CreatePaymentSpec
	gotMethod  payment.MethodSpec
	gotAmount  int64
	gotReason  payment.RefundReason
	gotPayload string
	err        error
	view       *payment.PaymentView
}

func (f *fakeUseCases) CreatePayment(_ context.Context, spec payment.CreatePaymentSpec) (*payment.Payment, error) {
	f.gotSpec = spec
	if f.err != nil {
		return nil, f.err
	}
	return &payment.Payment{ID: uuid.New(), TenantID: spec.TenantID, Status: payment.StatusPending}, nil
}

func (f *fakeUseCases) ProcessPayment(_ context.Context, _ uuid.UUID, m payment.MethodSpec) (*payment.Payment, error) {
	f.gotMethod = m
	return nil, f.err
}

func (f *fakeUseCases) RefundPayment(_ context.Context, _ uuid.UUID, amount int64, reason payment.RefundReason) (*payment.Payment, error) {
	f.gotAmount, f.gotReason = amount, reason
	return nil, f.err
}

func (f *fakeUseCases) GetPayment(_ context.Context, id uuid.UUID) (*payment.PaymentView, error) {
	if f.view == nil {
		return nil, payment.ErrPaymentNotFound
	}
	return f.view, nil
}

func (f *fakeUseCases) ArchivePayment(context.Context, uuid.UUID) (*payment.Payment, error) {
	return nil, f.err
}

func (f *fakeUseCases) HandleProcessorWebhook(_ context.Context, payload []byte, _ string) error {
	f.gotPayload = string(payload)
	return f.err
}

func codeOf(err error) codes.Code { return status.Code(err) }

func TestPaymentAPI_CreatePayment(t *testing.T) {
	f := &fakeUseCases{}
	a := NewPaymentAPI(f)
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	v, err := a.CreatePayment(context.Background(), CreatePaymentRequest{
		TenantID:   "tenant-acme",
		PropertyID: "prop-17",
		PayerID:    "payer-42",
		PayerEmail: "jo@example.com",
		Kind:       "RENT",
		Amount:     240000,
		Currency:   "USD",
		DueDate:    due,
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-acme", v.TenantID)
	assert.Equal(t, payment.KindRent, f.gotSpec.Kind)
	assert.Equal(t, "jo@example.com", f.gotSpec.Payer.Email)
	assert.Equal(t, due, f.gotSpec.DueDate)
}

func TestPaymentAPI_ErrorsAreStatuses(t *testing.T) {
	f := &fakeUseCases{err: payment.NewRejected(payment.CodeExpiredCard, "expired", nil)}
	a := NewPaymentAPI(f)

	_, err := a.ProcessPayment(context.Background(), ProcessPaymentRequest{PaymentID: "nope"})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))

	_, err = a.ProcessPayment(context.Background(), ProcessPaymentRequest{PaymentID: uuid.NewString(), MethodType: "card", MethodToken: "pm_card_visa"})
	assert.Equal(t, codes.FailedPrecondition, codeOf(err))
	assert.Equal(t, payment.MethodCard, f.gotMethod.Type)

	_, err = a.GetPayment(context.Background(), uuid.NewString())
	assert.Equal(t, codes.NotFound, codeOf(err))

	f.err = payment.ErrInvalidSignature
	assert.Equal(t, codes.InvalidArgument, codeOf(a.ReceiveWebhook(context.Background(), []byte("{}"), "sig")))
	assert.Equal(t, "{}", f.gotPayload)
}

func TestPaymentAPI_MutationsReturnFreshView(t *testing.T) {
	id := uuid.New()
	f := &fakeUseCases{view: &payment.PaymentView{ID: id, Status: payment.StatusPartiallyRefunded}}
	a := NewPaymentAPI(f)

	v, err := a.RefundPayment(context.Background(), RefundPaymentRequest{PaymentID: id.String(), Amount: 5000, Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPartiallyRefunded, v.Status)
	assert.Equal(t, int64(5000), f.gotAmount)
	assert.Equal(t, payment.RefundDuplicate, f.gotReason)

	v, err = a.ArchivePayment(context.Background(), id.String())
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)
}
