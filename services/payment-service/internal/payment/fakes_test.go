package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/store/memory"
)

// --- Fake Processor ---

type outcome struct {
	ref    string
	status payment.ChargeStatus
	err    error
}

type fakeProcessor struct {
	mu sync.Mutex

	customerErr error
	attachErr   error
	charges     []outcome // consumed in order, the last one repeats
	refunds     []outcome
	status      *payment.StatusResult
	statusErr   error
	event       payment.WebhookEvent
	eventErr    error

	// chargeHook runs inside Charge before the outcome is returned.
	chargeHook   func(ctx context.Context) error
	// customerHook runs inside CreateCustomer, outside the lock.
	customerHook func(ctx context.Context) error

	customerCalls, attachCalls, chargeCalls, refundCalls, queryCalls int
	chargeRequests                                                   []payment.ChargeRequest
	refundRequests                                                   []payment.RefundRequest
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, profile payment.CustomerProfile) (payment.CustomerRef, error) {
	f.mu.Lock()
	hook := f.customerHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerCalls++
	if f.customerErr != nil {
		return "", f.customerErr
	}
	return payment.CustomerRef("cus_" + profile.PayerID), nil
}

func (f *fakeProcessor) AttachPaymentMethod(_ context.Context, _ payment.CustomerRef, method payment.MethodSpec) (payment.MethodRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.attachErr != nil {
		return "", f.attachErr
	}
	return payment.MethodRef(method.Token), nil
}

func (f *fakeProcessor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	f.mu.Lock()
	f.chargeCalls++
	f.chargeRequests = append(f.chargeRequests, req)
	o := next(f.charges, f.chargeCalls)
	hook := f.chargeHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	return &payment.ChargeResult{ExternalRef: o.ref, Status: o.status}, nil
}

func (f *fakeProcessor) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	f.refundRequests = append(f.refundRequests, req)
	o := next(f.refunds, f.refundCalls)
	if o.err != nil {
		return nil, o.err
	}
	return &payment.RefundResult{ExternalRef: o.ref, Status: o.status}, nil
}

func (f *fakeProcessor) QueryStatus(_ context.Context, _ payment.StatusQuery) (*payment.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	return f.status, f.statusErr
}

func (f *fakeProcessor) VerifyWebhookSignature(_ []byte, signature string) (payment.WebhookEvent, error) {
	if signature == "bad" {
		return nil, payment.ErrInvalidSignature
	}
	return f.event, f.eventErr
}

func (f *fakeProcessor) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls + f.chargeCalls + f.refundCalls
}

func next(outcomes []outcome, call int) outcome {
	if len(outcomes) == 0 {
		return outcome{ref: "pi_default", status: payment.ChargeSucceeded}
	}
	if call > len(outcomes) {
		return outcomes[len(outcomes)-1]
	}
	return outcomes[call-1]
}

// --- Fake Publisher / Metrics / Deduper ---

type fakePublisher struct {
	mu     sync.Mutex
	events []payment.DomainEvent
}

func (p *fakePublisher) Publish(_ context.Context, _ string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, value.(payment.DomainEvent))
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type panickingMetrics struct{}

func (panickingMetrics) IncOperation(string, string, string, string) { panic("metrics backend down") }
func (panickingMetrics) ObserveLatency(string, time.Duration)         { panic("metrics backend down") }

type fakeDeduper struct {
	seen      map[string]bool
	forgotten []string
}

func (d *fakeDeduper) MarkSeen(_ context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *fakeDeduper) Forget(_ context.Context, id string) error {
	delete(d.seen, id)
	d.forgotten = append(d.forgotten, id)
	return nil
}

// --- Harness ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *payment.PaymentService
	store  *memory.Store
	proc   *fakeProcessor
	events *fakePublisher
	clock  *fakeClock

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, opts ...payment.Option) *harness {
	t.Helper()
	h := &harness{
		proc:   &fakeProcessor{},
		events: &fakePublisher{},
		clock:  &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.store = memory.NewStore().WithClock(h.clock.Now)
	base := []payment.Option{
		payment.WithClock(h.clock.Now),
		payment.WithEventPublisher(h.events),
		payment.WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			h.clock.Advance(d)
			return ctx.Err()
		}),
	}
	svc, err := payment.NewPaymentService(h.store, h.proc, append(base, opts...)...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func rentSpec() payment.CreatePaymentSpec {
	return payment.CreatePaymentSpec{
		TenantID:   "tenant-acme",
		PropertyID: "prop-17",
		UnitID:     "4B",
		Payer:      payment.CustomerProfile{PayerID: "payer-42", Email: "jane.doe@example.com", Name: "Jane Doe"},
		Kind:       payment.KindRent,
		Amount:     240000,
		Currency:   "USD",
		Frequency:  payment.FrequencyRecurring,
		DueDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Metadata:   map[string]string{"lease_id": "L-2024-7"},
	}
}

var validCard = payment.MethodSpec{Type: payment.MethodCard, Token: "pm_card_visa"}

func (h *harness) createRent(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := h.svc.CreatePayment(context.Background(), rentSpec())
	require.NoError(t, err)
	return p
}

func (h *harness) captured(t *testing.T) *payment.Payment {
	t.Helper()
	p := h.createRent(t)
	h.proc.charges = []outcome{{ref: "pi_rent_1", status: payment.ChargeSucceeded}}
	p, err := h.svc.ProcessPayment(context.Background(), p.ID, validCard)
	require.NoError(t, err)
	require.Equal(t, payment.StatusCaptured, p.Status)
	return p
}

func (h *harness) transactions(t *testing.T, paymentID uuid.UUID) []*payment.TransactionRecord {
	t.Helper()
	txs, err := h.store.ListTransactions(context.Background(), paymentID)
	require.NoError(t, err)
	return txs
}
