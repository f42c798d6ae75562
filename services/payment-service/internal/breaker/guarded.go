// services/payment-service/internal/breaker/guarded.go
package breaker

import (
	"context"
	"fmt"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// GuardedProcessor decorates a ProcessorAdapter with the breaker and a per-call timeout.
// While the circuit is open every call fails fast with payment.ErrCircuitOpen, which the
// orchestrator classifies as retryable.
type GuardedProcessor struct {
	inner   payment.ProcessorAdapter
	breaker *Breaker
}

var _ payment.ProcessorAdapter = (*GuardedProcessor)(nil)

func Guard(inner payment.ProcessorAdapter, b *Breaker) *GuardedProcessor {
	return &GuardedProcessor{inner: inner, breaker: b}
}

func (g *GuardedProcessor) CreateCustomer(ctx context.Context, profile payment.CustomerProfile) (payment.CustomerRef, error) {
	var ref payment.CustomerRef
	err := g.call(ctx, func(ctx context.Context) (err error) {
		ref, err = g.inner.CreateCustomer(ctx, profile)
		return err
	})
	return ref, err
}

func (g *GuardedProcessor) AttachPaymentMethod(ctx context.Context, customer payment.CustomerRef, method payment.MethodSpec) (payment.MethodRef, error) {
	var ref payment.MethodRef
	err := g.call(ctx, func(ctx context.Context) (err error) {
		ref, err = g.inner.AttachPaymentMethod(ctx, customer, method)
		return err
	})
	return ref, err
}

func (g *GuardedProcessor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	var res *payment.ChargeResult
	err := g.call(ctx, func(ctx context.Context) (err error) {
		res, err = g.inner.Charge(ctx, req)
		return err
	})
	return res, err
}

func (g *GuardedProcessor) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	var res *payment.RefundResult
	err := g.call(ctx, func(ctx context.Context) (err error) {
		res, err = g.inner.Refund(ctx, req)
		return err
	})
	return res, err
}

func (g *GuardedProcessor) QueryStatus(ctx context.Context, q payment.StatusQuery) (*payment.StatusResult, error) {
	var res *payment.StatusResult
	err := g.call(ctx, func(ctx context.Context) (err error) {
		res, err = g.inner.QueryStatus(ctx, q)
		return err
	})
	return res, err
}

// VerifyWebhookSignature is local computation and is not guarded.
func (g *GuardedProcessor) VerifyWebhookSignature(payload []byte, signature string) (payment.WebhookEvent, error) {
	return g.inner.VerifyWebhookSignature(payload, signature)
}

func (g *GuardedProcessor) call(ctx context.Context, fn func(ctx context.Context) error) error {
	done, err := g.breaker.Allow()
	if err != nil {
		return fmt.Errorf("%w: %w", payment.ErrCircuitOpen, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.breaker.Config().RequestTimeout)
	defer cancel()

	err = fn(callCtx)
	done(classify(ctx, err))
	return err
}

// classify counts only processor-health failures. Declines and validation errors prove the
// processor is answering.
func classify(parent context.Context, err error) Result {
	switch {
	case err == nil:
		return Success
	case parent.Err() != nil:
		// The caller gave up; says nothing about the processor.
		return Ignored
	case payment.IsRetryAbleError(err):
		return Failure
	}
	return Success
}
