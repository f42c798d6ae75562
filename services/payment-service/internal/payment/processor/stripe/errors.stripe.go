// services/payment-service/internal/payment/processor/stripe/errors.stripe.go
package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v79"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// mapStripeError converts stripe-go errors into domain errors so no stripe type leaks into
// the orchestrator. Retryability is decided by the Kind: unavailable retries, rejected never does.
func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return payment.NewUnavailable(payment.CodeTimeout, "stripe request timed out", err)
		case errors.Is(err, context.Canceled):
			return payment.NewUnavailable(payment.CodeNetwork, "stripe request canceled", err)
		}
		// Transport failure: the request may or may not have reached Stripe. The idempotency key
		// makes the retry safe.
		return payment.NewUnavailable(payment.CodeNetwork, "stripe request failed", err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.Code == stripe.ErrorCodeRateLimit:
		return payment.NewUnavailable(payment.CodeRateLimited, se.Msg, err)
	case se.Code == stripe.ErrorCodeLockTimeout:
		return payment.NewUnavailable(payment.CodeProcessorError, se.Msg, err)
	case se.HTTPStatusCode >= http.StatusInternalServerError || se.Type == stripe.ErrorTypeAPI:
		return payment.NewUnavailable(payment.CodeProcessorError, se.Msg, err)
	case se.Type == stripe.ErrorTypeIdempotency || se.Code == stripe.ErrorCodeIdempotencyKeyInUse:
		return payment.NewRejected(payment.CodeIdempotencyCollision, se.Msg, err)
	case se.Type == stripe.ErrorTypeCard:
		return payment.NewRejected(declineCode(se), se.Msg, err)
	case se.Code == stripe.ErrorCodeAuthenticationRequired:
		return payment.NewRejected(payment.CodeRequiresAction, se.Msg, err)
	}
	return payment.NewRejected(payment.CodeInvalidRequest, se.Msg, err)
}

// mapAttachError reports unusable tokens as an invalid payment method.
func mapAttachError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode < http.StatusInternalServerError &&
		(se.Code == stripe.ErrorCodeResourceMissing || se.Type == stripe.ErrorTypeInvalidRequest) {
		return &payment.ProcessorError{
			Kind:    payment.ErrInvalidPaymentMethod,
			Code:    payment.CodeInvalidPaymentMethod,
			Message: se.Msg,
			Err:     err,
		}
	}
	return mapStripeError(err)
}

// declineCode picks the most specific reason out of a card error.
func declineCode(se *stripe.Error) string {
	switch string(se.DeclineCode) {
	case "insufficient_funds":
		return payment.CodeInsufficientFunds
	case "fraudulent", "merchant_blacklist", "stolen_card", "lost_card":
		return payment.CodeFraudHold
	}
	switch se.Code {
	case stripe.ErrorCodeExpiredCard:
		return payment.CodeExpiredCard
	case stripe.ErrorCodeIncorrectCVC:
		return payment.CodeIncorrectCVC
	case stripe.ErrorCodeBalanceInsufficient:
		return payment.CodeInsufficientFunds
	case stripe.ErrorCodeAuthenticationRequired:
		return payment.CodeRequiresAction
	}
	return payment.CodeCardDeclined
}

func isNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && (se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing)
}
