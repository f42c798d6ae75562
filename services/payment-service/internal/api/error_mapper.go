// services/payment-service/internal/api/error_mapper.go
package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// MapError translates domain errors into transport-safe gRPC statuses.
// Only validation messages and processor decline codes reach the caller; everything
// unexpected collapses to Internal.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, payment.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, payment.ErrInvalidSignature):
		return status.Error(codes.InvalidArgument, "invalid webhook signature")
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, payment.ErrTransactionNotFound):
		return status.Error(codes.NotFound, "payment not found")
	case errors.Is(err, payment.ErrInvalidState), errors.Is(err, payment.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, "payment is not in a state that allows this operation")
	case errors.Is(err, payment.ErrProcessorRejected):
		msg := "payment declined"
		if code := payment.ErrorCode(err); code != "" && code != payment.CodeUnknown {
			msg += ": " + code
		}
		return status.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, payment.ErrOperationTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "operation timed out")
	case errors.Is(err, payment.ErrProcessorUnavailable):
		return status.Error(codes.Unavailable, "payment processor is temporarily unavailable, retry later")
	case errors.Is(err, payment.ErrConcurrentModification), errors.Is(err, payment.ErrVersionConflict):
		return status.Error(codes.Aborted, "payment was modified concurrently, refresh and retry")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}

	// Fallback (never leak internals)
	return status.Error(codes.Internal, "internal error")
}
