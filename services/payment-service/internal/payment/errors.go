// services/payment-service/internal/payment/errors.go
package payment

import (
	"errors"
	"fmt"
)

// Standard payment errors. The api layer maps these to transport status codes.
var (
	// ErrValidation rejects a malformed request before any processor contact.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState protects the aggregate state machine.
	ErrInvalidState = errors.New("payment is not in the required state")
	// ErrProcessorUnavailable is retryable: network, timeout, processor 5xx.
	ErrProcessorUnavailable = errors.New("payment processor is temporarily unavailable")
	// ErrProcessorRejected is terminal: decline, invalid card, fraud hold.
	ErrProcessorRejected = errors.New("payment processor rejected the request")
	// ErrInvalidSignature means the webhook must be discarded.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrVersionConflict is returned by the storage layer when an expected version does not match.
	ErrVersionConflict = errors.New("version conflict")
	// ErrConcurrentModification surfaces once conflict retries are exhausted.
	ErrConcurrentModification = errors.New("payment was modified concurrently, refresh and retry")
	// ErrOperationTimeout is returned when a use case exceeds its overall deadline.
	ErrOperationTimeout = errors.New("operation timed out")

	ErrPaymentNotFound     = errors.New("payment not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidPaymentMethod is a validation error raised before calling out.
	ErrInvalidPaymentMethod = fmt.Errorf("%w: invalid payment method", ErrValidation)
	// ErrCircuitOpen is the circuit breaker fallback. It counts as processor unavailability.
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", ErrProcessorUnavailable)

	// ErrInvalidTransition is raised by the transaction state machine.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
	// ErrTransitionSatisfied marks a transition whose target state already holds.
	// Callers treat it as a no-op.
	ErrTransitionSatisfied = errors.New("transition already satisfied")
)

// Processor error codes recorded on Transaction Records.
const (
	CodeCardDeclined         = "card_declined"
	CodeInsufficientFunds    = "insufficient_funds"
	CodeExpiredCard          = "expired_card"
	CodeIncorrectCVC         = "incorrect_cvc"
	CodeFraudHold            = "fraud_hold"
	CodeRequiresAction       = "requires_action"
	CodeInvalidRequest       = "invalid_request"
	CodeIdempotencyCollision = "idempotency_collision"
	CodeTimeout              = "timeout"
	CodeNetwork              = "network_error"
	CodeRateLimited          = "rate_limited"
	CodeProcessorError       = "processor_error"
	CodeCircuitOpen          = "circuit_open"
	CodeInvalidPaymentMethod = "invalid_payment_method"
	CodeReconcileNotFound    = "reconcile_not_found"
	CodeUnknown              = "unknown"
)

// ProcessorError carries the processor-side code for a failed call.
// It unwraps to both its Kind sentinel and the underlying cause.
type ProcessorError struct {
	Kind    error  // ErrProcessorUnavailable, ErrProcessorRejected or ErrInvalidPaymentMethod
	Code    string // e.g. "card_declined"
	Message string
	Err     error
}

func (e *ProcessorError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%v (%s)", e.Kind, e.Code)
}

func (e *ProcessorError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewRejected builds a non-retryable processor error.
func NewRejected(code, message string, cause error) *ProcessorError {
	return &ProcessorError{Kind: ErrProcessorRejected, Code: code, Message: message, Err: cause}
}

// NewUnavailable builds a retryable processor error.
func NewUnavailable(code, message string, cause error) *ProcessorError {
	return &ProcessorError{Kind: ErrProcessorUnavailable, Code: code, Message: message, Err: cause}
}

// ErrorCode extracts a stable error code for persistence and metrics.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProcessorError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrInvalidPaymentMethod):
		return CodeInvalidPaymentMethod
	case isTimeout(err):
		return CodeTimeout
	case errors.Is(err, ErrProcessorUnavailable):
		return CodeProcessorError
	case errors.Is(err, ErrProcessorRejected):
		return CodeCardDeclined
	}
	return CodeUnknown
}

// IsRetryableCode classifies a persisted or webhook-reported error code.
func IsRetryableCode(code string) bool {
	switch code {
	case CodeTimeout, CodeNetwork, CodeRateLimited, CodeProcessorError, CodeCircuitOpen:
		return true
	}
	return false
}
