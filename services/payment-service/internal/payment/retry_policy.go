// services/payment-service/internal/payment/retry_policy.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Defaults for the payment retry loop.
const (
	DefaultMaxRetries      = 3
	DefaultConflictRetries = 3
)

// DefaultBackoff is the fixed retry schedule. Attempts past the end reuse the last step.
var DefaultBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// RetryPolicy bounds the payment retry loop and the separate optimistic-concurrency loop.
type RetryPolicy struct {
	MaxRetries      int
	Backoff         []time.Duration
	ConflictRetries int
}

// DefaultRetryPolicy returns the production schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      DefaultMaxRetries,
		Backoff:         append([]time.Duration(nil), DefaultBackoff...),
		ConflictRetries: DefaultConflictRetries,
	}
}

// Validate fails fast on a policy that could never make progress.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrValidation)
	}
	if p.MaxRetries > 0 && len(p.Backoff) == 0 {
		return fmt.Errorf("%w: backoff schedule is required when retries are enabled", ErrValidation)
	}
	for _, d := range p.Backoff {
		if d < 0 {
			return fmt.Errorf("%w: negative backoff %s", ErrValidation, d)
		}
	}
	if p.ConflictRetries < 1 {
		return fmt.Errorf("%w: conflict retries must be >= 1", ErrValidation)
	}
	return nil
}

// BackoffFor returns the delay before the given retry (1-based).
func (p RetryPolicy) BackoffFor(retry int) time.Duration {
	if len(p.Backoff) == 0 || retry < 1 {
		return 0
	}
	if retry > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[retry-1]
}

// IsRetryAbleError classifies a failed processor call.
// Network, timeout and processor-side outages retry; declines, invalid card and validation never do.
func IsRetryAbleError(err error) bool {
	if err == nil { // No error, no retry needed
		return false
	}
	// Explicit classification wins over anything found deeper in the chain.
	if errors.Is(err, ErrProcessorRejected) || errors.Is(err, ErrValidation) {
		return false
	}
	if errors.Is(err, ErrProcessorUnavailable) {
		return true
	}
	return isRetryAbleNetworkError(err) || isRetryAbleSystemError(err)
}

func isRetryAbleNetworkError(err error) bool {
	if isTimeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isRetryAbleSystemError(err error) bool {
	// Connection Refused / Reset
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
