package grid

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Backoff kinds understood by RetryPolicy.
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
	BackoffConstant    = "constant"
)

// RetryPolicy decides whether a failed scheduler call is repeated and how
// long to wait first. Only transport-level failures are retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    string
	Base       time.Duration
}

// DefaultRetryPolicy retries a call three times, starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: BackoffExponential, Base: 100 * time.Millisecond}
}

// ShouldRetry reports whether attempt (0-based) may be followed by another.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// BackoffDuration returns the wait before retry number attempt (1-based).
func (p RetryPolicy) BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	switch p.Backoff {
	case BackoffLinear:
		return p.Base * time.Duration(attempt)
	case BackoffConstant:
		return p.Base
	default:
		return p.Base << (attempt - 1)
	}
}

// do runs call until it succeeds, fails permanently or ctx is done.
func (p RetryPolicy) do(ctx context.Context, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if !p.ShouldRetry(attempt, err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.BackoffDuration(attempt + 1)):
		}
	}
}
