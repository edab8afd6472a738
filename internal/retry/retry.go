// Package retry wraps a fallible outbound call with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

const maxBackoff = 5000 * time.Millisecond

// retryableStatuses is the set of HTTP statuses considered transient.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Attempt carries the outcome of one call: its HTTP status (0 if the failure never reached an
// HTTP response) and the error, if any.
type Attempt struct {
	Status int
	Err    error
}

// IsRetryable reports whether a failure should be retried: a transport/timeout error, or an
// HTTP status in {429, 500, 502, 503, 504}.
func IsRetryable(a Attempt) bool {
	if a.Err != nil {
		if errors.Is(a.Err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(a.Err, &netErr) {
			return netErr.Timeout() || isDialError(a.Err)
		}
		return isDialError(a.Err)
	}
	return retryableStatuses[a.Status]
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// OnRetry is invoked once per retry attempt (for metrics).
type OnRetry func(attempt int)

// Do invokes call up to maxRetries+1 times, sleeping a doubling, jittered backoff between
// attempts. It never exceeds ctx's deadline: if the remaining budget is shorter than the next
// backoff, it abandons retries and returns the last attempt. Context cancellation is terminal.
func Do(ctx context.Context, maxRetries int, initialBackoff time.Duration, onRetry OnRetry, call func(ctx context.Context) Attempt) Attempt {
	backoff := initialBackoff

	for i := 0; ; i++ {
		attempt := call(ctx)

		if !IsRetryable(attempt) {
			return attempt
		}
		if i >= maxRetries || ctx.Err() != nil {
			return attempt
		}

		jitter := 0.95 + rand.Float64()*0.10
		sleep := time.Duration(float64(backoff) * jitter)

		if dl, ok := ctx.Deadline(); ok {
			if time.Until(dl) < sleep {
				return attempt
			}
		}

		if onRetry != nil {
			onRetry(i + 1)
		}

		select {
		case <-ctx.Done():
			attempt.Err = ctx.Err()
			return attempt
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
