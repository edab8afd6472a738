package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable_Statuses(t *testing.T) {
	assert.True(t, IsRetryable(Attempt{Status: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(Attempt{Status: http.StatusBadGateway}))
	assert.True(t, IsRetryable(Attempt{Status: http.StatusServiceUnavailable}))
	assert.False(t, IsRetryable(Attempt{Status: http.StatusOK}))
	assert.False(t, IsRetryable(Attempt{Status: http.StatusBadRequest}))
}

func TestIsRetryable_DeadlineExceeded(t *testing.T) {
	assert.True(t, IsRetryable(Attempt{Err: context.DeadlineExceeded}))
}

func TestIsRetryable_DialError(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.True(t, IsRetryable(Attempt{Err: err}))
}

func TestDo_StopsOnFirstSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), 3, time.Millisecond, nil, func(ctx context.Context) Attempt {
		calls++
		return Attempt{Status: http.StatusOK}
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, result.Status)
}

func TestDo_RetriesUpToMaxThenReturnsLastAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), 2, time.Millisecond, nil, func(ctx context.Context) Attempt {
		calls++
		return Attempt{Status: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, http.StatusServiceUnavailable, result.Status)
}

func TestDo_DoesNotRetryNonRetryableFailure(t *testing.T) {
	calls := 0
	result := Do(context.Background(), 5, time.Millisecond, nil, func(ctx context.Context) Attempt {
		calls++
		return Attempt{Status: http.StatusBadRequest}
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusBadRequest, result.Status)
}

func TestDo_InvokesOnRetryCallbackWithAttemptNumber(t *testing.T) {
	var seen []int
	Do(context.Background(), 2, time.Millisecond, func(attempt int) {
		seen = append(seen, attempt)
	}, func(ctx context.Context) Attempt {
		return Attempt{Status: http.StatusServiceUnavailable}
	})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_RespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	calls := 0
	result := Do(ctx, 10, 50*time.Millisecond, nil, func(ctx context.Context) Attempt {
		calls++
		return Attempt{Status: http.StatusServiceUnavailable}
	})

	assert.Less(t, calls, 11, "should abandon retries once the remaining deadline is shorter than the next backoff")
	assert.Equal(t, http.StatusServiceUnavailable, result.Status)
}

func TestDo_ContextCancelledDuringSleepIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	result := Do(ctx, 5, 100*time.Millisecond, nil, func(ctx context.Context) Attempt {
		calls++
		return Attempt{Status: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.Err, context.Canceled)
}
