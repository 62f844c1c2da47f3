package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingCall(script ...error) (SendFunc, *int) {
	calls := 0
	return func(context.Context) (Receipt, error) {
		calls++
		idx := calls - 1
		if idx >= len(script) {
			idx = len(script) - 1
		}
		if err := script[idx]; err != nil {
			return Receipt{}, err
		}
		return Receipt{PostID: "ok"}, nil
	}, &calls
}

func TestWithRetryTerminalKindsInvokeOnce(t *testing.T) {
	for _, kind := range []ErrorKind{KindAuth, KindContentTooLong, KindInvalidMedia, KindInvalidWebhook, KindDuplicate} {
		t.Run(string(kind), func(t *testing.T) {
			sleeper := &recordingSleeper{}
			call, calls := countingCall(Errorf(Twitter, kind, "nope"))

			got := WithRetry(context.Background(), RetryConfig{MaxRetries: 5}, sleeper.Sleep, call)

			assert.Equal(t, 1, *calls)
			assert.Equal(t, FailedTerminal, got.Outcome)
			assert.Equal(t, kind, KindOf(got.Err))
			assert.Empty(t, sleeper.delays)
		})
	}
}

func TestWithRetryExhausts(t *testing.T) {
	sleeper := &recordingSleeper{}
	first := Errorf(Bluesky, KindUnknown, "first")
	last := Errorf(Bluesky, KindPlatformError, "last")
	call, calls := countingCall(first, first, first, last)

	got := WithRetry(context.Background(), RetryConfig{MaxRetries: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 3}, sleeper.Sleep, call)

	assert.Equal(t, 4, *calls)
	assert.Equal(t, 4, got.Attempts)
	assert.Equal(t, FailedExhausted, got.Outcome)
	assert.Equal(t, KindPlatformError, KindOf(got.Err))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond}, sleeper.delays)
}

func TestWithRetryCapsDelay(t *testing.T) {
	sleeper := &recordingSleeper{}
	call, _ := countingCall(errors.New("boom"))

	WithRetry(context.Background(), RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffMultiplier: 2}, sleeper.Sleep, call)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, sleeper.delays)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		script := make([]error, 0, k+1)
		for i := 0; i < k; i++ {
			script = append(script, Errorf(Mastodon, KindPlatformError, "503"))
		}
		script = append(script, nil)
		call, calls := countingCall(script...)

		got := WithRetry(context.Background(), RetryConfig{MaxRetries: 4}, (&recordingSleeper{}).Sleep, call)

		assert.Equal(t, Succeeded, got.Outcome)
		assert.Equal(t, k+1, *calls)
		assert.Equal(t, "ok", got.Receipt.PostID)
	}
}

func TestWithRetryRecoversPanic(t *testing.T) {
	calls := 0
	call := func(context.Context) (Receipt, error) {
		calls++
		panic("nil map")
	}

	got := WithRetry(context.Background(), RetryConfig{MaxRetries: 2}, (&recordingSleeper{}).Sleep, call)

	assert.Equal(t, 2, calls)
	assert.Equal(t, KindUnknown, KindOf(got.Err))
	assert.Contains(t, got.Err.Error(), "sender panicked")
}

func TestWithRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	call, calls := countingCall(errors.New("boom"))

	got := WithRetry(ctx, RetryConfig{MaxRetries: 3, InitialDelay: time.Hour}, Sleep, call)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, FailedExhausted, got.Outcome)
	require.Error(t, got.Err)
}

func TestRetryConfigDefaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, DefaultRetryConfig(), cfg)
	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 4*time.Second, cfg.Delay(3))
	assert.Equal(t, 10*time.Second, cfg.Delay(10))
}
