package publish

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/blacktop/unipost/internal/logutil"
)

// RetryConfig bounds how often a failed send is attempted.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the policy used when none is supplied.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

// withDefaults fills zero fields from DefaultRetryConfig.
func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// Delay returns the pause after the given 1-based failed attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Outcome is the final state of a retried call.
type Outcome int

const (
	Succeeded Outcome = iota
	FailedTerminal
	FailedExhausted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case FailedTerminal:
		return "failed_terminal"
	case FailedExhausted:
		return "failed_exhausted"
	}
	return "unknown"
}

// Attempt summarizes a retried call.
type Attempt struct {
	Receipt  Receipt
	Err      error
	Outcome  Outcome
	Attempts int
}

// SendFunc performs one send.
type SendFunc func(ctx context.Context) (Receipt, error)

// WithRetry invokes call until it succeeds, fails with a terminal kind or
// MaxRetries invocations have been made. A panic inside call is recovered and
// treated as an unknown failure. If ctx ends while waiting between attempts
// the last failure is returned as exhausted.
func WithRetry(ctx context.Context, cfg RetryConfig, sleep Sleeper, call SendFunc) Attempt {
	cfg = cfg.withDefaults()
	if sleep == nil {
		sleep = Sleep
	}

	var last Attempt
	for attempt := 1; ; attempt++ {
		receipt, err := safeCall(ctx, call)
		last = Attempt{Receipt: receipt, Err: err, Attempts: attempt}
		if err == nil {
			last.Outcome = Succeeded
			return last
		}

		kind := KindOf(err)
		if kind.Terminal() {
			last.Outcome = FailedTerminal
			return last
		}
		if attempt >= cfg.MaxRetries {
			last.Outcome = FailedExhausted
			return last
		}

		delay := cfg.Delay(attempt)
		logutil.With("attempt", attempt, "kind", kind, "delay", delay).Debugf("retrying after failure: %v", err)
		if err := sleep(ctx, delay); err != nil {
			last.Outcome = FailedExhausted
			return last
		}
	}
}

func safeCall(ctx context.Context, call SendFunc) (receipt Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindUnknown, Message: fmt.Sprintf("sender panicked: %v", r)}
		}
	}()
	return call(ctx)
}
