package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Policy parameterizes Retry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. Defaults to IsTransient.
	Retryable func(error) bool
	// Sleep waits between attempts. Defaults to common.SleepContext; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is three attempts with exponential backoff starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Retryable:   IsTransient,
	}
}

// PolicyFromConfig builds a policy from retry settings.
func PolicyFromConfig(cfg common.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// WithRetryable returns a copy of p using the given predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// Backoff returns base*2^(attempt-1), capped at max. attempt is 1-based.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Retry runs fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// The last error is returned as-is so callers can inspect its kind.
func Retry(ctx context.Context, p Policy, op string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = common.SleepContext
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := &sleepTimer{ctx: ctx, cancel: cancel, sleep: p.Sleep}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(common.ContextError(op, ctx.Err()))
		case !p.Retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("transport.retry",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(p.MaxAttempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	switch {
	case timer.err != nil:
		return common.ContextError(op, timer.err)
	case err != nil && common.KindOf(err) == "" && ctx.Err() != nil:
		return common.ContextError(op, ctx.Err())
	}
	return err
}

// exponential doubles from BaseDelay up to MaxDelay without jitter.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleepTimer adapts Policy.Sleep to backoff.Timer. Start blocks in Sleep and then fires;
// a failed Sleep cancels the retry context instead.
type sleepTimer struct {
	ctx    context.Context
	cancel context.CancelFunc
	sleep  func(ctx context.Context, d time.Duration) error
	c      chan time.Time
	err    error
}

func (t *sleepTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	if err := t.sleep(t.ctx, d); err != nil {
		t.err = err
		t.cancel()
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }
