package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/internal/common"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, Backoff(base, time.Second, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(base, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, Backoff(base, time.Second, 3))
	assert.Equal(t, time.Second, Backoff(base, time.Second, 5))
	assert.Equal(t, time.Second, Backoff(base, time.Second, 50))
	assert.Equal(t, 100*time.Millisecond, Backoff(base, time.Second, 0))
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Sleep: recordingSleep(&delays)}

	calls := 0
	err := Retry(context.Background(), p, "test", nil, func(context.Context) error {
		calls++
		return common.NewAppError(common.KindTransport, "test", "boom", nil).WithStatus(503)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrTransport))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Sleep: recordingSleep(&delays)}

	calls := 0
	err := Retry(context.Background(), p, "test", nil, func(context.Context) error {
		calls++
		return common.NewAppError(common.KindTransport, "test", "bad request", nil).WithStatus(400)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Sleep: recordingSleep(&delays)}

	calls := 0
	err := Retry(context.Background(), p, "test", nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return common.NewAppError(common.KindNonJSON, "test", "html page", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestRetryCustomPredicate(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("conflict")
	p := Policy{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	p = p.WithRetryable(func(err error) bool { return errors.Is(err, sentinel) })

	calls := 0
	err := Retry(context.Background(), p, "test", nil, func(context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(ctx, p, "test", nil, func(context.Context) error {
		calls++
		cancel()
		return common.NewAppError(common.KindTransport, "test", "boom", nil)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, common.KindCancelled, common.KindOf(err))
}

func TestRetryLogsEachRetry(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, Sleep: recordingSleep(&delays)}

	err := Retry(context.Background(), p, "vault.upload", logger, func(context.Context) error {
		return common.NewAppError(common.KindTransport, "test", "reset", nil)
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, delays)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"msg":"transport.retry"`)))
	assert.Contains(t, buf.String(), `"op":"vault.upload"`)
	assert.Contains(t, buf.String(), `"delay_ms":10`)
}

func TestRetryStopsWhenSleepFails(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Sleep: func(context.Context, time.Duration) error {
		return context.DeadlineExceeded
	}}

	calls := 0
	err := Retry(context.Background(), p, "test", nil, func(context.Context) error {
		calls++
		return common.NewAppError(common.KindTransport, "test", "boom", nil)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, common.KindTimeout, common.KindOf(err))
}

func TestPolicyFromConfig(t *testing.T) {
	t.Parallel()
	p := PolicyFromConfig(common.RetryConfig{MaxAttempts: 7, BaseDelay: time.Second})
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 8*time.Second, p.MaxDelay)
	assert.NotNil(t, p.Retryable)
}
