package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igfeed/pkg/errors"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterStaysInRange(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func TestUniform(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Uniform(10*time.Second, 20*time.Second)
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 20*time.Second)
	}
	assert.Equal(t, 5*time.Second, Uniform(5*time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, Uniform(5*time.Second, time.Second))
}

func TestDoRetriesServerErrors(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeServerError, 502, "bad gateway")
		}
		return nil
	}, &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Second},
		Sleeper:     sleeper,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.delays)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	throttled := errs.New(errs.ErrorTypeRateLimit, 429, "wait")

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return throttled
	}, &Config{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: time.Second}, Sleeper: sleeper})

	assert.ErrorIs(t, err, throttled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errs.New(errs.ErrorTypeServerError, 500, "down")
	}, &Config{MaxAttempts: 2, Backoff: &ConstantBackoff{}, Sleeper: &recordingSleeper{}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retry attempts (2) exceeded")
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error {
		return errs.New(errs.ErrorTypeServerError, 500, "down")
	}, &Config{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: time.Hour}, Sleeper: &recordingSleeper{}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errs.New(errs.ErrorTypeServerError, 503, "busy")
		}
		return []byte("jpeg"), nil
	}, &Config{MaxAttempts: 2, Backoff: &ConstantBackoff{}, Sleeper: &recordingSleeper{}})

	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(errors.New("plain")))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeServerError, 500, "x")))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypeNotFound, 404, "x")))
}

func TestWait(t *testing.T) {
	require.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Wait(ctx, 0), context.Canceled)
}
