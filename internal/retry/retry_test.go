package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTestPolicy() *Policy {
	return &Policy{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	result := fastTestPolicy().Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	policy := fastTestPolicy()
	policy.Retryable = func(err error) bool { return false }

	calls := 0
	result := policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, boom)
}

func TestDo_CancellationKeepsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	result := fastTestPolicy().Do(ctx, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("transient")
	})

	require.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestDelay_ExponentialWithCap(t *testing.T) {
	policy := &Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 4*time.Second, policy.Delay(4), "capped at MaxDelay")
}
