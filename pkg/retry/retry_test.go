package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), 5, Constant(time.Millisecond), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("always failing")
	attempts := 0

	err := Do(context.Background(), 3, Constant(time.Millisecond), func(context.Context) error {
		attempts++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, 3, Constant(time.Hour), func(context.Context) error {
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoRejectsInvalidAttempts(t *testing.T) {
	err := Do(context.Background(), 0, Constant(time.Millisecond), func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestExponentialBackoff(t *testing.T) {
	backoff := Exponential(100*time.Millisecond, time.Second)

	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 200*time.Millisecond, backoff(2))
	assert.Equal(t, 400*time.Millisecond, backoff(3))
	// Потолок.
	assert.Equal(t, time.Second, backoff(10))
	assert.Equal(t, time.Second, backoff(60))
}
