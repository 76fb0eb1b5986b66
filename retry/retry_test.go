package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lampkit/core"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var waits []time.Duration
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond, OnRetry: func(_ error, next time.Duration) {
		waits = append(waits, next)
	}}

	v, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("rate limited")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d", calls)
	})
	require.Error(t, err)
	assert.Equal(t, "attempt 3", err.Error())
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryRejection(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("sign: %w", core.ErrRejected)
	})
	require.ErrorIs(t, err, core.ErrRejected)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, Policy{Attempts: 3, BaseDelay: time.Hour}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestWait(t *testing.T) {
	require.NoError(t, Wait(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
