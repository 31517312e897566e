package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BackoffBlocksUntilContextDone(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1000, BurstSize: 10})
	require.True(t, l.Allow())

	l.Backoff(time.Hour)
	assert.False(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLimiter_Defaults(t *testing.T) {
	l := New(Config{})
	assert.NoError(t, l.Wait(context.Background()))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, RetryDelay(0))
	assert.Equal(t, 400*time.Millisecond, RetryDelay(1))
	assert.Equal(t, 5*time.Second, RetryDelay(10))
	assert.Equal(t, 200*time.Millisecond, RetryDelay(-3))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestQuota(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	q := NewQuota(QuotaConfig{PerClientHourly: 2, PerClientDaily: 3, GlobalDaily: 4})
	q.now = func() time.Time { return now }

	left, err := q.Take("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = q.Take("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = q.Take("1.2.3.4")
	assert.ErrorIs(t, err, ErrClientLimit)

	// another client still has budget until the global one runs out
	_, err = q.Take("5.6.7.8")
	require.NoError(t, err)
	_, err = q.Take("5.6.7.8")
	require.NoError(t, err)
	_, err = q.Take("9.9.9.9")
	assert.ErrorIs(t, err, ErrGlobalLimit)

	// an hour later the hourly bucket has refilled but the daily one has not
	now = now.Add(time.Hour)
	q.global = perWindow(100, 24*time.Hour)
	_, err = q.Take("1.2.3.4")
	require.NoError(t, err)
	_, err = q.Take("1.2.3.4")
	assert.ErrorIs(t, err, ErrClientLimit)
}

func TestQuota_TrackedClientsBounded(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	q := NewQuota(QuotaConfig{PerClientHourly: 5, PerClientDaily: 10, GlobalDaily: 1000})
	q.now = func() time.Time { return now }
	q.limit = 3

	// every client is mid-budget, so none has refilled when the cap is hit
	for i := range 10 {
		now = now.Add(time.Second)
		_, err := q.Take(fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(q.clients), 3)
	}
	assert.Contains(t, q.clients, "10.0.0.9")
	assert.Contains(t, q.clients, "10.0.0.8")
	assert.NotContains(t, q.clients, "10.0.0.0")
}
