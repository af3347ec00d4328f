package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireSucceedsWithinCapacity(t *testing.T) {
	l := New("p1", Config{RPM: 60, TPM: 10000})
	err := l.Acquire(context.Background(), 100, time.Second)
	require.NoError(t, err)

	stats := l.GetStats()
	require.InDelta(t, 59, stats.AvailableRPM, 0.5)
	require.InDelta(t, 9900, stats.AvailableTPM, 5)
}

func TestAcquireNeverExceedsCapacity(t *testing.T) {
	l := New("p1", Config{RPM: 60, TPM: 1000})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), 1, time.Second))
	}
	stats := l.GetStats()
	require.LessOrEqual(t, stats.AvailableRPM, stats.RPMCapacity)
	require.GreaterOrEqual(t, stats.AvailableRPM, 0.0)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	l := New("p1", Config{RPM: 1, TPM: 100})
	require.NoError(t, l.Acquire(context.Background(), 10, time.Second))

	start := time.Now()
	err := l.Acquire(context.Background(), 10, 150*time.Millisecond)
	require.Error(t, err)
	require.WithinDuration(t, start.Add(150*time.Millisecond), time.Now(), 100*time.Millisecond)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	l := New("p1", Config{RPM: 1, TPM: 100})
	require.NoError(t, l.Acquire(context.Background(), 10, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := l.Acquire(ctx, 10, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMapGetUnknownProvider(t *testing.T) {
	m := NewMap(map[string]Config{"p1": {RPM: 60, TPM: 1000}})
	_, err := m.Get("p1")
	require.NoError(t, err)
	_, err = m.Get("missing")
	require.Error(t, err)
}
