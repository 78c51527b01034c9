package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, keys []string, rate int, window time.Duration) *KeyLimiter {
	t.Helper()
	l, err := New(keys, rate, window, zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, err)
	return l
}

func TestNewValidation(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	_, err := New(nil, 5, time.Minute, log)
	assert.Error(t, err)

	_, err = New([]string{"k"}, 0, time.Minute, log)
	assert.Error(t, err)

	_, err = New([]string{"k"}, 5, 0, log)
	assert.Error(t, err)
}

func TestAcquireRoundRobinThenBlocks(t *testing.T) {
	l := newTestLimiter(t, []string{"k1", "k2"}, 2, time.Minute)

	base := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	ctx := context.Background()

	// First four acquires alternate between the keys without waiting.
	for _, want := range []string{"k1", "k2", "k1", "k2"} {
		got, err := l.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Fifth acquire must wait until k1's oldest admission leaves the
	// window. Advance the fake clock once the limiter starts sleeping.
	done := make(chan string, 1)
	go func() {
		got, err := l.Acquire(ctx)
		require.NoError(t, err)
		done <- got
	}()

	select {
	case got := <-done:
		t.Fatalf("fifth acquire returned %q before window elapsed", got)
	case <-time.After(50 * time.Millisecond):
	}

	clock = base.Add(61 * time.Second)

	select {
	case got := <-done:
		assert.Equal(t, "k1", got)
	case <-time.After(2 * time.Second):
		t.Fatal("fifth acquire did not complete after window elapsed")
	}
}

func TestAcquireNeverExceedsWindowBudget(t *testing.T) {
	const (
		rate   = 3
		window = 200 * time.Millisecond
		total  = 10
	)
	l := newTestLimiter(t, []string{"only"}, rate, window)

	ctx := context.Background()
	var stamps []time.Time
	for i := 0; i < total; i++ {
		_, err := l.Acquire(ctx)
		require.NoError(t, err)
		stamps = append(stamps, time.Now())
	}

	// Any window-sized slice of admissions must hold at most rate entries.
	for i := range stamps {
		count := 0
		for j := i; j < len(stamps); j++ {
			if stamps[j].Sub(stamps[i]) <= window {
				count++
			}
		}
		assert.LessOrEqual(t, count, rate, "admissions %d..%d exceed budget", i, i+count-1)
	}
}

func TestAcquireAbortsOnContextCancel(t *testing.T) {
	l := newTestLimiter(t, []string{"k"}, 1, time.Hour)

	_, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not abort on cancellation")
	}
}

func TestAcquireRotatesKeys(t *testing.T) {
	l := newTestLimiter(t, []string{"a", "b", "c"}, 1, time.Hour)

	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		key, err := l.Acquire(ctx)
		require.NoError(t, err)
		seen[key] = true
	}
	assert.Len(t, seen, 3)
}
