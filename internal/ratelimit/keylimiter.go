// Package ratelimit provides a thread-safe API key scheduler. A KeyLimiter
// multiplexes a pool of keys against a per-key sliding-window budget and
// blocks callers only as long as strictly necessary.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// wakeupEpsilon pads every computed wait so two callers racing through the
// same wakeup do not spin on a window boundary.
const wakeupEpsilon = 10 * time.Millisecond

// KeyLimiter admits at most rate requests per window per key. Admission
// history is a bounded queue of monotonic timestamps per key; a key is
// immediately available when its queue is not full or its oldest entry has
// left the window.
type KeyLimiter struct {
	keys   []string
	rate   int
	window time.Duration

	sem     chan struct{} // capacity-1 semaphore guarding history
	history map[string][]time.Time
	now     func() time.Time // injectable clock for tests
	log     zerolog.Logger
}

// New creates a KeyLimiter over the given key pool.
func New(keys []string, rate int, window time.Duration, log zerolog.Logger) (*KeyLimiter, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("key list must not be empty")
	}
	if rate <= 0 || window <= 0 {
		return nil, fmt.Errorf("rate and window must be positive")
	}

	l := &KeyLimiter{
		keys:    keys,
		rate:    rate,
		window:  window,
		sem:     make(chan struct{}, 1),
		history: make(map[string][]time.Time, len(keys)),
		now:     time.Now,
		log:     log.With().Str("component", "ratelimit").Logger(),
	}

	l.log.Info().
		Int("keys", len(keys)).
		Int("rate", rate).
		Dur("window", window).
		Msg("key rate limiter initialized")

	return l, nil
}

// Acquire blocks until some key may admit a request, records the admission
// in that key's history and returns the key. The wait is abortable: when ctx
// is cancelled Acquire returns ctx.Err() without consuming budget.
func (l *KeyLimiter) Acquire(ctx context.Context) (string, error) {
	for {
		if err := l.lock(ctx); err != nil {
			return "", err
		}

		now := l.now()
		if key, ok := l.pickAvailable(now); ok {
			l.history[key] = append(l.history[key], now)
			l.unlock()
			return key, nil
		}

		// All keys are cooling down; compute the shortest wait before any
		// key's oldest admission leaves the window.
		minWait := l.window
		for _, key := range l.keys {
			wait := l.history[key][0].Add(l.window).Sub(now)
			if wait < minWait {
				minWait = wait
			}
		}
		l.unlock()

		if minWait < 0 {
			minWait = 0
		}

		// Sleep outside the lock so other callers can observe state changes.
		timer := time.NewTimer(minWait + wakeupEpsilon)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// pickAvailable returns the least-loaded key that can admit a request at
// instant now, pruning expired history entries as a side effect. Preferring
// the key with the fewest in-window admissions spreads load evenly across
// the pool. Must hold the lock.
func (l *KeyLimiter) pickAvailable(now time.Time) (string, bool) {
	best := ""
	bestLoad := l.rate
	for _, key := range l.keys {
		hist := l.history[key]

		// Drop admissions older than the window.
		for len(hist) > 0 && now.Sub(hist[0]) > l.window {
			hist = hist[1:]
		}
		l.history[key] = hist

		if len(hist) < bestLoad {
			best = key
			bestLoad = len(hist)
		}
	}
	return best, best != ""
}

// lock acquires the internal semaphore, honoring context cancellation.
// The critical section is O(keys), so contention here is negligible.
func (l *KeyLimiter) lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *KeyLimiter) unlock() {
	<-l.sem
}
