package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps counters in-process. Only suitable for a single replica.
type MemoryLimiter struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	counters     map[string]*counter
	lastCleanup  time.Time
	cleanupEvery time.Duration
}

type counter struct {
	count int
	reset time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:        limit,
		window:       window,
		counters:     map[string]*counter{},
		lastCleanup:  time.Now(),
		cleanupEvery: window,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupEvery {
		for k, w := range l.counters {
			if now.After(w.reset) {
				delete(l.counters, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.counters[key]
	if !ok || now.After(w.reset) {
		l.counters[key] = &counter{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}

	if w.count >= l.limit {
		retryAfter := w.reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	w.count++
	return true, 0, nil
}
