// Package ratelimit guards the verification-attempt endpoints. One
// token bucket per caller key, idle buckets evicted lazily.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleEviction = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// New builds a limiter allowing perMinute sustained attempts with the
// given burst per key.
func New(perMinute, burst int) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether the keyed caller may make another attempt now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	l.evictLocked(now)
	return e.limiter.Allow()
}

func (l *Limiter) evictLocked(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > idleEviction {
			delete(l.entries, key)
		}
	}
}
