package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLocalKeys bounds the bucket map before idle buckets are swept.
const maxLocalKeys = 10000

// LocalLimiter keeps one token bucket per key in memory. The bucket refills
// Limit tokens per Window with a burst of Limit. The clock is injectable so
// tests can step time.
type LocalLimiter struct {
	mu      sync.Mutex
	rule    Rule
	limit   rate.Limit
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter for rule. A nil clock means
// time.Now.
func NewLocalLimiter(rule Rule, clock func() time.Time) *LocalLimiter {
	if clock == nil {
		clock = time.Now
	}
	limit := rate.Inf
	if rule.Limit > 0 && rule.Window > 0 {
		limit = rate.Every(rule.Window / time.Duration(rule.Limit))
	}
	return &LocalLimiter{
		rule:    rule,
		limit:   limit,
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for key.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLocalKeys {
			l.sweepLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.rule.Limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// sweepLocked drops buckets idle for a full window; they would be full
// again anyway.
func (l *LocalLimiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.rule.Window {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
