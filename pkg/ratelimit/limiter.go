// Package ratelimit enforces a minimum interval between accepted edits.
//
// Each key (a session id, or a client IP when limiting by address) gets a
// token bucket with burst 1 that refills once per cooldown window, which is
// exactly "accept iff at least one window passed since the last accepted
// edit". A zero window disables limiting.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks the last accepted edit per key. Safe for concurrent use.
type Limiter struct {
	cooldown time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter with the given cooldown window. A window <= 0 allows
// every edit.
func New(cooldown time.Duration) *Limiter {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Limiter{
		cooldown: cooldown,
		buckets:  make(map[string]*bucket),
	}
}

// Cooldown returns the configured window.
func (l *Limiter) Cooldown() time.Duration {
	return l.cooldown
}

// Allow reports whether an edit by key at now is accepted. An accepted edit
// is recorded; a rejected one leaves the key's state unchanged. The first
// edit for an unknown key is always accepted.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l.cooldown == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(l.cooldown), 1)}
		l.buckets[key] = b
	}
	if !b.lim.AllowN(now, 1) {
		return false
	}
	b.lastSeen = now
	return true
}

// Forget drops all state for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Prune drops keys whose last accepted edit is at least one window old.
// Such keys would be accepted again anyway, so forgetting them is lossless.
// It returns the number of keys removed.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.cooldown {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
