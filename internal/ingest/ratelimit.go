package ingest

import (
	"sync"
	"time"
)

// Limiter throttles how often a progress message may be edited for a
// given key, avoiding the upstream's flood-control penalty on rapid
// successive edits. One edit per window is allowed; calls within the
// window are dropped rather than queued.
type Limiter struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLimiter creates a Limiter allowing one Allow per window per key.
func NewLimiter(window time.Duration) *Limiter {
	return &Limiter{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether an edit for key may proceed now, updating the
// key's timestamp if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.window {
		return false
	}
	l.last[key] = now
	return true
}

// Forget drops key's rate-limit state, used once an upload or download
// completes so a later ingest for the same user starts fresh.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, key)
}
