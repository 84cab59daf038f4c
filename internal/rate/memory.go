package rate

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// SlidingWindow counts events per key over a trailing interval. The key table
// is bounded: past maxKeys the least recently used key is evicted, and keys
// idle for a full interval expire.
type SlidingWindow struct {
	mu       sync.Mutex
	interval time.Duration
	hits     *expirable.LRU[string, []time.Time]
	now      func() time.Time
}

type Option func(*SlidingWindow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindow) { l.now = now }
}

func NewSlidingWindow(interval time.Duration, maxKeys int, opts ...Option) *SlidingWindow {
	if maxKeys <= 0 {
		maxKeys = 50
	}
	l := &SlidingWindow{
		interval: interval,
		hits:     expirable.NewLRU[string, []time.Time](maxKeys, nil, interval),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one event for key and returns ErrRateLimited when key already
// has limit events inside the trailing interval. Rejected attempts are not
// recorded, so a key recovers once its oldest accepted event ages out.
func (l *SlidingWindow) Check(limit int, key string) error {
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.interval)
	prev, _ := l.hits.Get(key)
	kept := make([]time.Time, 0, len(prev)+1)
	for _, t := range prev {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		l.hits.Add(key, kept)
		return ErrRateLimited
	}
	l.hits.Add(key, append(kept, now))
	return nil
}

// Len reports how many keys are currently tracked.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hits.Len()
}
