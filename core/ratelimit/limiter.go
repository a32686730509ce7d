package ratelimit

import (
	"sync"
	"time"
)

// Result describes one fixed-window decision. Reset is the end of the
// current window; RetryAfter is only meaningful when Limited.
type Result struct {
	Limited    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// BucketStore holds the window counters. The in-memory implementation is
// per-instance state; a multi-instance deployment that needs global limits
// plugs a shared store in here instead.
type BucketStore interface {
	Hit(key string, limit int, window time.Duration, now time.Time) Result
	Clear()
}

type bucket struct {
	count     int
	windowEnd time.Time
	lastSeen  time.Time
}

type MemoryStore struct {
	mu              sync.Mutex
	buckets         map[string]*bucket
	cleanupInterval time.Duration
	lastCleanup     time.Time
	maxBuckets      int
}

const (
	defaultCleanupInterval = time.Minute
	defaultMaxBuckets      = 10000
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:         make(map[string]*bucket),
		cleanupInterval: defaultCleanupInterval,
		maxBuckets:      defaultMaxBuckets,
	}
}

// Hit counts one request against key. The first hit opens a window of the
// given length; hits past the limit are rejected until the window ends, at
// which point the bucket starts a fresh window. Bursts at window boundaries
// are accepted behaviour of the fixed-window scheme.
func (s *MemoryStore) Hit(key string, limit int, window time.Duration, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastCleanup) >= s.cleanupInterval {
		s.cleanup(now)
		s.lastCleanup = now
	}
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		b = &bucket{count: 0, windowEnd: now.Add(window)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	if b.count >= limit {
		retry := b.windowEnd.Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Result{Limited: true, Limit: limit, Remaining: 0, Reset: b.windowEnd, RetryAfter: retry}
	}
	b.count++
	return Result{Limit: limit, Remaining: limit - b.count, Reset: b.windowEnd}
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string]*bucket)
}

func (s *MemoryStore) cleanup(now time.Time) {
	for key, b := range s.buckets {
		if now.After(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
	for len(s.buckets) > s.maxBuckets {
		oldestKey := ""
		var oldest time.Time
		for key, b := range s.buckets {
			if oldestKey == "" || b.lastSeen.Before(oldest) {
				oldestKey = key
				oldest = b.lastSeen
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.buckets, oldestKey)
	}
}

// Limiter applies a fixed-window policy over a BucketStore.
type Limiter struct {
	store BucketStore
}

func NewLimiter(store BucketStore) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store}
}

func (l *Limiter) Check(key string, limit int, window time.Duration) Result {
	return l.store.Hit(key, limit, window, time.Now().UTC())
}

func (l *Limiter) Reset() {
	l.store.Clear()
}
