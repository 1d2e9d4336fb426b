package ratelimit

import (
	"container/list"
	"sync"
)

// SenderLimiter enforces a per-sender signal posting rate. One token bucket
// is kept per authenticated user, with LRU eviction bounding the number of
// tracked senders so an attacker rotating identities cannot grow memory
// without bound.
type SenderLimiter struct {
	clock Clock

	rate       int64 // signals/sec, also the burst capacity
	maxTracked int

	mu      sync.Mutex
	buckets map[string]*senderBucketEntry
	lru     *list.List
}

type senderBucketEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

// NewSenderLimiter returns a limiter allowing rate signals/sec per sender.
// rate <= 0 disables limiting. maxTracked <= 0 selects a safe default.
func NewSenderLimiter(clock Clock, rate int, maxTracked int) *SenderLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if maxTracked <= 0 {
		maxTracked = 4096
	}
	return &SenderLimiter{
		clock:      clock,
		rate:       int64(rate),
		maxTracked: maxTracked,
		buckets:    make(map[string]*senderBucketEntry),
		lru:        list.New(),
	}
}

// Allow reports whether userID may post one more signal now.
func (l *SenderLimiter) Allow(userID string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	return l.bucketFor(userID).Allow(1)
}

func (l *SenderLimiter) bucketFor(userID string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.buckets[userID]; ok {
		l.lru.MoveToFront(entry.elem)
		return entry.bucket
	}

	if len(l.buckets) >= l.maxTracked {
		// Evict the least-recently used sender (oldest at the back).
		if elem := l.lru.Back(); elem != nil {
			evictKey := elem.Value.(string)
			l.lru.Remove(elem)
			delete(l.buckets, evictKey)
		}
	}

	bucket := NewTokenBucket(l.clock, l.rate, l.rate)
	elem := l.lru.PushFront(userID)
	l.buckets[userID] = &senderBucketEntry{bucket: bucket, elem: elem}
	return bucket
}

// Tracked reports the number of senders currently holding a bucket.
func (l *SenderLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
