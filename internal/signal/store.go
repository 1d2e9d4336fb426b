package signal

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CallKey returns the canonical mailbox key for a pair of users. The two IDs
// are sorted before joining, so caller and callee always address the same
// record regardless of argument order.
func CallKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// Record is the transient signaling state for one call between a pair of
// users. It lives only in process memory; there is no durable storage.
type Record struct {
	Offer      *SessionDescription
	Answer     *SessionDescription
	Candidates []Candidate
	UpdatedAt  time.Time
}

// Store holds the latest signaling state per participant pair.
//
// The store is constructed explicitly and passed into handlers; there is no
// package-level instance. A single relay process is the supported deployment;
// sharing signaling state across instances requires an external keyed store
// with the same overwrite/append semantics.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record

	// now is swappable for tests.
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// PutOffer replaces the record for key with a fresh one containing only the
// offer. Any previous answer and accumulated candidates are discarded: a new
// offer means a new call attempt, so stale state from an earlier attempt must
// not leak into it.
func (s *Store) PutOffer(key string, offer SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = &Record{
		Offer:     &offer,
		UpdatedAt: s.now(),
	}
}

// PutAnswer sets the answer on the existing record, preserving accumulated
// candidates. If no record exists (the callee answered before any offer-side
// state reached us), a record holding only the answer is created.
func (s *Store) PutAnswer(key string, answer SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{}
		s.records[key] = rec
	}
	rec.Answer = &answer
	rec.UpdatedAt = s.now()
}

// AppendCandidate appends one ICE candidate to the record, creating the
// record if needed. Candidates are never deduplicated or reordered; clients
// tolerate out-of-order arrival.
func (s *Store) AppendCandidate(key string, cand Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{}
		s.records[key] = rec
	}
	rec.Candidates = append(rec.Candidates, cand)
	rec.UpdatedAt = s.now()
}

// Get returns a snapshot of the record for key. The returned candidate slice
// is a copy; callers may not mutate store state through it.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	snap := Record{
		Offer:     rec.Offer,
		Answer:    rec.Answer,
		UpdatedAt: rec.UpdatedAt,
	}
	if len(rec.Candidates) > 0 {
		snap.Candidates = append([]Candidate(nil), rec.Candidates...)
	}
	return snap, true
}

// Delete removes the record for key. Deleting a missing record is a no-op,
// which makes teardown idempotent.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep deletes records whose last write is older than ttl and returns the
// number removed. Abandoned calls (browser crashed before sending end-call)
// otherwise stay resident until the same pair starts a new call.
func (s *Store) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Janitor sweeps the store every interval until ctx is canceled. onSweep, if
// non-nil, is invoked with the number of records removed by each pass.
func (s *Store) Janitor(ctx context.Context, ttl, interval time.Duration, onSweep func(removed int)) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep(ttl)
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

// PairFromKey splits a canonical call key back into its two user IDs.
func PairFromKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
