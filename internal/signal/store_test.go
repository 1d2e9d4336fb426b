package signal

import (
	"context"
	"testing"
	"time"
)

func testOffer(sdp string) SessionDescription {
	return SessionDescription{Type: "offer", SDP: sdp}
}

func testAnswer(sdp string) SessionDescription {
	return SessionDescription{Type: "answer", SDP: sdp}
}

func TestCallKey_SymmetricAcrossDirections(t *testing.T) {
	if got, want := CallKey("alice", "bob"), CallKey("bob", "alice"); got != want {
		t.Fatalf("key not symmetric: %q vs %q", got, want)
	}
	if got, want := CallKey("alice", "bob"), "alice:bob"; got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
}

func TestPairFromKey(t *testing.T) {
	a, b, ok := PairFromKey("alice:bob")
	if !ok || a != "alice" || b != "bob" {
		t.Fatalf("PairFromKey = (%q, %q, %v)", a, b, ok)
	}
	if _, _, ok := PairFromKey("no-separator"); ok {
		t.Fatalf("expected malformed key to be rejected")
	}
}

func TestStore_PutOffer_ReplacesWholeRecord(t *testing.T) {
	s := NewStore()
	key := CallKey("alice", "bob")

	s.PutOffer(key, testOffer("first"))
	s.PutAnswer(key, testAnswer("answer"))
	s.AppendCandidate(key, Candidate{Candidate: "candidate:1"})

	// A fresh offer means a fresh call attempt: stale answer and candidates
	// from the previous attempt must not leak into it.
	s.PutOffer(key, testOffer("second"))

	rec, ok := s.Get(key)
	if !ok {
		t.Fatalf("record missing after PutOffer")
	}
	if rec.Offer == nil || rec.Offer.SDP != "second" {
		t.Fatalf("offer = %+v, want second", rec.Offer)
	}
	if rec.Answer != nil {
		t.Fatalf("answer survived offer overwrite: %+v", rec.Answer)
	}
	if len(rec.Candidates) != 0 {
		t.Fatalf("candidates survived offer overwrite: %v", rec.Candidates)
	}
}

func TestStore_PutAnswer_PreservesOfferAndCandidates(t *testing.T) {
	s := NewStore()
	key := CallKey("alice", "bob")

	s.PutOffer(key, testOffer("offer"))
	s.AppendCandidate(key, Candidate{Candidate: "candidate:1"})
	s.PutAnswer(key, testAnswer("answer"))

	rec, ok := s.Get(key)
	if !ok {
		t.Fatalf("record missing")
	}
	if rec.Offer == nil || rec.Offer.SDP != "offer" {
		t.Fatalf("offer lost: %+v", rec.Offer)
	}
	if rec.Answer == nil || rec.Answer.SDP != "answer" {
		t.Fatalf("answer = %+v", rec.Answer)
	}
	if len(rec.Candidates) != 1 || rec.Candidates[0].Candidate != "candidate:1" {
		t.Fatalf("candidates lost: %v", rec.Candidates)
	}
}

func TestStore_PutAnswer_CreatesRecordWhenAbsent(t *testing.T) {
	s := NewStore()
	key := CallKey("alice", "bob")

	s.PutAnswer(key, testAnswer("answer"))

	rec, ok := s.Get(key)
	if !ok {
		t.Fatalf("record missing")
	}
	if rec.Offer != nil {
		t.Fatalf("unexpected offer: %+v", rec.Offer)
	}
	if rec.Answer == nil || rec.Answer.SDP != "answer" {
		t.Fatalf("answer = %+v", rec.Answer)
	}
}

func TestStore_AppendCandidate_PreservesArrivalOrder(t *testing.T) {
	s := NewStore()
	key := CallKey("alice", "bob")

	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		s.AppendCandidate(key, Candidate{Candidate: c})
	}

	rec, ok := s.Get(key)
	if !ok {
		t.Fatalf("record missing")
	}
	if len(rec.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(rec.Candidates))
	}
	for i, want := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		if rec.Candidates[i].Candidate != want {
			t.Fatalf("candidate[%d] = %q, want %q", i, rec.Candidates[i].Candidate, want)
		}
	}
}

func TestStore_Delete_IsIdempotent(t *testing.T) {
	s := NewStore()
	key := CallKey("alice", "bob")

	s.PutOffer(key, testOffer("offer"))
	s.Delete(key)
	s.Delete(key)
	// Deleting a key that never existed must also be a no-op.
	s.Delete(CallKey("carol", "dave"))

	if _, ok := s.Get(key); ok {
		t.Fatalf("record survived delete")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestStore_Get_ReturnsIsolatedSnapshot(t *testing.T) {
	s := NewStore()
	key := CallKey("alice", "bob")

	s.AppendCandidate(key, Candidate{Candidate: "candidate:1"})
	rec, _ := s.Get(key)
	rec.Candidates[0].Candidate = "mutated"

	fresh, _ := s.Get(key)
	if fresh.Candidates[0].Candidate != "candidate:1" {
		t.Fatalf("snapshot aliases store memory")
	}
}

func TestStore_Sweep_RemovesOnlyExpired(t *testing.T) {
	s := NewStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.PutOffer(CallKey("alice", "bob"), testOffer("old"))

	now = now.Add(2 * time.Minute)
	s.PutOffer(CallKey("carol", "dave"), testOffer("fresh"))

	now = now.Add(4 * time.Minute)
	removed := s.Sweep(5 * time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := s.Get(CallKey("alice", "bob")); ok {
		t.Fatalf("expired record survived sweep")
	}
	if _, ok := s.Get(CallKey("carol", "dave")); !ok {
		t.Fatalf("fresh record swept")
	}
}

func TestStore_ActivityRefreshesTTL(t *testing.T) {
	s := NewStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	key := CallKey("alice", "bob")

	s.PutOffer(key, testOffer("offer"))

	// Trickled candidates keep the record alive past the original deadline.
	now = now.Add(4 * time.Minute)
	s.AppendCandidate(key, Candidate{Candidate: "candidate:1"})

	now = now.Add(4 * time.Minute)
	if removed := s.Sweep(5 * time.Minute); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestStore_Janitor_StopsOnContextCancel(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Janitor(ctx, time.Minute, time.Millisecond, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("janitor did not stop after cancel")
	}
}
