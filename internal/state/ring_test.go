package state

import "testing"

func TestTokenRingDedup(t *testing.T) {
	r := newTokenRing(4)
	if r.seenBefore(1) {
		t.Error("first sighting of 1 should not be 'seen before'")
	}
	if !r.seenBefore(1) {
		t.Error("second sighting of 1 should be 'seen before'")
	}
}

func TestTokenRingEviction(t *testing.T) {
	r := newTokenRing(4)
	for _, tok := range []int64{1, 2, 3, 4} {
		if r.seenBefore(tok) {
			t.Fatalf("token %d should be new", tok)
		}
	}
	// Ring is now full; token 5 evicts token 1.
	if r.seenBefore(5) {
		t.Fatal("token 5 should be new")
	}
	if r.seenBefore(1) {
		t.Error("token 1 was evicted, should be treated as new again")
	}
	if !r.seenBefore(5) {
		t.Error("token 5 should still be remembered")
	}
}

func TestTokenRingZeroValueToken(t *testing.T) {
	r := newTokenRing(2)
	if r.seenBefore(0) {
		t.Error("token 0 should be new on first sighting")
	}
	if !r.seenBefore(0) {
		t.Error("token 0 should be remembered")
	}
}
