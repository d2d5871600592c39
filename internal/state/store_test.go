package state

import (
	"math/rand"
	"testing"
	"time"

	"i3gw/gateway/internal/lpc"
)

func mudEntry(state int64) lpc.Value {
	return lpc.Array{
		lpc.Int(state), lpc.String("1.2.3.4"), lpc.Int(4000), lpc.Int(4001), lpc.Int(4002),
		lpc.String("MudOS"), lpc.String("MudOS"), lpc.String("MudOS"), lpc.String("LP"),
		lpc.String("open"), lpc.String("admin@example.com"), lpc.Mapping{}, lpc.Mapping{},
	}
}

// TestS4MudlistDelete: a zero mapping value deletes the mud.
func TestS4MudlistDelete(t *testing.T) {
	s := New(nil, 0, 0)
	s.ApplyMudlistDelta(40, lpc.Mapping{
		{Key: lpc.String("Foo"), Val: mudEntry(MudUp)},
		{Key: lpc.String("Bar"), Val: mudEntry(MudUp)},
	})
	localID := s.ApplyMudlistDelta(42, lpc.Mapping{
		{Key: lpc.String("Foo"), Val: lpc.Int(0)},
	})
	if localID != 42 {
		t.Fatalf("local_id = %d, want 42", localID)
	}
	if _, ok := s.LookupMud("Foo"); ok {
		t.Error("Foo should be absent after delete")
	}
	if _, ok := s.LookupMud("Bar"); !ok {
		t.Error("Bar should still be present")
	}
}

// TestMonotonicIDsAnyPermutation: for any permutation
// of delta tokens, local_id converges to max(tokens) and content reflects
// token-ordered application.
func TestMonotonicIDsAnyPermutation(t *testing.T) {
	type delta struct {
		token int64
		mud   string
		state int64
	}
	base := []delta{
		{10, "A", MudUp},
		{20, "A", MudDown},
		{30, "A", MudUp},
		{15, "B", MudUp},
	}
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		perm := append([]delta(nil), base...)
		r.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		s := New(nil, 0, 0)
		for _, d := range perm {
			s.ApplyMudlistDelta(d.token, lpc.Mapping{
				{Key: lpc.String(d.mud), Val: mudEntry(d.state)},
			})
		}
		if got := s.MudlistID(); got != 30 {
			t.Fatalf("trial %d: local_id = %d, want 30", trial, got)
		}
		a, ok := s.LookupMud("A")
		if !ok {
			t.Fatalf("trial %d: mud A missing", trial)
		}
		if a.State != MudUp {
			t.Errorf("trial %d: mud A state = %d, want content from token-ordered application (token 30 = MudUp)", trial, a.State)
		}
	}
}

// TestS5AlteredTokenDedup: a duplicate
// altered token is applied exactly once.
func TestS5AlteredTokenDedup(t *testing.T) {
	s := New(nil, 0, 0)
	delta := lpc.Mapping{{Key: lpc.String("Foo"), Val: mudEntry(MudUp)}}

	applied1, _ := s.ApplyMudlistAltered(100, delta)
	applied2, _ := s.ApplyMudlistAltered(100, delta)
	if !applied1 {
		t.Error("first altered delivery should apply")
	}
	if applied2 {
		t.Error("second altered delivery should be deduped")
	}
	stats := s.Stats()
	if stats.MudlistDuplicate != 1 {
		t.Errorf("MudlistDuplicate = %d, want 1", stats.MudlistDuplicate)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	s := New(nil, 0, 0)
	now := time.Unix(1000, 0)
	s.CacheWho("OtherMud", lpc.Array{lpc.String("alice")}, now)

	if _, ok := s.LookupWho("OtherMud", now.Add(WhoCacheTTL-time.Second)); !ok {
		t.Error("who cache entry should still be live just before TTL")
	}
	if _, ok := s.LookupWho("OtherMud", now.Add(WhoCacheTTL+time.Second)); ok {
		t.Error("who cache entry should have expired")
	}

	s.CacheWho("OtherMud", lpc.Array{}, now)
	removed, _, _ := s.ExpireCaches(now.Add(WhoCacheTTL + time.Second))
	if removed != 1 {
		t.Errorf("ExpireCaches removed %d who entries, want 1", removed)
	}
}

func TestUserCacheUnbounded(t *testing.T) {
	s := New(nil, 0, 0)
	s.UpdateUser("john", "John")
	vis, ok := s.LookupUser("john")
	if !ok || vis != "John" {
		t.Fatalf("LookupUser = %q, %v", vis, ok)
	}
	s.UpdateUser("john", "JohnTheBard")
	vis, _ = s.LookupUser("john")
	if vis != "JohnTheBard" {
		t.Errorf("visname not superseded: got %q", vis)
	}
}

func TestChanlistDeleteAndLookup(t *testing.T) {
	s := New(nil, 0, 0)
	entry := lpc.Array{
		lpc.String("HostMud"), lpc.Int(ChanFilteredAdmit),
		lpc.Array{lpc.String("HostMud")}, lpc.Array{}, lpc.Array{lpc.String("HostMud")},
	}
	s.ApplyChanlistDelta(5, lpc.Mapping{{Key: lpc.String("chat"), Val: entry}})
	ci, ok := s.LookupChannel("chat")
	if !ok {
		t.Fatal("chat channel missing")
	}
	if ci.Type != ChanFilteredAdmit || ci.HostMud != "HostMud" {
		t.Errorf("unexpected channel info: %+v", ci)
	}
	s.ApplyChanlistDelta(6, lpc.Mapping{{Key: lpc.String("chat"), Val: lpc.Int(0)}})
	if _, ok := s.LookupChannel("chat"); ok {
		t.Error("chat channel should be deleted")
	}
}
