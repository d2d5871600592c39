package state

import "testing"

// TestTokenGeneratorMonotonic: new >= max(last+1, wall clock).
func TestTokenGeneratorMonotonic(t *testing.T) {
	g := NewTokenGenerator(10)
	if n := g.Next(5); n != 11 {
		t.Errorf("Next(5) = %d, want 11 (max(t+1, T))", n)
	}
	if n := g.Next(5); n != 12 {
		t.Errorf("second Next(5) = %d, want 12 (strictly greater than prior)", n)
	}
	if n := g.Next(100); n != 100 {
		t.Errorf("Next(100) = %d, want 100 (wall clock ahead of sequence)", n)
	}
	if n := g.Next(50); n != 101 {
		t.Errorf("Next(50) = %d, want 101 (sequence ahead of wall clock)", n)
	}
}

func TestTokenGeneratorStrictlyIncreasing(t *testing.T) {
	g := NewTokenGenerator(0)
	prev := int64(-1)
	for _, wall := range []int64{0, 0, 0, 5, 3, 10, 10} {
		next := g.Next(wall)
		if next <= prev {
			t.Fatalf("token %d not strictly greater than previous %d", next, prev)
		}
		if next < wall {
			t.Fatalf("token %d less than wall clock %d", next, wall)
		}
		prev = next
	}
}
