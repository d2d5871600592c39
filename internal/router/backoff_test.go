package router

import "testing"

func TestBackoffFirstIntervalWithinJitterWindow(t *testing.T) {
	b := newBackoff()
	d := b.NextBackOff()
	if d < BackoffBase/2 || d > BackoffBase*3/2 {
		t.Errorf("first backoff = %v, want within [%v, %v]", d, BackoffBase/2, BackoffBase*3/2)
	}
}

func TestBackoffSaturatesAtCapWithJitter(t *testing.T) {
	b := newBackoff()
	var last float64
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		seconds := d.Seconds()
		if seconds > BackoffCap.Seconds()*1.5+0.001 {
			t.Fatalf("iteration %d: backoff %v exceeds 1.5x cap", i, d)
		}
		last = seconds
	}
	if last < BackoffCap.Seconds()/2 {
		t.Errorf("after saturation, backoff %v should be at least half the cap", last)
	}
}

func TestBackoffResetRestartsFromBase(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 10; i++ {
		b.NextBackOff()
	}
	b.Reset()
	d := b.NextBackOff()
	if d > BackoffBase*3/2 {
		t.Errorf("backoff after Reset = %v, want close to base %v", d, BackoffBase)
	}
}
