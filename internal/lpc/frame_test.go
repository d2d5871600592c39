package lpc

import (
	"math/rand"
	"testing"

	"i3gw/gateway/internal/gwerr"
)

func TestFrameRoundTrip(t *testing.T) {
	v := Array{String("tell"), Int(5), String("OurMud"), String("john"), String("TargetMud"), String("jane"), String("john"), String("hi")}
	enc := EncodeFrame(v)

	d := NewFrameDecoder(0)
	d.Feed(enc)
	got, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !deepEqualValue(v, got) {
		t.Fatalf("got %#v, want %#v", got, v)
	}
	if d.Pending() != 0 {
		t.Errorf("expected no leftover bytes, got %d", d.Pending())
	}
}

// TestFrameBoundaryArbitrarySlicing feeds encode(v1) || encode(v2) to the
// decoder split at every possible byte boundary and asserts it always
// yields exactly v1 then v2, with no leftover.
func TestFrameBoundaryArbitrarySlicing(t *testing.T) {
	v1 := Array{String("tell"), Int(5), String("A"), String("a"), String("B"), String("b"), String("a"), String("hi")}
	v2 := Array{String("channel-m"), Int(3), String("A"), String("a"), Int(0), String("chat"), String("a"), String("hello")}
	stream := append(EncodeFrame(v1), EncodeFrame(v2)...)

	for split := 0; split <= len(stream); split++ {
		d := NewFrameDecoder(0)
		d.Feed(stream[:split])

		var got []Value
		for {
			v, err := d.Next()
			if err != nil {
				if k, ok := gwerr.KindOf(err); ok && k == gwerr.ShortRead {
					break
				}
				t.Fatalf("split=%d: unexpected error %v", split, err)
			}
			got = append(got, v)
		}
		d.Feed(stream[split:])
		for {
			v, err := d.Next()
			if err != nil {
				if k, ok := gwerr.KindOf(err); ok && k == gwerr.ShortRead {
					break
				}
				t.Fatalf("split=%d: unexpected error %v", split, err)
			}
			got = append(got, v)
		}

		if len(got) != 2 {
			t.Fatalf("split=%d: got %d frames, want 2", split, len(got))
		}
		if !deepEqualValue(got[0], v1) || !deepEqualValue(got[1], v2) {
			t.Fatalf("split=%d: frames decoded out of order/content", split)
		}
		if d.Pending() != 0 {
			t.Errorf("split=%d: leftover bytes %d", split, d.Pending())
		}
	}
}

func TestFrameByteAtATime(t *testing.T) {
	v := Array{String("ping"), Int(0), String("A"), Int(0), Int(0), Int(0)}
	enc := EncodeFrame(v)

	d := NewFrameDecoder(0)
	var got Value
	for i, b := range enc {
		d.Feed([]byte{b})
		val, err := d.Next()
		if err != nil {
			if k, ok := gwerr.KindOf(err); ok && k == gwerr.ShortRead {
				continue
			}
			t.Fatalf("byte %d: unexpected error %v", i, err)
		}
		got = val
	}
	if got == nil || !deepEqualValue(got, v) {
		t.Fatalf("got %#v, want %#v", got, v)
	}
}

func TestFrameTooLargeRejected(t *testing.T) {
	d := NewFrameDecoder(16)
	big := EncodeFrame(Array{String("this payload exceeds the tiny max-frame bound")})
	d.Feed(big)
	_, err := d.Next()
	if k, ok := gwerr.KindOf(err); !ok || k != gwerr.FrameTooLarge {
		t.Fatalf("got %v, want FrameTooLarge", err)
	}
}

func TestFrameFuzzConcatenation(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	var stream []byte
	var want []Value
	for i := 0; i < 50; i++ {
		v := randomValue(r, 2)
		want = append(want, v)
		stream = append(stream, EncodeFrame(v)...)
	}

	d := NewFrameDecoder(0)
	// Feed in small, arbitrary chunks rather than all at once.
	for len(stream) > 0 {
		n := 1 + r.Intn(7)
		if n > len(stream) {
			n = len(stream)
		}
		d.Feed(stream[:n])
		stream = stream[n:]
		for {
			v, err := d.Next()
			if err != nil {
				if k, ok := gwerr.KindOf(err); ok && k == gwerr.ShortRead {
					break
				}
				t.Fatalf("unexpected error: %v", err)
			}
			if len(want) == 0 {
				t.Fatalf("decoded more frames than encoded")
			}
			if !deepEqualValue(v, want[0]) {
				t.Fatalf("frame mismatch at index %d", len(want))
			}
			want = want[1:]
		}
	}
	if len(want) != 0 {
		t.Fatalf("%d frames never decoded", len(want))
	}
}
