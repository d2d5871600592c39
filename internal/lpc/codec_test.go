package lpc

import (
	"math/rand"
	"testing"

	"i3gw/gateway/internal/gwerr"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	enc := EncodeValue(nil, v)
	got, n, err := DecodeValue(enc, DefaultMaxFrame)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d bytes, want %d", n, len(enc))
	}
	return got
}

func TestRoundTripNull(t *testing.T) {
	if _, ok := roundTrip(t, Null{}).(Null); !ok {
		t.Errorf("expected Null")
	}
}

func TestRoundTripIntZero(t *testing.T) {
	got := roundTrip(t, Int(0))
	i, ok := got.(Int)
	if !ok || i != 0 {
		t.Errorf("got %#v, want Int(0)", got)
	}
}

func TestRoundTripEmptyStringNotIntZero(t *testing.T) {
	// The encodings of Int(0) and String("") must differ — only the
	// packet layer is allowed to treat them as interchangeable.
	encInt := EncodeValue(nil, Int(0))
	encStr := EncodeValue(nil, String(""))
	if string(encInt) == string(encStr) {
		t.Fatalf("Int(0) and String(\"\") encode identically")
	}
	got := roundTrip(t, String(""))
	s, ok := got.(String)
	if !ok || s != "" {
		t.Errorf("got %#v, want String(\"\")", got)
	}
}

func TestRoundTripNegativeInt(t *testing.T) {
	got := roundTrip(t, Int(-123456789))
	if i, ok := got.(Int); !ok || i != -123456789 {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripFloat(t *testing.T) {
	got := roundTrip(t, Float(3.14159265))
	f, ok := got.(Float)
	if !ok || f != 3.14159265 {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripString(t *testing.T) {
	got := roundTrip(t, String("hello, Intermud"))
	s, ok := got.(String)
	if !ok || s != "hello, Intermud" {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripStringUTF8(t *testing.T) {
	got := roundTrip(t, String("héllo wörld 日本語"))
	s, ok := got.(String)
	if !ok || s != "héllo wörld 日本語" {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripArray(t *testing.T) {
	v := Array{String("tell"), Int(5), String("OurMud"), Int(0)}
	got := roundTrip(t, v)
	arr, ok := got.(Array)
	if !ok || len(arr) != 4 {
		t.Fatalf("got %#v", got)
	}
	if arr[0].(String) != "tell" || arr[1].(Int) != 5 {
		t.Errorf("unexpected contents: %#v", arr)
	}
}

func TestRoundTripNestedArray(t *testing.T) {
	v := Array{Array{Int(1), Int(2)}, Array{}, String("x")}
	got := roundTrip(t, v)
	arr := got.(Array)
	if len(arr) != 3 {
		t.Fatalf("got %d elements", len(arr))
	}
	inner := arr[0].(Array)
	if len(inner) != 2 || inner[0].(Int) != 1 || inner[1].(Int) != 2 {
		t.Errorf("inner array mismatch: %#v", inner)
	}
}

func TestRoundTripMapping(t *testing.T) {
	v := Mapping{
		{Key: String("Foo"), Val: Int(-1)},
		{Key: String("Bar"), Val: Int(0)},
	}
	got := roundTrip(t, v)
	m, ok := got.(Mapping)
	if !ok || len(m) != 2 {
		t.Fatalf("got %#v", got)
	}
	if m[0].Key.(String) != "Foo" || m[0].Val.(Int) != -1 {
		t.Errorf("unexpected first entry: %#v", m[0])
	}
	// Order must be preserved — mappings are ordered on the wire.
	if m[1].Key.(String) != "Bar" {
		t.Errorf("mapping order not preserved: %#v", m)
	}
}

func TestRoundTripBuffer(t *testing.T) {
	v := Buffer{0x00, 0x01, 0xff, 0x10}
	got := roundTrip(t, v)
	b, ok := got.(Buffer)
	if !ok || string(b) != string(v) {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripEmptyArrayAndMapping(t *testing.T) {
	if arr, ok := roundTrip(t, Array{}).(Array); !ok || len(arr) != 0 {
		t.Errorf("got %#v", arr)
	}
	if m, ok := roundTrip(t, Mapping{}).(Mapping); !ok || len(m) != 0 {
		t.Errorf("got %#v", m)
	}
}

// TestRoundTripFuzz generates random LPC values and asserts the round-trip
// law decode(encode(v)) == v.
func TestRoundTripFuzz(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		v := randomValue(r, 3)
		got := roundTrip(t, v)
		if !deepEqualValue(v, got) {
			t.Fatalf("round-trip mismatch\n  in:  %#v\n  out: %#v", v, got)
		}
	}
}

func randomValue(r *rand.Rand, depth int) Value {
	choices := 5
	if depth > 0 {
		choices = 7
	}
	switch r.Intn(choices) {
	case 0:
		return Null{}
	case 1:
		return Int(r.Int63() - r.Int63())
	case 2:
		return Float(r.NormFloat64())
	case 3:
		return randomString(r)
	case 4:
		n := r.Intn(8)
		b := make(Buffer, n)
		r.Read(b)
		return b
	case 5:
		n := r.Intn(4)
		arr := make(Array, n)
		for i := range arr {
			arr[i] = randomValue(r, depth-1)
		}
		return arr
	default:
		n := r.Intn(4)
		m := make(Mapping, n)
		for i := range m {
			m[i] = MapEntry{Key: randomString(r), Val: randomValue(r, depth-1)}
		}
		return m
	}
}

func randomString(r *rand.Rand) String {
	n := r.Intn(12)
	runes := []rune("abcXYZ 日本語éü")
	out := make([]rune, n)
	for i := range out {
		out[i] = runes[r.Intn(len(runes))]
	}
	return String(string(out))
}

func deepEqualValue(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Buffer:
		bv, ok := b.(Buffer)
		return ok && string(av) == string(bv)
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Mapping:
		bv, ok := b.(Mapping)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualValue(av[i].Key, bv[i].Key) || !deepEqualValue(av[i].Val, bv[i].Val) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func TestDecodeUnknownTagIsBadTag(t *testing.T) {
	_, _, err := DecodeValue([]byte{0x63}, DefaultMaxFrame)
	if k, ok := gwerr.KindOf(err); !ok || k != gwerr.BadTag {
		t.Fatalf("got %v, want BadTag", err)
	}
}

func TestDecodeTruncatedIntIsBadPkt(t *testing.T) {
	_, _, err := DecodeValue([]byte{tagInt, 0, 0, 0}, DefaultMaxFrame)
	if k, ok := gwerr.KindOf(err); !ok || k != gwerr.BadPkt {
		t.Fatalf("got %v, want BadPkt", err)
	}
}

func TestDecodeOversizedCountIsFrameTooLarge(t *testing.T) {
	enc := []byte{tagString, 0xff, 0xff, 0xff, 0xff}
	_, _, err := DecodeValue(enc, DefaultMaxFrame)
	if k, ok := gwerr.KindOf(err); !ok || k != gwerr.FrameTooLarge {
		t.Fatalf("got %v, want FrameTooLarge", err)
	}
}
