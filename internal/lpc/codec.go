package lpc

import (
	"encoding/binary"
	"math"

	"i3gw/gateway/internal/gwerr"
)

// Tag bytes. These must stay byte-for-byte stable once interoperating with
// a live router; changing any value is a wire-format break.
const (
	tagNull    byte = 0
	tagString  byte = 1
	tagInt     byte = 2
	tagFloat   byte = 3
	tagArray   byte = 4
	tagMapping byte = 5
	tagBuffer  byte = 6
)

// DefaultMaxFrame is the per-frame allocation bound: 16 MiB.
const DefaultMaxFrame = 16 << 20

// EncodeValue appends the tagged encoding of v to dst and returns the result.
func EncodeValue(dst []byte, v Value) []byte {
	switch val := v.(type) {
	case Null:
		return append(dst, tagNull)
	case String:
		dst = append(dst, tagString)
		dst = appendUint32(dst, uint32(len(val)))
		return append(dst, val...)
	case Int:
		dst = append(dst, tagInt)
		return appendUint64(dst, uint64(val))
	case Float:
		dst = append(dst, tagFloat)
		return appendUint64(dst, math.Float64bits(float64(val)))
	case Array:
		dst = append(dst, tagArray)
		dst = appendUint32(dst, uint32(len(val)))
		for _, e := range val {
			dst = EncodeValue(dst, e)
		}
		return dst
	case Mapping:
		dst = append(dst, tagMapping)
		dst = appendUint32(dst, uint32(len(val)))
		for _, e := range val {
			dst = EncodeValue(dst, e.Key)
			dst = EncodeValue(dst, e.Val)
		}
		return dst
	case Buffer:
		dst = append(dst, tagBuffer)
		dst = appendUint32(dst, uint32(len(val)))
		return append(dst, val...)
	default:
		// Value's method set is closed to the cases above.
		panic("lpc: unreachable value type")
	}
}

func appendUint32(dst []byte, n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return append(dst, b[:]...)
}

func appendUint64(dst []byte, n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return append(dst, b[:]...)
}

// DecodeValue decodes one tagged value from the front of b, bounding every
// length-prefixed allocation by maxAlloc (use DefaultMaxFrame unless a
// caller has a tighter bound, e.g. the remaining bytes in an enclosing
// frame). It returns the value and the number of bytes consumed.
func DecodeValue(b []byte, maxAlloc int) (Value, int, error) {
	if len(b) < 1 {
		return nil, 0, gwerr.New(gwerr.BadPkt, "lpc.DecodeValue", nil)
	}
	tag := b[0]
	rest := b[1:]
	switch tag {
	case tagNull:
		return Null{}, 1, nil
	case tagString:
		s, n, err := decodeBytes(rest, maxAlloc)
		if err != nil {
			return nil, 0, err
		}
		return String(s), 1 + n, nil
	case tagInt:
		if len(rest) < 8 {
			return nil, 0, gwerr.New(gwerr.BadPkt, "lpc.DecodeValue", nil)
		}
		return Int(int64(binary.BigEndian.Uint64(rest[:8]))), 9, nil
	case tagFloat:
		if len(rest) < 8 {
			return nil, 0, gwerr.New(gwerr.BadPkt, "lpc.DecodeValue", nil)
		}
		bits := binary.BigEndian.Uint64(rest[:8])
		return Float(math.Float64frombits(bits)), 9, nil
	case tagArray:
		count, hdr, err := decodeCount(rest, maxAlloc)
		if err != nil {
			return nil, 0, err
		}
		arr := make(Array, 0, count)
		off := hdr
		for i := uint32(0); i < count; i++ {
			v, n, err := DecodeValue(rest[off:], maxAlloc)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, v)
			off += n
		}
		return arr, 1 + off, nil
	case tagMapping:
		count, hdr, err := decodeCount(rest, maxAlloc)
		if err != nil {
			return nil, 0, err
		}
		m := make(Mapping, 0, count)
		off := hdr
		for i := uint32(0); i < count; i++ {
			k, n, err := DecodeValue(rest[off:], maxAlloc)
			if err != nil {
				return nil, 0, err
			}
			off += n
			v, n, err := DecodeValue(rest[off:], maxAlloc)
			if err != nil {
				return nil, 0, err
			}
			off += n
			m = append(m, MapEntry{Key: k, Val: v})
		}
		return m, 1 + off, nil
	case tagBuffer:
		buf, n, err := decodeBytes(rest, maxAlloc)
		if err != nil {
			return nil, 0, err
		}
		out := make(Buffer, len(buf))
		copy(out, buf)
		return out, 1 + n, nil
	default:
		return nil, 0, gwerr.New(gwerr.BadTag, "lpc.DecodeValue", nil)
	}
}

// decodeCount reads a 4-byte big-endian element count and bounds it against
// maxAlloc so a hostile length field can't force an oversized allocation.
func decodeCount(b []byte, maxAlloc int) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, gwerr.New(gwerr.BadPkt, "lpc.decodeCount", nil)
	}
	n := binary.BigEndian.Uint32(b[:4])
	if int(n) < 0 || int(n) > maxAlloc {
		return 0, 0, gwerr.New(gwerr.FrameTooLarge, "lpc.decodeCount", nil)
	}
	return n, 4, nil
}

// decodeBytes reads a 4-byte big-endian length followed by that many raw
// bytes (used for both String and Buffer payloads).
func decodeBytes(b []byte, maxAlloc int) ([]byte, int, error) {
	n, hdr, err := decodeCount(b, maxAlloc)
	if err != nil {
		return nil, 0, err
	}
	if uint32(len(b)-hdr) < n {
		return nil, 0, gwerr.New(gwerr.BadPkt, "lpc.decodeBytes", nil)
	}
	return b[hdr : hdr+int(n)], hdr + int(n), nil
}
