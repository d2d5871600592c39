package lpc

import (
	"encoding/binary"

	"i3gw/gateway/internal/gwerr"
)

// EncodeFrame wraps the LPC encoding of v (which must be an Array — the
// outermost wire value is always a packet array) in MUD-mode framing:
// a 4-byte big-endian length prefix followed by exactly that many bytes of
// LPC-encoded payload.
func EncodeFrame(v Value) []byte {
	payload := EncodeValue(nil, v)
	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// FrameDecoder incrementally reassembles MUD-mode frames out of a byte
// stream that may arrive split at arbitrary boundaries. Feed appends bytes
// as they're read off the socket; Next drains as many complete frames as
// are currently buffered.
type FrameDecoder struct {
	buf      []byte
	maxFrame int
}

// NewFrameDecoder returns a decoder that rejects any frame whose declared
// length exceeds maxFrame bytes. A maxFrame of 0 selects DefaultMaxFrame.
func NewFrameDecoder(maxFrame int) *FrameDecoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &FrameDecoder{maxFrame: maxFrame}
}

// Feed appends newly-read bytes to the decoder's internal buffer.
func (d *FrameDecoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next attempts to decode one complete frame from the buffered bytes. It
// returns gwerr.ShortRead (wrapped) when fewer bytes are buffered than a
// full frame requires — the caller should read more from the socket and
// Feed again, not treat this as a protocol failure. A declared length over
// maxFrame is reported as gwerr.FrameTooLarge and the decoder does not
// advance past it (the caller should close the connection).
func (d *FrameDecoder) Next() (Value, error) {
	if len(d.buf) < 4 {
		return nil, gwerr.New(gwerr.ShortRead, "lpc.FrameDecoder.Next", nil)
	}
	n := binary.BigEndian.Uint32(d.buf[:4])
	if int(n) > d.maxFrame {
		return nil, gwerr.New(gwerr.FrameTooLarge, "lpc.FrameDecoder.Next", nil)
	}
	if len(d.buf)-4 < int(n) {
		return nil, gwerr.New(gwerr.ShortRead, "lpc.FrameDecoder.Next", nil)
	}
	payload := d.buf[4 : 4+int(n)]
	v, consumed, err := DecodeValue(payload, d.maxFrame)
	if err != nil {
		return nil, err
	}
	if consumed != len(payload) {
		return nil, gwerr.New(gwerr.BadPkt, "lpc.FrameDecoder.Next", nil)
	}
	// Drop the consumed frame. buf is append-only and bounded by in-flight
	// frames, so this copy is cheap relative to typical packet sizes.
	remaining := len(d.buf) - (4 + int(n))
	copy(d.buf, d.buf[4+int(n):])
	d.buf = d.buf[:remaining]
	return v, nil
}

// Pending reports how many bytes are currently buffered awaiting a
// complete frame — used by tests and by idle-connection diagnostics.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}
