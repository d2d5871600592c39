// Package gwerr defines the error taxonomy shared across the gateway: wire,
// protocol, router, and API error kinds, each carrying an explicit Kind tag
// instead of relying solely on sentinel values or type assertions.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure a component reported. Kinds are stable
// strings because several of them (the protocol kinds) are also the literal
// I3 error-packet codes exchanged on the wire.
type Kind string

const (
	// Wire layer.
	ShortRead     Kind = "short_read"
	BadTag        Kind = "bad_tag"
	FrameTooLarge Kind = "frame_too_large"
	BadPkt        Kind = "bad_pkt"

	// Protocol layer — these double as I3 error-packet codes.
	UnkType    Kind = "unk-type"
	UnkSrc     Kind = "unk-src"
	UnkDst     Kind = "unk-dst"
	BadProto   Kind = "bad-proto"
	NotAllowed Kind = "not-allowed"
	UnkUser    Kind = "unk-user"
	UnkChannel Kind = "unk-channel"

	// Router layer.
	ConnectFailed    Kind = "connect_failed"
	HandshakeTimeout Kind = "handshake_timeout"
	IdleTimeout      Kind = "idle_timeout"
	QueueFull        Kind = "queue_full"
)

// Error is a taxonomy-tagged failure. Op names the operation that failed
// ("lpc.DecodeValue", "router.Handshake", ...); Err, when set, is the
// underlying cause and is reachable via errors.Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error. err may be nil when the kind is self-explanatory.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if any link in its chain is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
