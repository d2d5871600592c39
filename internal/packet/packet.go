// Package packet implements the I3 packet model: a registry mapping each
// wire `type` string to a constructor that validates array shape, extracts
// typed fields, and normalizes the 0-as-empty-string convention that the
// raw LPC layer (internal/lpc) deliberately does not apply on its own.
package packet

import (
	"fmt"
	"strings"

	"i3gw/gateway/internal/gwerr"
	"i3gw/gateway/internal/lpc"
)

// Header is the common 6-field prefix every packet array carries.
type Header struct {
	Type       string
	TTL        int64
	OrigMud    string
	OrigUser   string // "" if the packet is mud-level (nullable)
	TargetMud  string // "" for broadcasts
	TargetUser string // "" if mud-level
}

// Packet is a decoded, typed I3 packet: the header plus a type-specific
// payload, and a reference to the raw array for round-tripping fields the
// typed payload doesn't model.
type Packet struct {
	Header
	Raw     lpc.Array
	Payload any // one of the *Payload types below, or nil for unrecognized-but-well-formed packets and for who-req (header only)
}

// field0 converts an LPC value used at a 0-means-empty position
// into its string form: Int(0) and String("") both map to "".
func field0(v lpc.Value) (string, error) {
	switch val := v.(type) {
	case lpc.String:
		return string(val), nil
	case lpc.Int:
		if val == 0 {
			return "", nil
		}
		return "", gwerr.New(gwerr.BadPkt, "packet.field0", nil)
	default:
		return "", gwerr.New(gwerr.BadPkt, "packet.field0", nil)
	}
}

// encodeField0 is field0's inverse: an empty string becomes Int(0), any
// other string is passed through as-is. Used when building outbound arrays.
func encodeField0(s string) lpc.Value {
	if s == "" {
		return lpc.Int(0)
	}
	return lpc.String(s)
}

func str(v lpc.Value) (string, error) {
	s, ok := v.(lpc.String)
	if !ok {
		return "", gwerr.New(gwerr.BadPkt, "packet.str", nil)
	}
	return string(s), nil
}

func integer(v lpc.Value) (int64, error) {
	i, ok := v.(lpc.Int)
	if !ok {
		return 0, gwerr.New(gwerr.BadPkt, "packet.integer", nil)
	}
	return int64(i), nil
}

// parseHeader extracts the 6-field common header from a packet array.
func parseHeader(arr lpc.Array) (Header, error) {
	if len(arr) < 6 {
		return Header{}, gwerr.New(gwerr.BadPkt, "packet.parseHeader", nil)
	}
	typ, err := str(arr[0])
	if err != nil {
		return Header{}, err
	}
	ttl, err := integer(arr[1])
	if err != nil {
		return Header{}, err
	}
	origMud, err := str(arr[2])
	if err != nil {
		return Header{}, err
	}
	origUser, err := field0(arr[3])
	if err != nil {
		return Header{}, err
	}
	targetMud, err := field0(arr[4])
	if err != nil {
		return Header{}, err
	}
	targetUser, err := field0(arr[5])
	if err != nil {
		return Header{}, err
	}
	return Header{
		Type:       typ,
		TTL:        ttl,
		OrigMud:    origMud,
		OrigUser:   origUser,
		TargetMud:  targetMud,
		TargetUser: targetUser,
	}, nil
}

// encodeHeader builds the 6-element header prefix of an outbound array.
// Usernames are lowercased.
func encodeHeader(h Header) []lpc.Value {
	return []lpc.Value{
		lpc.String(h.Type),
		lpc.Int(h.TTL),
		lpc.String(h.OrigMud),
		encodeField0(strings.ToLower(h.OrigUser)),
		encodeField0(h.TargetMud),
		encodeField0(strings.ToLower(h.TargetUser)),
	}
}

// arityError reports a wrong-length packet array.
func arityError(what string, want, got int) error {
	return gwerr.New(gwerr.BadPkt, "packet.decode", fmt.Errorf("%s: expected %d fields, got %d", what, want, got))
}

// Constructor validates and decodes a packet array's type-specific payload.
type Constructor func(h Header, arr lpc.Array) (any, error)

// registry maps packet type strings to their Constructor.
var registry = map[string]Constructor{}

// Register adds a constructor for typ. Called from init() in the sibling
// files that define each concrete payload type, so the registry is fully
// populated before any Decode call.
func Register(typ string, ctor Constructor) {
	registry[typ] = ctor
}

// Decode parses a raw packet array into a Packet. Unregistered types are not
// an error here — Payload is left nil and the caller (the service registry)
// reports unk-type if it has no fallback handler either.
func Decode(arr lpc.Array) (*Packet, error) {
	h, err := parseHeader(arr)
	if err != nil {
		return nil, err
	}
	p := &Packet{Header: h, Raw: arr}
	if ctor, ok := registry[h.Type]; ok {
		payload, err := ctor(h, arr)
		if err != nil {
			return nil, err
		}
		p.Payload = payload
	}
	return p, nil
}

// Unregistered reports whether typ has no known constructor.
func Unregistered(typ string) bool {
	_, ok := registry[typ]
	return !ok
}
