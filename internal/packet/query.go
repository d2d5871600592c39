package packet

import "i3gw/gateway/internal/lpc"

// WhoReplyPayload models `who-reply`: header(6), who_data (array of
// {visname, idle_time, login_time}) — 7 fields.
type WhoReplyPayload struct {
	WhoData lpc.Array
}

func decodeWhoReply(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 7 {
		return nil, arityError("who-reply", 7, len(arr))
	}
	data, ok := arr[6].(lpc.Array)
	if !ok {
		return nil, arityError("who-reply.who_data", 0, 0)
	}
	return &WhoReplyPayload{WhoData: data}, nil
}

// NewWhoReq builds an outbound `who-req`: header(6) only — the request is
// fully addressed by target_mud, with no extra payload.
func NewWhoReq(h Header) lpc.Array {
	h.Type = "who-req"
	return encodeHeader(h)
}

func decodeWhoReq(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 6 {
		return nil, arityError("who-req", 6, len(arr))
	}
	return nil, nil
}

// FingerReqPayload models `finger-req`: header(6), username — 7 fields.
type FingerReqPayload struct {
	Username string
}

func decodeFingerReq(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 7 {
		return nil, arityError("finger-req", 7, len(arr))
	}
	user, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	return &FingerReqPayload{Username: user}, nil
}

// NewFingerReq builds an outbound `finger-req` array.
func NewFingerReq(h Header, username string) lpc.Array {
	h.Type = "finger-req"
	return append(encodeHeader(h), lpc.String(username))
}

// FingerReplyPayload models `finger-reply`: header(6), username, info
// mapping (title/real_name/email/login_time/idle_time/...) — 8 fields.
type FingerReplyPayload struct {
	Username string
	Info     lpc.Mapping
}

func decodeFingerReply(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError("finger-reply", 8, len(arr))
	}
	user, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	info, ok := arr[7].(lpc.Mapping)
	if !ok {
		return nil, arityError("finger-reply.info", 0, 0)
	}
	return &FingerReplyPayload{Username: user, Info: info}, nil
}

// LocateReqPayload models `locate-req`: header(6), username — 7 fields.
type LocateReqPayload struct {
	Username string
}

func decodeLocateReq(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 7 {
		return nil, arityError("locate-req", 7, len(arr))
	}
	user, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	return &LocateReqPayload{Username: user}, nil
}

// NewLocateReq builds an outbound `locate-req` array. TargetMud/TargetUser
// on h are left as "" (encoded as Int(0)) for a network-wide broadcast
// search.
func NewLocateReq(h Header, username string) lpc.Array {
	h.Type = "locate-req"
	return append(encodeHeader(h), lpc.String(username))
}

// LocateReplyPayload models `locate-reply`: header(6), username, locations
// (array of mud names where the user was found) — 8 fields.
type LocateReplyPayload struct {
	Username  string
	Locations lpc.Array
}

func decodeLocateReply(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError("locate-reply", 8, len(arr))
	}
	user, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	locs, ok := arr[7].(lpc.Array)
	if !ok {
		return nil, arityError("locate-reply.locations", 0, 0)
	}
	return &LocateReplyPayload{Username: user, Locations: locs}, nil
}

func init() {
	Register("who-req", decodeWhoReq)
	Register("who-reply", decodeWhoReply)
	Register("finger-req", decodeFingerReq)
	Register("finger-reply", decodeFingerReply)
	Register("locate-req", decodeLocateReq)
	Register("locate-reply", decodeLocateReply)
}
