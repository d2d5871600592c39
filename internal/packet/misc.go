package packet

import "i3gw/gateway/internal/lpc"

// ErrorPayload models `error`: header(6), error_code, error_message,
// error_packet|0 — 9 fields.
type ErrorPayload struct {
	Code       string
	Message    string
	OrigPacket lpc.Value // Null{} when the router sent Int(0)
}

func decodeError(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 9 {
		return nil, arityError("error", 9, len(arr))
	}
	code, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	msg, err := str(arr[7])
	if err != nil {
		return nil, err
	}
	orig := arr[8]
	if i, ok := orig.(lpc.Int); ok && i == 0 {
		orig = lpc.Null{}
	}
	return &ErrorPayload{Code: code, Message: msg, OrigPacket: orig}, nil
}

// NewError builds an outbound `error` array.
func NewError(h Header, code, message string, origPacket lpc.Value) lpc.Array {
	h.Type = "error"
	if origPacket == nil {
		origPacket = lpc.Int(0)
	}
	return append(encodeHeader(h), lpc.String(code), lpc.String(message), origPacket)
}

// UcacheUpdatePayload models `ucache-update`: header(6), username, visname
// — 8 fields.
type UcacheUpdatePayload struct {
	Username string
	Visname  string
}

func decodeUcacheUpdate(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError("ucache-update", 8, len(arr))
	}
	user, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	vis, err := str(arr[7])
	if err != nil {
		return nil, err
	}
	return &UcacheUpdatePayload{Username: user, Visname: vis}, nil
}

// AuthMudReqPayload models `auth-mud-req`: header(6) only — 6 fields. The
// requesting mud is identified by OrigMud; no extra payload is needed.
type AuthMudReqPayload struct{}

func decodeAuthMudReq(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 6 {
		return nil, arityError("auth-mud-req", 6, len(arr))
	}
	return &AuthMudReqPayload{}, nil
}

// AuthMudReplyPayload models `auth-mud-reply`: header(6), token — 7 fields.
type AuthMudReplyPayload struct {
	Token int64
}

func decodeAuthMudReply(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 7 {
		return nil, arityError("auth-mud-reply", 7, len(arr))
	}
	token, err := integer(arr[6])
	if err != nil {
		return nil, err
	}
	return &AuthMudReplyPayload{Token: token}, nil
}

// NewAuthMudReply builds an outbound `auth-mud-reply` array.
func NewAuthMudReply(h Header, token int64) lpc.Array {
	h.Type = "auth-mud-reply"
	return append(encodeHeader(h), lpc.Int(token))
}

// OobReqPayload models `oob-req`: header(6), service_name — 7 fields.
type OobReqPayload struct {
	ServiceName string
}

func decodeOobReq(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 7 {
		return nil, arityError("oob-req", 7, len(arr))
	}
	svc, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	return &OobReqPayload{ServiceName: svc}, nil
}

func init() {
	Register("error", decodeError)
	Register("ucache-update", decodeUcacheUpdate)
	Register("auth-mud-req", decodeAuthMudReq)
	Register("auth-mud-reply", decodeAuthMudReply)
	Register("oob-req", decodeOobReq)
}
