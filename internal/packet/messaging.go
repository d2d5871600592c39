package packet

import "i3gw/gateway/internal/lpc"

// TellPayload models `tell` and `emoteto`: 8 fields total — header(6),
// visname, message.
type TellPayload struct {
	Visname string
	Message string
}

func decodeTell(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError("tell/emoteto", 8, len(arr))
	}
	visname, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	message, err := str(arr[7])
	if err != nil {
		return nil, err
	}
	return &TellPayload{Visname: visname, Message: message}, nil
}

// NewTell builds an outbound `tell` or `emoteto` array. visname defaults to
// h.OrigUser when the caller supplies an empty string.
func NewTell(typ string, h Header, visname, message string) lpc.Array {
	h.Type = typ
	if visname == "" {
		visname = h.OrigUser
	}
	arr := append(encodeHeader(h), lpc.String(visname), lpc.String(message))
	return arr
}

// ChannelMsgPayload models `channel-m` and `channel-e`: 9 fields — header(6),
// channel, visname, message.
type ChannelMsgPayload struct {
	Channel string
	Visname string
	Message string
}

func decodeChannelMsg(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 9 {
		return nil, arityError("channel-m/channel-e", 9, len(arr))
	}
	channel, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	visname, err := str(arr[7])
	if err != nil {
		return nil, err
	}
	message, err := str(arr[8])
	if err != nil {
		return nil, err
	}
	return &ChannelMsgPayload{Channel: channel, Visname: visname, Message: message}, nil
}

// NewChannelMsg builds an outbound `channel-m`/`channel-e` array.
func NewChannelMsg(typ string, h Header, channel, visname, message string) lpc.Array {
	h.Type = typ
	if visname == "" {
		visname = h.OrigUser
	}
	return append(encodeHeader(h), lpc.String(channel), lpc.String(visname), lpc.String(message))
}

// ChannelTargetedPayload models `channel-t`: 13 fields — header(6), channel,
// orig_visname, target_visname, target_mud, target_user, message_to_target,
// message_to_others.
type ChannelTargetedPayload struct {
	Channel       string
	OrigVisname   string
	TargetVisname string
	TargetMud     string
	TargetUser    string
	MessageTarget string
	MessageOthers string
}

func decodeChannelTargeted(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 13 {
		return nil, arityError("channel-t", 13, len(arr))
	}
	channel, err := str(arr[6])
	if err != nil {
		return nil, err
	}
	origVisname, err := str(arr[7])
	if err != nil {
		return nil, err
	}
	targetVisname, err := str(arr[8])
	if err != nil {
		return nil, err
	}
	targetMud, err := field0(arr[9])
	if err != nil {
		return nil, err
	}
	targetUser, err := field0(arr[10])
	if err != nil {
		return nil, err
	}
	msgTarget, err := str(arr[11])
	if err != nil {
		return nil, err
	}
	msgOthers, err := str(arr[12])
	if err != nil {
		return nil, err
	}
	return &ChannelTargetedPayload{
		Channel:       channel,
		OrigVisname:   origVisname,
		TargetVisname: targetVisname,
		TargetMud:     targetMud,
		TargetUser:    targetUser,
		MessageTarget: msgTarget,
		MessageOthers: msgOthers,
	}, nil
}

// NewChannelTargeted builds an outbound `channel-t` array.
func NewChannelTargeted(h Header, p ChannelTargetedPayload) lpc.Array {
	h.Type = "channel-t"
	if p.OrigVisname == "" {
		p.OrigVisname = h.OrigUser
	}
	arr := encodeHeader(h)
	arr = append(arr,
		lpc.String(p.Channel),
		lpc.String(p.OrigVisname),
		lpc.String(p.TargetVisname),
		encodeField0(p.TargetMud),
		encodeField0(p.TargetUser),
		lpc.String(p.MessageTarget),
		lpc.String(p.MessageOthers),
	)
	return arr
}

func init() {
	Register("tell", decodeTell)
	Register("emoteto", decodeTell)
	Register("channel-m", decodeChannelMsg)
	Register("channel-e", decodeChannelMsg)
	Register("channel-t", decodeChannelTargeted)
}
