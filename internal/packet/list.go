package packet

import "i3gw/gateway/internal/lpc"

// MudlistPayload models `mudlist`: header(6), mudlist_id, info_mapping — 8
// fields. A mapping value of Int(0) means "delete this mud".
type MudlistPayload struct {
	MudlistID int64
	Info      lpc.Mapping
}

func decodeMudlist(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError("mudlist", 8, len(arr))
	}
	id, err := integer(arr[6])
	if err != nil {
		return nil, err
	}
	info, ok := arr[7].(lpc.Mapping)
	if !ok {
		return nil, arityError("mudlist.info_mapping", 0, 0)
	}
	return &MudlistPayload{MudlistID: id, Info: info}, nil
}

// ChanlistReplyPayload models `chanlist-reply`: header(6), chanlist_id,
// channel_mapping — 8 fields, the same shape as mudlist.
type ChanlistReplyPayload struct {
	ChanlistID int64
	Channels   lpc.Mapping
}

func decodeChanlistReply(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError("chanlist-reply", 8, len(arr))
	}
	id, err := integer(arr[6])
	if err != nil {
		return nil, err
	}
	channels, ok := arr[7].(lpc.Mapping)
	if !ok {
		return nil, arityError("chanlist-reply.channel_mapping", 0, 0)
	}
	return &ChanlistReplyPayload{ChanlistID: id, Channels: channels}, nil
}

// ListDeltaPayload models `mudlist-delta`, `chanlist-delta`,
// `mudlist-altered`, and `chanlist-altered` — all header(6), token, delta
// mapping (8 fields total); the distinction between delta and altered is
// purely which duplicate-suppression rule the list-sync state machine
// applies.
type ListDeltaPayload struct {
	Token int64
	Delta lpc.Mapping
}

func decodeListDelta(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 8 {
		return nil, arityError(h.Type, 8, len(arr))
	}
	token, err := integer(arr[6])
	if err != nil {
		return nil, err
	}
	delta, ok := arr[7].(lpc.Mapping)
	if !ok {
		return nil, arityError(h.Type+".delta", 0, 0)
	}
	return &ListDeltaPayload{Token: token, Delta: delta}, nil
}

func init() {
	Register("mudlist", decodeMudlist)
	Register("chanlist-reply", decodeChanlistReply)
	Register("mudlist-delta", decodeListDelta)
	Register("chanlist-delta", decodeListDelta)
	Register("mudlist-altered", decodeListDelta)
	Register("chanlist-altered", decodeListDelta)
}
