package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"i3gw/gateway/internal/eventbus"
	"i3gw/gateway/internal/gwerr"
	"i3gw/gateway/internal/lpc"
	"i3gw/gateway/internal/packet"
	"i3gw/gateway/internal/registry"
	"i3gw/gateway/internal/state"
)

// permissionFor maps each JSON-RPC method to the permission string a
// session must hold to call it. authenticate and ping require none.
var permissionFor = map[string]string{
	"status":          "status",
	"stats":           "stats",
	"tell":            "tell",
	"emoteto":         "tell",
	"channel_send":    "channel",
	"channel_emote":   "channel",
	"channel_join":    "channel",
	"channel_leave":   "channel",
	"channel_list":    "channel",
	"channel_who":     "channel",
	"channel_history": "channel",
	"who":             "who",
	"finger":          "finger",
	"locate":          "locate",
	"mudlist":         "mudlist",
	"reconnect":       "admin",
	"subscribe":       "subscribe",
	"unsubscribe":     "subscribe",
}

// Outbound is the router-facing surface a method handler needs to send a
// packet and, for request/reply services, await its correlated answer.
type Outbound interface {
	Enqueue(arr lpc.Array) error
}

// Deps bundles every collaborator the method handlers dispatch into:
// the router link, the replicated state store, the correlation/auth-token
// registry, and the event bus sessions subscribe through.
type Deps struct {
	MudName   string
	Router    Outbound
	State     *state.Store
	Registry  *registry.Registry
	Bus       *eventbus.Bus
	Reconnect func() error
}

// handlerFunc implements one JSON-RPC method body. sess is nil only where
// server.go calls handlePing itself (ping is answered before any session
// lookup).
type handlerFunc func(ctx context.Context, d *Deps, sess *Session, params json.RawMessage) (any, *RPCError)

var handlers = map[string]handlerFunc{
	"ping":            handlePing,
	"status":          handleStatus,
	"stats":           handleStats,
	"tell":            handleTell,
	"emoteto":         handleEmoteto,
	"channel_send":    handleChannelSend,
	"channel_emote":   handleChannelEmote,
	"channel_join":    handleChannelJoin,
	"channel_leave":   handleChannelLeave,
	"channel_list":    handleChannelList,
	"channel_who":     handleChannelWho,
	"channel_history": handleChannelHistory,
	"who":             handleWho,
	"finger":          handleFinger,
	"locate":          handleLocate,
	"mudlist":         handleMudlist,
	"reconnect":       handleReconnect,
	"subscribe":       handleSubscribe,
	"unsubscribe":     handleUnsubscribe,
}

// lpcToJSON converts a decoded LPC value into the JSON-friendly shape API
// responses carry: arrays become JSON arrays, mappings become objects keyed
// by their string form.
func lpcToJSON(v lpc.Value) any {
	switch val := v.(type) {
	case nil, lpc.Null:
		return nil
	case lpc.Int:
		return int64(val)
	case lpc.Float:
		return float64(val)
	case lpc.String:
		return string(val)
	case lpc.Array:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = lpcToJSON(e)
		}
		return out
	case lpc.Mapping:
		out := make(map[string]any, len(val))
		for _, e := range val {
			key, ok := e.Key.(lpc.String)
			if !ok {
				key = lpc.String(fmt.Sprint(lpcToJSON(e.Key)))
			}
			out[string(key)] = lpcToJSON(e.Val)
		}
		return out
	case lpc.Buffer:
		return []byte(val)
	default:
		return nil
	}
}

func invalidParams(err error) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
}

func internalError(err error) *RPCError {
	return &RPCError{Code: CodeInternalError, Message: err.Error()}
}

// unknownMud fails a query against a mud absent from the directory with
// the protocol's unk-dst code up front, rather than letting the request
// sit on the correlation deadline for a reply that will never come.
func unknownMud(mud string) *RPCError {
	return &RPCError{
		Code:    CodeInvalidParams,
		Message: "unknown mud: " + mud,
		Data:    map[string]string{"i3_error_code": string(gwerr.UnkDst)},
	}
}

func handlePing(_ context.Context, _ *Deps, _ *Session, _ json.RawMessage) (any, *RPCError) {
	return map[string]string{"pong": "ok"}, nil
}

func handleStatus(_ context.Context, d *Deps, _ *Session, _ json.RawMessage) (any, *RPCError) {
	return map[string]any{
		"mud_name":    d.MudName,
		"mudlist_id":  d.State.MudlistID(),
		"chanlist_id": d.State.ChanlistID(),
	}, nil
}

func handleStats(_ context.Context, d *Deps, _ *Session, _ json.RawMessage) (any, *RPCError) {
	return d.State.Stats(), nil
}

type tellParams struct {
	TargetMud  string `json:"target_mud"`
	TargetUser string `json:"target_user"`
	Message    string `json:"message"`
	FromUser   string `json:"from_user"`
	Visname    string `json:"visname"`
}

func sendTell(ctx context.Context, typ string, d *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	var p tellParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.TargetMud == "" || p.TargetUser == "" || p.Message == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "target_mud, target_user, and message are required"}
	}
	h := packet.Header{
		OrigMud:    d.MudName,
		OrigUser:   p.FromUser,
		TargetMud:  p.TargetMud,
		TargetUser: p.TargetUser,
		TTL:        5,
	}
	arr := packet.NewTell(typ, h, p.Visname, p.Message)
	if err := d.Router.Enqueue(arr); err != nil {
		return nil, internalError(err)
	}
	return map[string]bool{"sent": true}, nil
}

func handleTell(ctx context.Context, d *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	return sendTell(ctx, "tell", d, sess, params)
}

func handleEmoteto(ctx context.Context, d *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	return sendTell(ctx, "emoteto", d, sess, params)
}

type channelSendParams struct {
	Channel  string `json:"channel"`
	Message  string `json:"message"`
	FromUser string `json:"from_user"`
	Visname  string `json:"visname"`
}

func sendChannel(typ string, d *Deps, params json.RawMessage) (any, *RPCError) {
	var p channelSendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.Channel == "" || p.Message == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "channel and message are required"}
	}
	h := packet.Header{OrigMud: d.MudName, OrigUser: p.FromUser, TTL: 5}
	arr := packet.NewChannelMsg(typ, h, p.Channel, p.Visname, p.Message)
	if err := d.Router.Enqueue(arr); err != nil {
		return nil, internalError(err)
	}
	return map[string]bool{"sent": true}, nil
}

func handleChannelSend(_ context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	return sendChannel("channel-m", d, params)
}

func handleChannelEmote(_ context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	return sendChannel("channel-e", d, params)
}

type channelNameParams struct {
	Channel string `json:"channel"`
}

func handleChannelJoin(_ context.Context, d *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	var p channelNameParams
	if err := json.Unmarshal(params, &p); err != nil || p.Channel == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "channel is required"}
	}
	types, channels := sess.Subscriptions()
	channels = appendUnique(channels, p.Channel)
	sess.SetSubscriptions(types, channels)
	d.Bus.Publish(eventbus.Event{Type: eventbus.ChannelJoined, Channel: p.Channel, Data: sess.ID})
	return map[string]bool{"joined": true}, nil
}

func handleChannelLeave(_ context.Context, d *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	var p channelNameParams
	if err := json.Unmarshal(params, &p); err != nil || p.Channel == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "channel is required"}
	}
	types, channels := sess.Subscriptions()
	channels = removeString(channels, p.Channel)
	sess.SetSubscriptions(types, channels)
	d.Bus.Publish(eventbus.Event{Type: eventbus.ChannelLeft, Channel: p.Channel, Data: sess.ID})
	return map[string]bool{"left": true}, nil
}

func handleChannelList(_ context.Context, d *Deps, _ *Session, _ json.RawMessage) (any, *RPCError) {
	return d.State.GetChannels(), nil
}

func handleChannelWho(_ context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	var p channelNameParams
	if err := json.Unmarshal(params, &p); err != nil || p.Channel == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "channel is required"}
	}
	ch, ok := d.State.LookupChannel(p.Channel)
	if !ok {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "unk-channel"}
	}
	return ch, nil
}

func handleChannelHistory(_ context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	var p channelNameParams
	if err := json.Unmarshal(params, &p); err != nil || p.Channel == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "channel is required"}
	}
	return d.State.ChannelHistory(p.Channel), nil
}

type mudNameParams struct {
	Mud string `json:"mud"`
}

func awaitCorrelated(ctx context.Context, d *Deps, expectedTypes []string, build func(key string) lpc.Array) (*packet.Packet, *RPCError) {
	key, err := registry.NewCorrelationKey()
	if err != nil {
		return nil, internalError(err)
	}
	arr := build(key)
	if err := d.Router.Enqueue(arr); err != nil {
		return nil, internalError(err)
	}
	pkt, err := d.Registry.Await(ctx, key, expectedTypes, registry.DefaultCorrelationDeadline)
	if err != nil {
		return nil, &RPCError{Code: CodeGatewayTimeout, Message: "gateway_timeout"}
	}
	return pkt, nil
}

func handleWho(ctx context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	var p mudNameParams
	if err := json.Unmarshal(params, &p); err != nil || p.Mud == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "mud is required"}
	}
	if cached, ok := d.State.LookupWho(p.Mud, time.Now()); ok {
		return map[string]any{"mud": p.Mud, "who": lpcToJSON(cached)}, nil
	}
	if _, ok := d.State.LookupMud(p.Mud); !ok {
		return nil, unknownMud(p.Mud)
	}
	pkt, rerr := awaitCorrelated(ctx, d, []string{"who-reply"}, func(key string) lpc.Array {
		h := packet.Header{OrigMud: d.MudName, OrigUser: key, TargetMud: p.Mud, TTL: 5}
		return packet.NewWhoReq(h)
	})
	if rerr != nil {
		return nil, rerr
	}
	reply := pkt.Payload.(*packet.WhoReplyPayload)
	d.State.CacheWho(pkt.OrigMud, reply.WhoData, time.Now())
	return map[string]any{"mud": pkt.OrigMud, "who": lpcToJSON(reply.WhoData)}, nil
}

type fingerParams struct {
	Mud      string `json:"mud"`
	Username string `json:"username"`
}

func handleFinger(ctx context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	var p fingerParams
	if err := json.Unmarshal(params, &p); err != nil || p.Mud == "" || p.Username == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "mud and username are required"}
	}
	if cached, ok := d.State.LookupFinger(p.Mud, p.Username, time.Now()); ok {
		return map[string]any{"mud": p.Mud, "username": p.Username, "info": lpcToJSON(cached)}, nil
	}
	if _, ok := d.State.LookupMud(p.Mud); !ok {
		return nil, unknownMud(p.Mud)
	}
	pkt, rerr := awaitCorrelated(ctx, d, []string{"finger-reply"}, func(key string) lpc.Array {
		h := packet.Header{OrigMud: d.MudName, OrigUser: key, TargetMud: p.Mud, TTL: 5}
		return packet.NewFingerReq(h, p.Username)
	})
	if rerr != nil {
		return nil, rerr
	}
	reply := pkt.Payload.(*packet.FingerReplyPayload)
	d.State.CacheFinger(pkt.OrigMud, reply.Username, reply.Info, time.Now())
	return map[string]any{"mud": pkt.OrigMud, "username": reply.Username, "info": lpcToJSON(reply.Info)}, nil
}

type locateParams struct {
	Username string `json:"username"`
}

func handleLocate(ctx context.Context, d *Deps, _ *Session, params json.RawMessage) (any, *RPCError) {
	var p locateParams
	if err := json.Unmarshal(params, &p); err != nil || p.Username == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "username is required"}
	}
	if cached, ok := d.State.LookupLocate(p.Username, time.Now()); ok {
		return map[string]any{"username": p.Username, "locations": lpcToJSON(cached)}, nil
	}
	pkt, rerr := awaitCorrelated(ctx, d, []string{"locate-reply"}, func(key string) lpc.Array {
		// Broadcast search (S2): target_mud/target_user are left empty,
		// encoded as Int(0) by encodeHeader.
		h := packet.Header{OrigMud: d.MudName, OrigUser: key, TTL: 5}
		return packet.NewLocateReq(h, p.Username)
	})
	if rerr != nil {
		return nil, rerr
	}
	reply := pkt.Payload.(*packet.LocateReplyPayload)
	d.State.CacheLocate(reply.Username, reply.Locations, time.Now())
	return map[string]any{"username": reply.Username, "locations": lpcToJSON(reply.Locations)}, nil
}

func handleMudlist(_ context.Context, d *Deps, _ *Session, _ json.RawMessage) (any, *RPCError) {
	return d.State.GetMudlist(), nil
}

func handleReconnect(_ context.Context, d *Deps, _ *Session, _ json.RawMessage) (any, *RPCError) {
	if d.Reconnect == nil {
		return nil, &RPCError{Code: CodeInternalError, Message: "reconnect not available"}
	}
	if err := d.Reconnect(); err != nil {
		return nil, internalError(err)
	}
	return map[string]bool{"reconnecting": true}, nil
}

type subscribeParams struct {
	EventTypes []string `json:"event_types"`
	Channels   []string `json:"channels"`
}

func handleSubscribe(_ context.Context, _ *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	var p subscribeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
	}
	types, channels := sess.Subscriptions()
	for _, t := range p.EventTypes {
		types = appendUniqueType(types, eventbus.Type(t))
	}
	for _, c := range p.Channels {
		channels = appendUnique(channels, c)
	}
	sess.SetSubscriptions(types, channels)
	return map[string]bool{"subscribed": true}, nil
}

func handleUnsubscribe(_ context.Context, _ *Deps, sess *Session, params json.RawMessage) (any, *RPCError) {
	var p subscribeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
	}
	types, channels := sess.Subscriptions()
	for _, t := range p.EventTypes {
		types = removeType(types, eventbus.Type(t))
	}
	for _, c := range p.Channels {
		channels = removeString(channels, c)
	}
	sess.SetSubscriptions(types, channels)
	return map[string]bool{"unsubscribed": true}, nil
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

func removeString(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func appendUniqueType(ts []eventbus.Type, v eventbus.Type) []eventbus.Type {
	for _, t := range ts {
		if t == v {
			return ts
		}
	}
	return append(ts, v)
}

func removeType(ts []eventbus.Type, v eventbus.Type) []eventbus.Type {
	out := ts[:0]
	for _, t := range ts {
		if t != v {
			out = append(out, t)
		}
	}
	return out
}
