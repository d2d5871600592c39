package registry

import (
	"context"
	"log/slog"
	"time"

	"i3gw/gateway/internal/eventbus"
	"i3gw/gateway/internal/lpc"
	"i3gw/gateway/internal/packet"
	"i3gw/gateway/internal/state"
)

// Sender enqueues an outbound packet on the router link — the minimal
// surface the Dispatcher needs back onto the connection manager to answer
// auth-mud-req with auth-mud-reply.
type Sender interface {
	Enqueue(arr lpc.Array) error
}

// TellEvent is the eventbus payload for tell_received/emoteto_received.
type TellEvent struct {
	FromMud  string
	FromUser string
	Visname  string
	Message  string
}

// ChannelEvent is the eventbus payload for channel_message/channel_emote.
type ChannelEvent struct {
	Channel string
	FromMud string
	Visname string
	Message string
}

// ChannelTargetedEvent is the eventbus payload for channel_targeted_emote.
type ChannelTargetedEvent struct {
	Channel       string
	FromMud       string
	OrigVisname   string
	TargetVisname string
	TargetMud     string
	TargetUser    string
	MessageTarget string
	MessageOthers string
}

// ErrorEvent is the eventbus payload for error_occurred, mirroring an
// inbound I3 `error` packet.
type ErrorEvent struct {
	Code    string
	Message string
}

// Dispatcher implements router.Dispatcher: it is the service registry of
// handling every packet type the router session engine does not
// consume directly (tell, emoteto, who/finger/locate replies, channel
// traffic, error, auth-mud-req, oob-req): cache what is cacheable, then
// tell the event bus.
type Dispatcher struct {
	log     *slog.Logger
	mudName string
	store   *state.Store
	bus     *eventbus.Bus
	reg     *Registry
	send    Sender
}

// NewDispatcher builds a service registry dispatcher. send may be nil if
// the caller never needs to reply on the router link (e.g. in tests that
// don't exercise auth-mud-req).
func NewDispatcher(log *slog.Logger, mudName string, store *state.Store, bus *eventbus.Bus, reg *Registry, send Sender) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log, mudName: mudName, store: store, bus: bus, reg: reg, send: send}
}

// publish is a nil-safe wrapper so a Dispatcher built without a bus (as in
// unit tests exercising only the cache/correlation side) doesn't panic.
func (d *Dispatcher) publish(e eventbus.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}

// Dispatch routes one decoded packet to its service handler. It
// never panics or returns an error: a single malformed or unrecognized
// packet is logged and dropped; the gateway never dies on a single bad
// packet.
func (d *Dispatcher) Dispatch(ctx context.Context, pkt *packet.Packet) {
	now := time.Now()
	switch payload := pkt.Payload.(type) {
	case *packet.TellPayload:
		evType := eventbus.TellReceived
		if pkt.Type == "emoteto" {
			evType = eventbus.EmotetoReceived
		}
		d.publish(eventbus.Event{Type: evType, Data: TellEvent{
			FromMud: pkt.OrigMud, FromUser: pkt.OrigUser, Visname: payload.Visname, Message: payload.Message,
		}})

	case *packet.ChannelMsgPayload:
		emote := pkt.Type == "channel-e"
		d.store.RecordChannelMessage(payload.Channel, payload.Visname, payload.Message, emote, now)
		evType := eventbus.ChannelMessage
		if emote {
			evType = eventbus.ChannelEmote
		}
		d.publish(eventbus.Event{Type: evType, Channel: payload.Channel, Data: ChannelEvent{
			Channel: payload.Channel, FromMud: pkt.OrigMud, Visname: payload.Visname, Message: payload.Message,
		}})

	case *packet.ChannelTargetedPayload:
		d.publish(eventbus.Event{Type: eventbus.ChannelTargetedEmote, Channel: payload.Channel, Data: ChannelTargetedEvent{
			Channel: payload.Channel, FromMud: pkt.OrigMud, OrigVisname: payload.OrigVisname,
			TargetVisname: payload.TargetVisname, TargetMud: payload.TargetMud, TargetUser: payload.TargetUser,
			MessageTarget: payload.MessageTarget, MessageOthers: payload.MessageOthers,
		}})

	case *packet.WhoReplyPayload:
		d.store.CacheWho(pkt.OrigMud, payload.WhoData, now)
		d.reg.Resolve(pkt)

	case *packet.FingerReplyPayload:
		d.store.CacheFinger(pkt.OrigMud, payload.Username, payload.Info, now)
		d.reg.Resolve(pkt)

	case *packet.LocateReplyPayload:
		d.store.CacheLocate(payload.Username, payload.Locations, now)
		d.reg.Resolve(pkt)

	case *packet.ErrorPayload:
		d.publish(eventbus.Event{Type: eventbus.ErrorOccurred, Data: ErrorEvent{Code: payload.Code, Message: payload.Message}})
		d.reg.Resolve(pkt)

	case *packet.AuthMudReqPayload:
		token, err := d.reg.IssueAuthToken(pkt.OrigMud, now)
		if err != nil {
			d.log.Warn("auth-mud-req: issue token failed", "peer", pkt.OrigMud, "err", err)
			return
		}
		if d.send == nil {
			return
		}
		h := packet.Header{OrigMud: d.mudName, TargetMud: pkt.OrigMud}
		if err := d.send.Enqueue(packet.NewAuthMudReply(h, token)); err != nil {
			d.log.Warn("auth-mud-reply: enqueue failed", "peer", pkt.OrigMud, "err", err)
		}

	case *packet.OobReqPayload:
		// OOB mail/news/file sub-services are not implemented;
		// the gateway acknowledges receipt in logs only.
		d.log.Debug("oob-req received (OOB sub-services unimplemented)", "peer", pkt.OrigMud, "service", payload.ServiceName)

	default:
		if packet.Unregistered(pkt.Type) {
			d.log.Warn("unk-type packet dropped", "type", pkt.Type)
			return
		}
		d.log.Debug("packet type has no service handler", "type", pkt.Type)
	}
}
