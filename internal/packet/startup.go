package packet

import "i3gw/gateway/internal/lpc"

// MudMetadata is the mud-describing tail shared by startup-req-3 —
// the fields a mud reports about itself to its router.
type MudMetadata struct {
	PlayerPort  int64
	ImudTCPPort int64
	ImudUDPPort int64
	Mudlib      string
	BaseMudlib  string
	Driver      string
	MudType     string
	OpenStatus  string
	AdminEmail  string
	Services    lpc.Mapping
	OtherData   lpc.Mapping
}

// StartupReq3Payload models `startup-req-3`: 20 fields — header(6),
// password, old_mudlist_id, old_chanlist_id, player_port, imud_tcp_port,
// imud_udp_port, mudlib, base_mudlib, driver, mud_type, open_status,
// admin_email, services, other_data.
type StartupReq3Payload struct {
	Password      int64
	OldMudlistID  int64
	OldChanlistID int64
	MudMetadata
}

func decodeStartupReq3(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 20 {
		return nil, arityError("startup-req-3", 20, len(arr))
	}
	ints := make([]int64, 0, 6)
	for _, idx := range []int{6, 7, 8, 9, 10, 11} {
		v, err := integer(arr[idx])
		if err != nil {
			return nil, err
		}
		ints = append(ints, v)
	}
	strs := make([]string, 0, 6)
	for _, idx := range []int{12, 13, 14, 15, 16, 17} {
		v, err := str(arr[idx])
		if err != nil {
			return nil, err
		}
		strs = append(strs, v)
	}
	services, ok := arr[18].(lpc.Mapping)
	if !ok {
		return nil, arityError("startup-req-3.services", 0, 0)
	}
	other, ok := arr[19].(lpc.Mapping)
	if !ok {
		return nil, arityError("startup-req-3.other_data", 0, 0)
	}
	return &StartupReq3Payload{
		Password:      ints[0],
		OldMudlistID:  ints[1],
		OldChanlistID: ints[2],
		MudMetadata: MudMetadata{
			PlayerPort:  ints[3],
			ImudTCPPort: ints[4],
			ImudUDPPort: ints[5],
			Mudlib:      strs[0],
			BaseMudlib:  strs[1],
			Driver:      strs[2],
			MudType:     strs[3],
			OpenStatus:  strs[4],
			AdminEmail:  strs[5],
			Services:    services,
			OtherData:   other,
		},
	}, nil
}

// NewStartupReq3 builds the outbound `startup-req-3` handshake array sent
// on every (re)connect.
func NewStartupReq3(h Header, password, oldMudlistID, oldChanlistID int64, md MudMetadata) lpc.Array {
	h.Type = "startup-req-3"
	arr := encodeHeader(h)
	arr = append(arr,
		lpc.Int(password),
		lpc.Int(oldMudlistID),
		lpc.Int(oldChanlistID),
		lpc.Int(md.PlayerPort),
		lpc.Int(md.ImudTCPPort),
		lpc.Int(md.ImudUDPPort),
		lpc.String(md.Mudlib),
		lpc.String(md.BaseMudlib),
		lpc.String(md.Driver),
		lpc.String(md.MudType),
		lpc.String(md.OpenStatus),
		lpc.String(md.AdminEmail),
		md.Services,
		md.OtherData,
	)
	return arr
}

// StartupReplyPayload models `startup-reply`: header(6), password,
// mudlist_id, chanlist_id, router_list (mapping of router name to
// Array{host, port}) — 10 fields. The exact field-level shape of
// startup-reply is not enumerated in the protocol documentation; this
// decoder pins the shape above and fails closed with bad-pkt on anything
// else.
type StartupReplyPayload struct {
	Password   int64
	MudlistID  int64
	ChanlistID int64
	Routers    lpc.Mapping
}

func decodeStartupReply(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 10 {
		return nil, arityError("startup-reply", 10, len(arr))
	}
	password, err := integer(arr[6])
	if err != nil {
		return nil, err
	}
	mudlistID, err := integer(arr[7])
	if err != nil {
		return nil, err
	}
	chanlistID, err := integer(arr[8])
	if err != nil {
		return nil, err
	}
	routers, ok := arr[9].(lpc.Mapping)
	if !ok {
		return nil, arityError("startup-reply.router_list", 0, 0)
	}
	return &StartupReplyPayload{Password: password, MudlistID: mudlistID, ChanlistID: chanlistID, Routers: routers}, nil
}

// ShutdownPayload models `shutdown`: header(6), restart_delay — 7 fields.
type ShutdownPayload struct {
	RestartDelay int64
}

func decodeShutdown(h Header, arr lpc.Array) (any, error) {
	if len(arr) != 7 {
		return nil, arityError("shutdown", 7, len(arr))
	}
	delay, err := integer(arr[6])
	if err != nil {
		return nil, err
	}
	return &ShutdownPayload{RestartDelay: delay}, nil
}

// NewShutdown builds the outbound `shutdown` array.
func NewShutdown(h Header, restartDelay int64) lpc.Array {
	h.Type = "shutdown"
	return append(encodeHeader(h), lpc.Int(restartDelay))
}

func init() {
	Register("startup-req-3", decodeStartupReq3)
	Register("startup-reply", decodeStartupReply)
	Register("shutdown", decodeShutdown)
}
