// Package state owns the gateway's replicated view of the I3 network: the
// mudlist and channel list directories, TTL-bounded reply caches, the
// unbounded user cache, and observability counters. All mutation is
// serialized through a single owner so reads never observe a half-applied
// delta.
package state

import "i3gw/gateway/internal/lpc"

// Channel type constants.
const (
	ChanSelectiveBan   = 0
	ChanSelectiveAdmit = 1
	ChanFilteredAdmit  = 2
)

// Mud up/down state constants. Positive values are a
// seconds-until-up hint, not an enumerated constant.
const (
	MudUp   = -1
	MudDown = 0
)

// MudInfo is one directory entry in the mudlist.
type MudInfo struct {
	Name       string
	State      int64
	IP         string
	PlayerPort int64
	OobTCPPort int64
	OobUDPPort int64
	Mudlib     string
	BaseMudlib string
	Driver     string
	MudType    string
	OpenStatus string
	AdminEmail string
	Services   lpc.Mapping
	OtherData  lpc.Mapping
}

// ChannelInfo is one directory entry in the chanlist.
type ChannelInfo struct {
	Name      string
	HostMud   string
	Type      int64
	Admitted  map[string]struct{}
	Banned    map[string]struct{}
	Listeners map[string]struct{}
}

// decodeMudInfo parses one mudlist mapping value. The array shape is
// (state, ip, player_port, oob_tcp_port, oob_udp_port, mudlib, base_mudlib,
// driver, mud_type, open_status, admin_email, services, other_data) — 13
// fields, mirroring MudInfo's field list minus `name` (the mapping key).
// It returns (info, present, valid). A value of Int(0) means "delete this
// mud" and is reported as present=false, valid=true; any malformed value
// returns valid=false.
func decodeMudInfo(name string, v lpc.Value) (MudInfo, bool, bool) {
	if i, isInt := v.(lpc.Int); isInt {
		if i == 0 {
			return MudInfo{}, false, true
		}
		return MudInfo{}, false, false
	}
	arr, ok := v.(lpc.Array)
	if !ok || len(arr) != 13 {
		return MudInfo{}, false, false
	}
	state, ok := asInt(arr[0])
	if !ok {
		return MudInfo{}, false, false
	}
	ip, ok := asString(arr[1])
	if !ok {
		return MudInfo{}, false, false
	}
	playerPort, ok := asInt(arr[2])
	if !ok {
		return MudInfo{}, false, false
	}
	oobTCP, ok := asInt(arr[3])
	if !ok {
		return MudInfo{}, false, false
	}
	oobUDP, ok := asInt(arr[4])
	if !ok {
		return MudInfo{}, false, false
	}
	mudlib, ok := asString(arr[5])
	if !ok {
		return MudInfo{}, false, false
	}
	baseMudlib, ok := asString(arr[6])
	if !ok {
		return MudInfo{}, false, false
	}
	driver, ok := asString(arr[7])
	if !ok {
		return MudInfo{}, false, false
	}
	mudType, ok := asString(arr[8])
	if !ok {
		return MudInfo{}, false, false
	}
	openStatus, ok := asString(arr[9])
	if !ok {
		return MudInfo{}, false, false
	}
	adminEmail, ok := asString(arr[10])
	if !ok {
		return MudInfo{}, false, false
	}
	services, _ := arr[11].(lpc.Mapping)
	other, _ := arr[12].(lpc.Mapping)
	return MudInfo{
		Name: name, State: state, IP: ip,
		PlayerPort: playerPort, OobTCPPort: oobTCP, OobUDPPort: oobUDP,
		Mudlib: mudlib, BaseMudlib: baseMudlib, Driver: driver,
		MudType: mudType, OpenStatus: openStatus, AdminEmail: adminEmail,
		Services: services, OtherData: other,
	}, true, true
}

// decodeChannelInfo parses one chanlist mapping value: (host_mud, type,
// admitted, banned, listeners) — 5 fields, mirroring ChannelInfo minus
// `name`. A value of Int(0) means "delete this channel".
func decodeChannelInfo(name string, v lpc.Value) (ChannelInfo, bool, bool) {
	if i, isInt := v.(lpc.Int); isInt {
		if i == 0 {
			return ChannelInfo{}, false, true
		}
		return ChannelInfo{}, false, false
	}
	arr, ok := v.(lpc.Array)
	if !ok || len(arr) != 5 {
		return ChannelInfo{}, false, false
	}
	host, ok := asString(arr[0])
	if !ok {
		return ChannelInfo{}, false, false
	}
	typ, ok := asInt(arr[1])
	if !ok {
		return ChannelInfo{}, false, false
	}
	admitted, ok := asStringSet(arr[2])
	if !ok {
		return ChannelInfo{}, false, false
	}
	banned, ok := asStringSet(arr[3])
	if !ok {
		return ChannelInfo{}, false, false
	}
	listeners, ok := asStringSet(arr[4])
	if !ok {
		return ChannelInfo{}, false, false
	}
	return ChannelInfo{
		Name: name, HostMud: host, Type: typ,
		Admitted: admitted, Banned: banned, Listeners: listeners,
	}, true, true
}

func asInt(v lpc.Value) (int64, bool) {
	i, ok := v.(lpc.Int)
	return int64(i), ok
}

func asString(v lpc.Value) (string, bool) {
	s, ok := v.(lpc.String)
	return string(s), ok
}

func asStringSet(v lpc.Value) (map[string]struct{}, bool) {
	arr, ok := v.(lpc.Array)
	if !ok {
		return nil, false
	}
	set := make(map[string]struct{}, len(arr))
	for _, elem := range arr {
		s, ok := elem.(lpc.String)
		if !ok {
			return nil, false
		}
		set[string(s)] = struct{}{}
	}
	return set, true
}
