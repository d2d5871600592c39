// Package config defines the gateway's configuration record. No loader
// lives here — this is only the
// shape an external loader (flag parsing, file parsing, env vars) is
// assumed to populate before constructing a gateway.
package config

import (
	"time"

	"i3gw/gateway/internal/api"
	"i3gw/gateway/internal/router"
)

// RouterConfig is the `router` block of the configuration.
type RouterConfig struct {
	Endpoints        []router.Endpoint
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

// MudConfig is the `mud` block — this gateway's own declared
// identity and metadata, sent on every handshake.
type MudConfig struct {
	Name       string
	PlayerPort int64
	OobTCPPort int64
	OobUDPPort int64
	Services   map[string]int64
	AdminEmail string
	Mudlib     string
	BaseMudlib string
	Driver     string
	MudType    string
	OpenStatus string
}

// StateConfig is the `state` block.
type StateConfig struct {
	PersistPath string
}

// Config is the gateway's full configuration record.
type Config struct {
	Router RouterConfig
	Mud    MudConfig
	API    api.Config
	State  StateConfig
}
