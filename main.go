package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"i3gw/gateway/internal/api"
	"i3gw/gateway/internal/config"
	"i3gw/gateway/internal/router"
)

// Exit codes: 0 clean, 2 config error, 3 fatal runtime error.
const (
	exitConfigError  = 2
	exitRuntimeError = 3
)

func fatalf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "i3gateway: "+format+"\n", args...)
	os.Exit(code)
}

func main() {
	if len(os.Args) > 1 {
		cliArgs, dbPath := splitCLIDBFlag(os.Args[1:])
		if RunCLI(cliArgs, dbPath) {
			return
		}
	}

	mudName := flag.String("mud-name", "", "this mud's name, as announced on every handshake")
	routers := flag.String("routers", "", "comma-separated router list: name=host:port[,name=host:port...]")
	playerPort := flag.Int64("player-port", 0, "this mud's player connection port")
	oobTCPPort := flag.Int64("oob-tcp-port", 0, "this mud's OOB TCP port")
	oobUDPPort := flag.Int64("oob-udp-port", 0, "this mud's OOB UDP port")
	adminEmail := flag.String("admin-email", "", "administrative contact email")
	mudlib := flag.String("mudlib", "", "mudlib name")
	baseMudlib := flag.String("base-mudlib", "", "base mudlib name")
	driver := flag.String("driver", "", "driver name")
	mudType := flag.String("mud-type", "", "mud type string")
	openStatus := flag.String("open-status", "open", "open status string")
	handshakeTimeout := flag.Duration("handshake-timeout", 30*time.Second, "router handshake timeout")
	idleTimeout := flag.Duration("idle-timeout", 300*time.Second, "router link idle timeout")

	wsAddr := flag.String("api-ws-addr", ":8080", "API websocket listen address (empty to disable)")
	tcpAddr := flag.String("api-tcp-addr", "", "API line-delimited TCP listen address (empty to disable)")
	useTLS := flag.Bool("tls", false, "serve the websocket listener as WSS using a self-signed certificate")
	tlsHostname := flag.String("tls-hostname", "", "Common Name / SAN for the self-signed certificate")
	tlsValidity := flag.Duration("tls-validity", 365*24*time.Hour, "self-signed certificate validity window")
	apiKeys := flag.String("api-keys", "", "comma-separated api keys: key=mudname:perm1|perm2[,key=mudname:perm1|perm2...]")
	sessionTimeout := flag.Duration("session-timeout", api.DefaultSessionTimeout, "API session restore timeout")
	rateLimitPerMinute := flag.Int("rate-limit-per-minute", DefaultRateLimitPerMinute, "API token-bucket per-minute cap")
	rateLimitPerHour := flag.Int("rate-limit-per-hour", DefaultRateLimitPerHour, "API token-bucket per-hour cap")

	dbPath := flag.String("state-db", "i3gateway.db", "persisted-state database path")
	flag.Parse()

	if *mudName == "" {
		fatalf(exitConfigError, "-mud-name is required")
	}

	eps, err := parseRouters(*routers)
	if err != nil {
		fatalf(exitConfigError, "-routers: %v", err)
	}
	keys, err := parseAPIKeys(*apiKeys)
	if err != nil {
		fatalf(exitConfigError, "-api-keys: %v", err)
	}

	cfg := config.Config{
		Router: config.RouterConfig{
			Endpoints:        eps,
			HandshakeTimeout: *handshakeTimeout,
			IdleTimeout:      *idleTimeout,
		},
		Mud: config.MudConfig{
			Name:       *mudName,
			PlayerPort: *playerPort,
			OobTCPPort: *oobTCPPort,
			OobUDPPort: *oobUDPPort,
			AdminEmail: *adminEmail,
			Mudlib:     *mudlib,
			BaseMudlib: *baseMudlib,
			Driver:     *driver,
			MudType:    *mudType,
			OpenStatus: *openStatus,
		},
		API: api.Config{
			WS:   api.TransportConfig{Enabled: *wsAddr != "", Host: "", Port: 0},
			TCP:  api.TransportConfig{Enabled: *tcpAddr != "", Host: "", Port: 0},
			Auth: api.AuthConfig{APIKeys: keys, SessionTimeout: *sessionTimeout},
			RateLimits: api.RateLimitConfig{
				PerMinute: *rateLimitPerMinute,
				PerHour:   *rateLimitPerHour,
			},
		},
		State: config.StateConfig{PersistPath: *dbPath},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	gw, err := NewGateway(logger, cfg)
	if err != nil {
		fatalf(exitRuntimeError, "%v", err)
	}

	var tlsCfg *tls.Config
	if *useTLS {
		var fingerprint string
		tlsCfg, fingerprint, err = generateTLSConfig(*tlsValidity, *tlsHostname)
		if err != nil {
			fatalf(exitRuntimeError, "tls: %v", err)
		}
		logger.Info("tls: self-signed certificate generated", "fingerprint", fingerprint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("gateway: shutting down")
		cancel()
	}()

	go RunStatsLog(ctx, gw, 10*time.Second)

	if err := gw.Run(ctx, *wsAddr, *tcpAddr, tlsCfg); err != nil {
		fatalf(exitRuntimeError, "%v", err)
	}
}

// parseRouters parses "-routers" into router.Endpoint values. Every entry
// is marked preferred; failover order among them follows configuration
// order.
func parseRouters(s string) ([]router.Endpoint, error) {
	if s == "" {
		return nil, nil
	}
	var out []router.Endpoint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		nameHost := strings.SplitN(part, "=", 2)
		if len(nameHost) != 2 {
			return nil, fmt.Errorf("malformed router entry %q (want name=host:port)", part)
		}
		host, portStr, err := splitHostPort(nameHost[1])
		if err != nil {
			return nil, fmt.Errorf("router %q: %w", nameHost[0], err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("router %q: bad port %q", nameHost[0], portStr)
		}
		out = append(out, router.Endpoint{Name: nameHost[0], Host: host, Port: port, Preferred: true})
	}
	return out, nil
}

func splitHostPort(s string) (host, port string, err error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", "", fmt.Errorf("missing port in %q", s)
	}
	return s[:i], s[i+1:], nil
}

// parseAPIKeys parses "-api-keys" into api.APIKey values: each entry is
// key=mudname:perm1|perm2|....
func parseAPIKeys(s string) ([]api.APIKey, error) {
	if s == "" {
		return nil, nil
	}
	var out []api.APIKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyRest := strings.SplitN(part, "=", 2)
		if len(keyRest) != 2 {
			return nil, fmt.Errorf("malformed api key entry %q (want key=mudname:perm1|perm2)", part)
		}
		mudPerms := strings.SplitN(keyRest[1], ":", 2)
		mudName := mudPerms[0]
		var perms []string
		if len(mudPerms) == 2 && mudPerms[1] != "" {
			perms = strings.Split(mudPerms[1], "|")
		}
		out = append(out, api.APIKey{Key: keyRest[0], MudName: mudName, Permissions: perms})
	}
	return out, nil
}
