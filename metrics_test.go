package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"i3gw/gateway/internal/api"
	"i3gw/gateway/internal/config"
)

// newTestGateway builds a Gateway against an ephemeral in-memory
// persisted-state db, with no router endpoints or API transports
// configured — enough to exercise RunStatsLog without any network I/O.
func newTestGateway(t *testing.T, buf *bytes.Buffer) *Gateway {
	t.Helper()
	log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Config{
		Mud: config.MudConfig{Name: "TestMud"},
		API: api.Config{
			Auth: api.AuthConfig{SessionTimeout: api.DefaultSessionTimeout},
		},
		State: config.StateConfig{PersistPath: ":memory:"},
	}
	gw, err := NewGateway(log, cfg)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(func() { gw.persist.Close() })
	return gw
}

func TestRunStatsLogEmitsOnTick(t *testing.T) {
	var buf bytes.Buffer
	gw := newTestGateway(t, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunStatsLog(ctx, gw, 30*time.Millisecond)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	output := buf.String()
	if !strings.Contains(output, "gateway stats") {
		t.Errorf("expected a 'gateway stats' log line, got: %q", output)
	}
	if !strings.Contains(output, "router_state") {
		t.Errorf("expected router_state field, got: %q", output)
	}
}

func TestRunStatsLogStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	gw := newTestGateway(t, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunStatsLog(ctx, gw, 30*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunStatsLog did not exit after cancel")
	}
}
