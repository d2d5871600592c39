package gwerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageWithAndWithoutCause(t *testing.T) {
	withCause := New(BadTag, "lpc.DecodeValue", errors.New("boom"))
	if got, want := withCause.Error(), "lpc.DecodeValue: bad_tag: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	bare := New(IdleTimeout, "router.readLoop", nil)
	if got, want := bare.Error(), "router.readLoop: idle_timeout"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := New(QueueFull, "eventbus.Publish", cause)
	if !errors.Is(e, cause) {
		t.Fatal("errors.Is should find the wrapped cause")
	}
}

func TestIsAndKindOfThroughWrap(t *testing.T) {
	e := New(HandshakeTimeout, "router.Connect", nil)
	wrapped := fmt.Errorf("dial: %w", e)

	if !Is(wrapped, HandshakeTimeout) {
		t.Fatal("Is should find the Kind through fmt.Errorf wrapping")
	}
	if Is(wrapped, IdleTimeout) {
		t.Fatal("Is should not match an unrelated Kind")
	}

	kind, ok := KindOf(wrapped)
	if !ok || kind != HandshakeTimeout {
		t.Fatalf("KindOf = (%q, %v), want (%q, true)", kind, ok, HandshakeTimeout)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("KindOf should report false for a non-taxonomy error")
	}
}
