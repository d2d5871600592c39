package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"i3gw/gateway/internal/eventbus"
)

// authenticateParams is the payload of the one method that may be called
// without a session.
type authenticateParams struct {
	APIKey    string `json:"api_key"`
	SessionID string `json:"session_id"`
}

// Server is the transport-agnostic JSON-RPC 2.0 request handler: it
// owns authentication, session lookup/restore, permission and rate-limit
// gating, and method dispatch. ws.go and tcp.go each wrap it with their own
// framing (one JSON object per line for TCP, one per websocket message).
type Server struct {
	log      *slog.Logger
	cfg      Config
	sessions *Sessions
	limiter  *RateLimiter
	deps     *Deps
	closing  func() bool
}

// NewServer builds a Server bound to cfg's auth/rate-limit policy and deps.
// closing, if non-nil, is polled before dispatch so in-flight requests get
// shutting_down instead of a half-finished reply during graceful shutdown.
func NewServer(log *slog.Logger, cfg Config, deps *Deps, closing func() bool) *Server {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Auth.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Server{
		log:      log,
		cfg:      cfg,
		sessions: NewSessions(timeout),
		limiter:  NewRateLimiter(cfg.RateLimits),
		deps:     deps,
		closing:  closing,
	}
}

// Sessions exposes the session table so the gateway orchestrator's
// session-timeout janitor can sweep it.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Bus exposes the event bus so transports can start a per-connection
// forwarder once a session authenticates.
func (s *Server) Bus() *eventbus.Bus { return s.deps.Bus }

// eventNotification is the JSON-RPC 2.0 notification shape used to push a
// subscribed event to a connection (no id, since notifications expect no
// response).
type eventNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  eventNotifyBody `json:"params"`
}

type eventNotifyBody struct {
	Type    eventbus.Type `json:"type"`
	Channel string        `json:"channel,omitempty"`
	Data    any           `json:"data"`
}

// EncodeEvent renders an event-bus Event as a wire frame for a subscribed
// connection's forwarder goroutine.
func EncodeEvent(e eventbus.Event) []byte {
	b, err := json.Marshal(eventNotification{
		JSONRPC: "2.0",
		Method:  "event",
		Params:  eventNotifyBody{Type: e.Type, Channel: e.Channel, Data: e.Data},
	})
	if err != nil {
		return nil
	}
	return b
}

func (s *Server) apiKey(key string) (APIKey, bool) {
	for _, k := range s.cfg.Auth.APIKeys {
		if k.Key == key {
			return k, true
		}
	}
	return APIKey{}, false
}

// HandleFrame decodes one wire frame (a single request object or a JSON
// array of them, per JSON-RPC 2.0 batching) and returns the encoded
// response frame. sessionID is the connection's current session, if any;
// it is updated in place when authenticate succeeds. A nil return means
// the frame was entirely notifications and no response is sent.
func (s *Server) HandleFrame(ctx context.Context, sessionID *string, raw []byte) []byte {
	trimmed := skipSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return encode(errorResponse(nullID, CodeParseError, "parse error", nil))
		}
		if len(reqs) == 0 {
			return encode(errorResponse(nullID, CodeInvalidRequest, "empty batch", nil))
		}
		var out []Response
		for _, req := range reqs {
			if resp, ok := s.handleOne(ctx, sessionID, req); ok {
				out = append(out, resp)
			}
		}
		if len(out) == 0 {
			return nil
		}
		b, _ := json.Marshal(out)
		return b
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(errorResponse(nullID, CodeParseError, "parse error", nil))
	}
	resp, ok := s.handleOne(ctx, sessionID, req)
	if !ok {
		return nil
	}
	return encode(resp)
}

func skipSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

func encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(errorResponse(nullID, CodeInternalError, "encode error", nil))
	}
	return b
}

// handleOne dispatches a single request. ok is false for a well-formed
// notification (no id): the caller must not emit any response for it,
// per JSON-RPC 2.0.
func (s *Server) handleOne(ctx context.Context, sessionID *string, req Request) (Response, bool) {
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	notify := req.IsNotification()

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return errorResponse(id, CodeInvalidRequest, "unsupported jsonrpc version", nil), !notify
	}

	if s.closing != nil && s.closing() {
		return errorResponse(id, CodeShuttingDown, "gateway_shutting_down", nil), !notify
	}

	if req.Method == "authenticate" {
		resp := s.authenticate(sessionID, id, req.Params)
		return resp, !notify
	}

	// ping is exempt from authentication, so a client can probe liveness before ever
	// presenting an api_key.
	if req.Method == "ping" {
		result, rerr := handlePing(ctx, s.deps, nil, req.Params)
		if rerr != nil {
			return errorResponse(id, rerr.Code, rerr.Message, rerr.Data), !notify
		}
		return resultResponse(id, result), !notify
	}

	sess, ok := s.sessionFor(*sessionID)
	if !ok {
		return errorResponse(id, CodeNotAuthenticated, "not authenticated", nil), !notify
	}
	sess.Touch(time.Now())

	if req.Method == "" {
		return errorResponse(id, CodeInvalidRequest, "method is required", nil), !notify
	}
	if perm, required := permissionFor[req.Method]; required && !sess.Has(perm) {
		return errorResponse(id, CodePermissionDenied, "permission denied: "+perm, nil), !notify
	}
	if !s.limiter.Allow(sess.ID, req.Method) {
		return errorResponse(id, CodeRateLimited, "rate_limited", nil), !notify
	}

	h, ok := handlers[req.Method]
	if !ok {
		return errorResponse(id, CodeMethodNotFound, "method not found: "+req.Method, nil), !notify
	}
	result, rerr := h(ctx, s.deps, sess, req.Params)
	if rerr != nil {
		return errorResponse(id, rerr.Code, rerr.Message, rerr.Data), !notify
	}
	return resultResponse(id, result), !notify
}

func (s *Server) sessionFor(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	return s.sessions.Get(id, time.Now())
}

// authenticate validates an api_key (or resumes a prior session_id) and
// mints/returns a session. On success sessionID is updated so the
// caller's connection is bound to it for subsequent requests.
func (s *Server) authenticate(sessionID *string, id json.RawMessage, params json.RawMessage) Response {
	var p authenticateParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return errorResponse(id, CodeInvalidParams, "invalid params", nil)
		}
	}
	if p.SessionID != "" {
		if sess, ok := s.sessions.Get(p.SessionID, time.Now()); ok {
			sess.Touch(time.Now())
			*sessionID = sess.ID
			return resultResponse(id, map[string]any{"session_id": sess.ID, "mud_name": sess.MudName, "resumed": true})
		}
		return errorResponse(id, CodeSessionExpired, "session_expired", nil)
	}
	key, ok := s.apiKey(p.APIKey)
	if !ok {
		return errorResponse(id, CodeNotAuthenticated, "invalid api_key", nil)
	}
	sess := s.sessions.Create(key.MudName, key.Permissions)
	*sessionID = sess.ID
	return resultResponse(id, map[string]any{"session_id": sess.ID, "mud_name": sess.MudName, "resumed": false})
}
