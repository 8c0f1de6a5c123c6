package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classpulse/internal/auth"
	"classpulse/internal/logging"
	"classpulse/internal/metrics"
	"classpulse/internal/presence"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// HandlerConfig carries the socket limits from the websocket config section
type HandlerConfig struct {
	ReadTimeout      time.Duration
	MaxMessageSize   int64
	HandshakeTimeout time.Duration
	Connection       ConnectionConfig
}

// DefaultHandlerConfig returns production defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadTimeout:      60 * time.Second,
		MaxMessageSize:   64 * 1024,
		HandshakeTimeout: 10 * time.Second,
		Connection:       DefaultConnectionConfig(),
	}
}

// Handler runs the connection lifecycle: verify, classify, register,
// announce, read, tear down.
// ARCHITECTURAL DISCOVERY: Clean separation of socket handling from message
// semantics; the dispatcher and broadcaster are injected behind interfaces.
type Handler struct {
	cfg         HandlerConfig
	registry    *Registry
	verifier    auth.Verifier
	presence    *presence.Store
	dispatcher  interfaces.Dispatcher
	broadcaster interfaces.Broadcaster
	audit       interfaces.ConnectionLog // optional
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewHandler creates a lifecycle handler. audit may be nil.
func NewHandler(
	cfg HandlerConfig,
	registry *Registry,
	verifier auth.Verifier,
	store *presence.Store,
	dispatcher interfaces.Dispatcher,
	broadcaster interfaces.Broadcaster,
	audit interfaces.ConnectionLog,
) *Handler {
	return &Handler{
		cfg:         cfg,
		registry:    registry,
		verifier:    verifier,
		presence:    store,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		audit:       audit,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Browsers connect from the web app origin;
			// the token, not the origin, is the credential.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logging.WithComponent("websocket"),
	}
}

// tokenFromRequest prefers the Sec-WebSocket-Protocol header over the token
// query parameter. fromHeader tells the caller to echo the subprotocol.
func tokenFromRequest(r *http.Request) (token string, fromHeader bool) {
	if protocols := websocket.Subprotocols(r); len(protocols) > 0 && protocols[0] != "" {
		return protocols[0], true
	}
	return r.URL.Query().Get("token"), false
}

// ServeHTTP upgrades the request and drives the socket until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, fromHeader := tokenFromRequest(r)

	// TECHNICAL DISCOVERY: A browser that offered a subprotocol drops the
	// socket unless the server selects one, so the token is echoed back.
	upgrader := h.upgrader
	if fromHeader {
		upgrader.Subprotocols = []string{token}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		metrics.RecordRejection(metrics.ReasonUpgrade)
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("websocket upgrade failed")
		return
	}
	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}

	conn := NewConnection(ws, h.cfg.Connection)

	userID, scope, reason, err := h.establish(conn, r.URL.Path, token)
	if err != nil {
		h.reject(conn, reason, err)
		return
	}

	h.logger.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", userID).
		Str("scope_type", string(scope.Type)).
		Str("scope_id", scope.ID).
		Msg("connection established")

	// TECHNICAL DISCOVERY: Separate goroutine for the read pump so the
	// upgrade handler returns as soon as the socket is live
	go h.readPump(conn)
}

// establish verifies the token, classifies the path and registers the socket.
// Any panic along the way becomes a setup failure rather than a half-open
// socket.
func (h *Handler) establish(conn *Connection, path, token string) (userID string, scope types.Scope, reason string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().Interface("panic", rec).Str("conn_id", conn.ID()).Msg("panic during connection setup")
			reason = metrics.ReasonSetup
			err = fmt.Errorf("%w: %v", ErrConnectionSetup, rec)
		}
	}()

	identity := h.verifier.Verify(token)
	if identity == nil {
		return "", types.Scope{}, metrics.ReasonAuth, types.ErrAuthenticationFailed
	}

	scope, err = types.ClassifyPath(path, identity.UserID)
	if err != nil {
		return "", types.Scope{}, metrics.ReasonPath, err
	}

	conn.identify(identity.UserID, scope)
	if err := checkIdentified(conn); err != nil {
		return "", types.Scope{}, metrics.ReasonSetup, fmt.Errorf("%w: %v", ErrConnectionSetup, err)
	}

	// FUNCTIONAL DISCOVERY: The snapshot is queued before the socket becomes
	// visible to broadcasts, so CONNECTION_ESTABLISHED is always its first frame.
	h.presence.MarkOnline(identity.UserID, scope)
	snapshot := types.NewConnectionEstablished(
		scope,
		identity.UserID,
		h.presence.OnlineIn(scope),
		h.presence.TypingIn(scope),
	)
	if err := conn.WriteJSON(snapshot); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to send connection snapshot")
	}

	if err := h.registry.Register(conn); err != nil {
		return "", types.Scope{}, metrics.ReasonSetup, fmt.Errorf("%w: %v", ErrConnectionSetup, err)
	}
	metrics.TrackConnection(string(scope.Type), true)

	if h.audit != nil {
		record := &interfaces.ConnectionRecord{
			ID:          conn.ID(),
			UserID:      identity.UserID,
			ScopeType:   scope.Type,
			ScopeID:     scope.ID,
			ConnectedAt: h.presence.Now(),
		}
		if err := h.audit.RecordConnect(context.Background(), record); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to record connection")
		}
	}

	return identity.UserID, scope, "", nil
}

// reject reports the failure to the client and closes with code 4000. The
// message is the fixed user-facing text for known failures.
func (h *Handler) reject(conn *Connection, reason string, err error) {
	metrics.RecordRejection(reason)

	message := err.Error()
	if errors.Is(err, ErrConnectionSetup) {
		message = ErrConnectionSetup.Error()
	}

	h.logger.Info().Str("conn_id", conn.ID()).Str("reason", reason).Err(err).Msg("connection rejected")

	if err := conn.WriteJSON(types.NewConnectionError(message)); err != nil {
		_ = conn.Close()
		return
	}
	conn.CloseWithCode(CloseRejected, message)

	// The writer closes the socket after the close frame; this bounds the
	// wait if the peer stops reading.
	go func() {
		select {
		case <-conn.Done():
		case <-time.After(h.cfg.Connection.WriteTimeout + time.Second):
			_ = conn.Close()
		}
	}()
}

// readPump processes inbound frames in arrival order until the socket fails
// ARCHITECTURAL DISCOVERY: One goroutine per connection reads, the writer
// goroutine owns pings, and teardown runs exactly once when reading stops.
func (h *Handler) readPump(conn *Connection) {
	reason := "closed"
	defer func() {
		h.teardown(conn, reason)
	}()

	// TECHNICAL DISCOVERY: read deadline is extended on every pong, so a peer
	// that stops answering pings is torn down after ReadTimeout
	if h.cfg.ReadTimeout > 0 {
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			reason = "read deadline"
			return
		}
		conn.conn.SetPongHandler(func(string) error {
			return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		})
	}

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			reason = closeReason(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && conn.IsOpen() {
				h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Str("user_id", conn.UserID()).Msg("websocket transport error")
			}
			return
		}

		if h.cfg.ReadTimeout > 0 {
			_ = conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		}
		h.dispatch(conn, data)
	}
}

// dispatch isolates one frame: a panic in a handler costs that frame only
func (h *Handler) dispatch(conn *Connection, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordFrameError(metrics.KindPanic)
			h.logger.Error().Interface("panic", rec).Str("conn_id", conn.ID()).Msg("panic while handling frame")
			_ = conn.WriteJSON(types.NewError("Internal error"))
		}
	}()

	h.dispatcher.Dispatch(conn, data)
}

// teardown removes the socket and announces the offline transition
func (h *Handler) teardown(conn *Connection, reason string) {
	userID := conn.UserID()
	scope := conn.Scope()

	primary := h.registry.Unregister(conn)
	_ = conn.Close()
	metrics.TrackConnection(string(scope.Type), false)

	if h.audit != nil {
		if err := h.audit.RecordDisconnect(context.Background(), conn.ID(), h.presence.Now(), reason); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to record disconnect")
		}
	}

	h.logger.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", userID).
		Str("scope_type", string(scope.Type)).
		Str("scope_id", scope.ID).
		Str("reason", reason).
		Msg("connection closed")

	// FUNCTIONAL DISCOVERY: An older socket of a user who reconnected
	// elsewhere leaves quietly; presence belongs to the newer socket.
	if !primary || userID == "" {
		return
	}

	h.presence.ClearTyping(userID)
	if _, existed := h.presence.RemoveOnline(userID); existed {
		h.broadcaster.Broadcast(scope, types.NewUserStatusUpdate(userID, false, h.presence.OnlineIn(scope)))
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return fmt.Sprintf("close %d: %s", closeErr.Code, closeErr.Text)
		}
		return fmt.Sprintf("close %d", closeErr.Code)
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return "message too large"
	}
	return "transport error"
}
