package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classpulse/internal/logging"
	"classpulse/pkg/types"
)

// Close codes used by the lifecycle
const (
	CloseRejected     = 4000
	CloseGoingAway    = websocket.CloseGoingAway
	ShutdownReason    = "Server shutting down"
	defaultSendBuffer = 100
)

// State is the socket's position in its lifecycle
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// ConnectionConfig tunes the per-socket writer
type ConnectionConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// DefaultConnectionConfig mirrors the websocket section defaults
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   defaultSendBuffer,
	}
}

type outbound struct {
	messageType int
	data        []byte
}

// Connection wraps one accepted socket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every
// frame, ping and close frame goes through a single writer goroutine. The
// close frame is queued behind pending data, which is what lets a
// CONNECTION_ERROR reach the client before code 4000.
type Connection struct {
	conn      *websocket.Conn
	id        string
	writeCh   chan outbound // FUNCTIONAL DISCOVERY: bounded buffer, a stalled reader never blocks broadcasts
	cfg       ConnectionConfig
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.RWMutex // protects identity fields
	userID string
	scope  types.Scope
}

// NewConnection creates a connection wrapper and starts its writer
func NewConnection(conn *websocket.Conn, cfg ConnectionConfig) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.NewString(),
		writeCh: make(chan outbound, cfg.SendBuffer),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

			if msg.messageType == websocket.CloseMessage {
				// Close frame is the last thing this socket ever writes
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg.data)
				_ = c.Close()
				return
			}

			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				logging.Debug().Err(err).Str("conn_id", c.id).Msg("write failed")
				_ = c.Close()
				return
			}

		case <-ping:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection id used in logs and the audit log
func (c *Connection) ID() string {
	return c.id
}

// State reports the lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether frames may still be queued
func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

// Send queues an already encoded text frame without waiting.
// FUNCTIONAL DISCOVERY: Broadcasts must never stall on one slow peer, so a
// full buffer drops the frame for that peer only.
func (c *Connection) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}

	select {
	case c.writeCh <- outbound{messageType: websocket.TextMessage, data: data}:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// WriteJSON encodes v and queues it, waiting up to the write timeout for
// buffer space
func (c *Connection) WriteJSON(v interface{}) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}

	data, err := types.Encode(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- outbound{messageType: websocket.TextMessage, data: data}:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithCode queues a close frame behind any pending frames and marks the
// connection closing. Later sends are refused. If the buffer is full the
// socket is closed without a close frame.
func (c *Connection) CloseWithCode(code int, reason string) {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}

	frame := outbound{
		messageType: websocket.CloseMessage,
		data:        websocket.FormatCloseMessage(code, reason),
	}
	select {
	case c.writeCh <- frame:
	default:
		_ = c.Close()
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.cancel()

		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) identify(userID string, scope types.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.scope = scope
}

// UserID returns the identity resolved from the token
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Scope returns the conversation or group this socket subscribed to
func (c *Connection) Scope() types.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}
