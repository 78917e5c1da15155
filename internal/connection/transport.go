package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the registry's view of a client connection.
type Transport interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Ping writes a liveness probe.
	Ping() error

	// OnPong sets the callback run when a probe is acknowledged.
	OnPong(fn func())

	// Close releases the connection. Safe to call more than once.
	Close() error

	// Closed reports whether the connection is gone.
	Closed() bool
}

// WSTransport is a server-side WebSocket connection.
type WSTransport struct {
	conn *websocket.Conn
	cfg  TransportConfig

	// Write serialization
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewTransport wraps an upgraded connection.
func NewTransport(conn *websocket.Conn, cfg TransportConfig) *WSTransport {
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultTransportConfig().WriteTimeout
	}
	return &WSTransport{conn: conn, cfg: cfg}
}

// Send writes raw bytes as a text frame.
func (t *WSTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrAlreadyClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a ping control frame.
func (t *WSTransport) Ping() error {
	if t.closed.Load() {
		return ErrAlreadyClosed
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
}

// OnPong installs fn as the pong handler. Must be called before the first
// ReadMessage, since control frames are handled by the reading goroutine.
func (t *WSTransport) OnPong(fn func()) {
	t.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// ReadMessage blocks for the next data frame. Any error marks the transport
// closed.
func (t *WSTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		t.closed.Store(true)
		return nil, err
	}
	return data, nil
}

// Close sends a close frame and closes the socket.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = t.conn.Close()
	})
	return err
}

// Closed reports whether the transport was closed locally or by the peer.
func (t *WSTransport) Closed() bool {
	return t.closed.Load()
}
