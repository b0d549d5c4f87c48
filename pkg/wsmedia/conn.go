package wsmedia

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024
	DefaultCloseGracePeriod = 2 * time.Second
)

// ConnConfig configures the websocket transport.
type ConnConfig struct {
	URL              string
	Headers          http.Header
	DialTimeout      time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	CloseGracePeriod time.Duration
}

func (c *ConnConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
}

// Conn is the message transport of one session. All writes go through
// writeMu; the transport allows a single in-flight send.
type Conn struct {
	cfg ConnConfig

	conn           *websocket.Conn
	responseHeader http.Header
	mu             sync.Mutex
	writeMu        sync.Mutex
	closed         bool
	closeCh        chan struct{}

	// set before the close reply is written, so a send that fails because
	// the peer ended the stream always observes it
	peerClosed atomic.Bool
}

func newConn(cfg ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:     cfg,
		closeCh: make(chan struct{}),
	}
}

// Connect dials the server. The Origin header defaults to the stream URL.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}

	header := c.cfg.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", c.cfg.URL)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	slog.Debug("connecting", "url", c.cfg.URL)
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			slog.Error("websocket dial failed", "url", c.cfg.URL, "status", resp.StatusCode, "err", err)
		}
		return &TransportError{Op: "connect", Err: err}
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetCloseHandler(func(code int, text string) error {
		if isCleanClose(code) {
			c.peerClosed.Store(true)
		}
		slog.Debug("close frame received", "url", c.cfg.URL, "code", code, "text", text)
		msg := websocket.FormatCloseMessage(code, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
		return nil
	})
	c.conn = conn
	if resp != nil {
		c.responseHeader = resp.Header
	}
	slog.Info("websocket connected", "url", c.cfg.URL)
	return nil
}

// SendText writes one text message.
func (c *Conn) SendText(data []byte) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return &TransportError{Op: "send", Err: ErrSessionClosed}
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// ReceiveLoop delivers every inbound message to msgCh in arrival order. It
// returns nil when the peer closes normally or Close is called.
func (c *Conn) ReceiveLoop(ctx context.Context, msgCh chan<- []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "receive", Err: ErrSessionClosed}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
				return nil
			default:
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && isCleanClose(closeErr.Code) {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return &TransportError{Op: "receive", Err: err}
		}

		select {
		case msgCh <- data:
		case <-ctx.Done():
			return nil
		case <-c.closeCh:
			return nil
		}
	}
}

// PeerClosed reports whether the server ended the stream with a normal close.
func (c *Conn) PeerClosed() bool {
	return c.peerClosed.Load()
}

func isCleanClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}

// ResponseHeader returns the handshake response headers.
func (c *Conn) ResponseHeader() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseHeader
}

// Close sends a close frame and closes the connection. Safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}
