package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

// WebSocketOptions configures a WebSocketSource.
type WebSocketOptions struct {
	// HandshakeTimeout bounds the dial. Zero means 10s.
	HandshakeTimeout time.Duration
	// ReadLimit caps one inbound frame in bytes. Zero means no limit.
	ReadLimit int64
	// Header is sent with the upgrade request.
	Header http.Header
}

// WebSocketSource opens streams at {base}/{runID}.
type WebSocketSource struct {
	base   string
	dialer *websocket.Dialer
	opts   WebSocketOptions
}

// NewWebSocketSource creates a source rooted at base (ws:// or wss://).
func NewWebSocketSource(base string, opts WebSocketOptions) *WebSocketSource {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &WebSocketSource{
		base: strings.TrimRight(base, "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		opts: opts,
	}
}

// URL returns the stream address for runID.
func (s *WebSocketSource) URL(runID string) string {
	return s.base + "/" + url.PathEscape(runID)
}

// Open dials the stream for runID.
func (s *WebSocketSource) Open(ctx context.Context, runID string) (Conn, error) {
	ws, resp, err := s.dialer.DialContext(ctx, s.URL(runID), s.opts.Header)
	if err != nil {
		se := errors.NewStreamError("dial failed", err).WithRunID(runID)
		if resp != nil {
			se = errors.NewStreamError(fmt.Sprintf("dial failed with HTTP %d", resp.StatusCode), err).WithRunID(runID)
		}
		return nil, se
	}
	if s.opts.ReadLimit > 0 {
		ws.SetReadLimit(s.opts.ReadLimit)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Next returns the next text or binary frame. Control frames are handled by
// the websocket library.
func (c *wsConn) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and closes the socket. It is safe to call twice
// and from a goroutine other than the reader.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
