// Package transport dials the upstream server connections held by the
// connection pool.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
	"github.com/gorilla/websocket"
)

const (
	ErrDialFailed  = errors.ErrorCode("transport_dial_failed")
	ErrWriteFailed = errors.ErrorCode("transport_write_failed")
	ErrBadScheme   = errors.ErrorCode("transport_unsupported_scheme")
)

const (
	defaultWriteTimeout = 50 * time.Millisecond
	defaultKeepAlive    = 15 * time.Second
)

// Conn is an established upstream connection.
type Conn interface {
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

// Dialer opens a Conn. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// TCPDialer dials plain TCP. Writes carry a short deadline so a stalled
// peer cannot hold the caller.
type TCPDialer struct {
	KeepAlive    time.Duration
	WriteTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	keepAlive := d.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	nd := net.Dialer{KeepAlive: keepAlive}
	c, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.New().Wrap(ErrDialFailed, err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &tcpConn{c: c, writeTimeout: orDefault(d.WriteTimeout)}, nil
}

type tcpConn struct {
	c            net.Conn
	writeTimeout time.Duration
}

func (t *tcpConn) Write(p []byte) (int, error) {
	if err := t.c.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}
	n, err := t.c.Write(p)
	if err != nil {
		return n, errors.New().Wrap(ErrWriteFailed, err)
	}
	return n, nil
}

func (t *tcpConn) Close() error { return t.c.Close() }

func (t *tcpConn) RemoteAddr() string { return t.c.RemoteAddr().String() }

// WebSocketDialer dials ws:// or wss:// endpoints and sends each write as
// one binary message.
type WebSocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wd := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	c, resp, err := wd.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrDialFailed, err)
	}
	return &wsConn{c: c, writeTimeout: orDefault(d.WriteTimeout)}, nil
}

type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.c.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
	return w.c.Close()
}

func (w *wsConn) RemoteAddr() string { return w.c.RemoteAddr().String() }

// ForScheme returns the dialer for a configured transport name.
func ForScheme(scheme string) (Dialer, error) {
	switch scheme {
	case "", "tcp":
		return TCPDialer{}, nil
	case "ws", "websocket":
		return WebSocketDialer{HandshakeTimeout: 5 * time.Second}, nil
	default:
		return nil, errors.New().WithData(ErrBadScheme, scheme)
	}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultWriteTimeout
	}
	return d
}
