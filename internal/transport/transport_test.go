package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPDialerWrites(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf, _ := io.ReadAll(io.LimitReader(c, 5))
		received <- buf
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := TCPDialer{}.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	n, err := conn.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, ln.Addr().String(), conn.RemoteAddr())

	select {
	case got := <-received:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data")
	}
}

func TestTCPDialerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TCPDialer{}.Dial(ctx, "127.0.0.1:1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrDialFailed))
}

func TestWebSocketDialerSendsBinaryMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		mt, data, err := c.ReadMessage()
		if err == nil && mt == websocket.BinaryMessage {
			received <- data
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := WebSocketDialer{HandshakeTimeout: time.Second}.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, []byte{1, 2, 3}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestForScheme(t *testing.T) {
	d, err := ForScheme("tcp")
	require.NoError(t, err)
	assert.IsType(t, TCPDialer{}, d)

	d, err = ForScheme("websocket")
	require.NoError(t, err)
	assert.IsType(t, WebSocketDialer{}, d)

	_, err = ForScheme("carrier-pigeon")
	assert.True(t, errors.HasCode(err, ErrBadScheme))
}
