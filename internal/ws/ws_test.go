package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSSEClientWritesFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	client := NewSSEClient(ctx, rec, rec, discard())

	require.NoError(t, client.Send([]byte(`{"type":"connected"}`)))
	require.NoError(t, client.Heartbeat())
	assert.Equal(t, "data: {\"type\":\"connected\"}\n\n: ping\n\n", rec.Body.String())

	client.Close()
	assert.ErrorIs(t, client.Send([]byte("x")), io.EOF)

	cancel()
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("expected done after context cancel")
	}
}

func TestClientDoneOnPeerClose(t *testing.T) {
	serverClient := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverClient <- NewClient(conn, discard())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	client := <-serverClient

	require.NoError(t, client.Send([]byte("hello")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))

	_ = conn.Close()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected done after peer close")
	}
	client.Close()
	client.Close()
}
