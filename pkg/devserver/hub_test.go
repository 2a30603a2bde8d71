package devserver_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/appdev/pkg/devserver"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) devserver.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev devserver.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubBroadcastsUpdates(t *testing.T) {
	hub := devserver.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	assert.Equal(t, devserver.EventConnected, readEvent(t, a).Event)
	assert.Equal(t, devserver.EventConnected, readEvent(t, b).Event)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	ext := &extension.Instance{
		Handle:        "banner",
		DevUUID:       "uuid-1",
		Specification: extension.Specification{Identifier: extension.IdentifierUIExtension},
	}
	hub.NotifyUpdate(ext, nil)
	hub.NotifyUpdate(ext, errors.New("syntax error"))

	for _, conn := range []*websocket.Conn{a, b} {
		ok := readEvent(t, conn)
		assert.Equal(t, devserver.EventUpdate, ok.Event)
		require.Len(t, ok.Extensions, 1)
		assert.Equal(t, devserver.ExtensionPayload{UUID: "uuid-1", Handle: "banner", Type: "ui_extension", Status: devserver.StatusSuccess}, ok.Extensions[0])

		failed := readEvent(t, conn)
		assert.Equal(t, devserver.StatusError, failed.Extensions[0].Status)
		assert.Equal(t, "syntax error", failed.Extensions[0].Error)
	}
}

func TestHubForgetsDisconnectedClients(t *testing.T) {
	hub := devserver.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	// Broadcasting with no clients is a no-op.
	hub.Broadcast(devserver.Event{Event: devserver.EventUpdate})
}

func TestHubClose(t *testing.T) {
	hub := devserver.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
