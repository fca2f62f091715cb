package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trade-engine/log-dashboard/internal/domain"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsNotifications(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(nil, WithHistoryLimit(0))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	defer a.Close()
	b := dial(t, srv)
	defer b.Close()
	require.Eventually(t, func() bool { return hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Notify(domain.Notification{
		ID:          "n-1",
		Level:       domain.NotificationInfo,
		Title:       "Filters reset",
		Description: "All filters have been reset to default values",
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeNotification, msg.Type)
		require.NotNil(t, msg.Notification)
		assert.Equal(t, "n-1", msg.Notification.ID)
		assert.Equal(t, "Filters reset", msg.Notification.Title)
	}
}

func TestHub_ReplaysHistoryToNewClients(t *testing.T) {
	hub := NewHub(nil, WithHistoryLimit(2))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	for _, id := range []string{"1", "2", "3"} {
		hub.Notify(domain.Notification{ID: id, Level: domain.NotificationSuccess, Title: "Export complete"})
	}

	conn := dial(t, srv)
	defer conn.Close()

	assert.Equal(t, "2", readMessage(t, conn).Notification.ID)
	assert.Equal(t, "3", readMessage(t, conn).Notification.ID)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	// no clients: notify is a no-op
	hub.Notify(domain.Notification{ID: "late"})
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// closed hubs refuse new clients
	late := dial(t, srv)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
