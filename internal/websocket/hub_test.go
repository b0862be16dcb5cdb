package websocket

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, cfg *HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func waitForClients(t *testing.T, hub *Hub, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.GetStats().ActiveConnections == n },
		2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcast(t *testing.T) {
	hub, url := startHub(t, DefaultHubConfig())
	conn := dial(t, url, nil)
	waitForClients(t, hub, 1)

	hub.BroadcastEvent(Event{
		Type:      EventTypeEncodeCompleted,
		RequestID: "req-9",
		Data:      EncodeCompletedEvent{Sentences: 3, Dimension: 384, Batches: 1, Model: "mini"},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, EventTypeEncodeCompleted, ev.Type)
	assert.Equal(t, "req-9", ev.RequestID)
	assert.False(t, ev.Timestamp.IsZero())
	data, ok := ev.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(384), data["dimension"])
	assert.Equal(t, "mini", data["model"])

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, int64(1), stats.TotalBroadcasts)
}

func TestHubPingAndSubscribe(t *testing.T) {
	hub, url := startHub(t, DefaultHubConfig())
	conn := dial(t, url, nil)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Type: "subscribe",
		Data: SubscriptionRequest{Events: []EventType{EventTypeSystemStatus}},
	}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, EventTypePong, readEvent(t, conn).Type)

	hub.BroadcastEvent(Event{Type: EventTypeEncodeCompleted, Data: EncodeCompletedEvent{}})
	hub.BroadcastEvent(Event{Type: EventTypeSystemStatus, Data: SystemStatusEvent{Status: "healthy"}})
	assert.Equal(t, EventTypeSystemStatus, readEvent(t, conn).Type)
}

func TestHubAnnouncesConnections(t *testing.T) {
	hub, url := startHub(t, DefaultHubConfig())
	first := dial(t, url, nil)
	waitForClients(t, hub, 1)

	second := dial(t, url, nil)
	waitForClients(t, hub, 2)

	ev := readEvent(t, first)
	assert.Equal(t, EventTypeConnection, ev.Type)
	assert.Equal(t, "connected", ev.Data.(map[string]interface{})["action"])

	require.NoError(t, second.Close())
	ev = readEvent(t, first)
	assert.Equal(t, EventTypeConnection, ev.Type)
	assert.Equal(t, "disconnected", ev.Data.(map[string]interface{})["action"])
	waitForClients(t, hub, 1)
}

func TestHubConnectionLimit(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.MaxConnections = 1
	hub, url := startHub(t, cfg)
	dial(t, url, nil)
	waitForClients(t, hub, 1)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int64(1), hub.GetStats().RejectedClients)
}

func TestHubBasicAuth(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.AuthEnabled = true
	cfg.Username = "ops"
	cfg.Password = "s3cret"
	hub, url := startHub(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte("ops:wrong"))}}
	_, resp, err = websocket.DefaultDialer.Dial(url, bad)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte("ops:s3cret"))}}
	dial(t, url, good)
	waitForClients(t, hub, 1)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(&HubConfig{AllowedOrigins: []string{"https://app.example.com"}}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://APP.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}

func TestShouldBroadcastEvent(t *testing.T) {
	hub := NewHub(&HubConfig{BroadcastEncodes: true}, zap.NewNop())
	assert.True(t, hub.shouldBroadcastEvent(EventTypeEncodeCompleted))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeSystemStatus))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeConnection))
	assert.False(t, hub.shouldBroadcastEvent(EventTypePong))
}

func TestNewHubNormalizesTimeouts(t *testing.T) {
	hub := NewHub(&HubConfig{PingInterval: time.Hour, PongTimeout: time.Minute}, zap.NewNop())
	assert.Equal(t, 54*time.Second, hub.config.PingInterval)
	assert.Equal(t, 10*time.Second, hub.config.WriteTimeout)
	assert.Equal(t, int64(512), hub.config.MaxMessageSize)
}
