package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWebSocket(hub, w, r, zap.NewNop())
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastReachesConnectedClient(t *testing.T) {
	hub, srv := newTestHubServer(t)
	conn := dialWS(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 connected client, got %d", hub.ClientCount())
	}

	hub.Broadcast(MsgTypeCycleCompleted, map[string]string{"cycleId": "cyc_1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast message: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Type != MsgTypeCycleCompleted {
		t.Errorf("Type = %q, want %q", msg.Type, MsgTypeCycleCompleted)
	}
}

func TestHubSubscribeEventBusForwardsPublishedEvents(t *testing.T) {
	hub, srv := newTestHubServer(t)
	conn := dialWS(t, srv)

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()
	hub.SubscribeEventBus(bus)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.NewNewsCollectedEvent("fp_1", "ACME", "wire-a", "ACME news", true))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read forwarded event: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Type != MsgTypeNewsCollected {
		t.Errorf("Type = %q, want %q", msg.Type, MsgTypeNewsCollected)
	}
}

func TestClientSubscribeUnsubscribeTracksChannelMembership(t *testing.T) {
	hub, srv := newTestHubServer(t)
	_ = dialWS(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.mu.RLock()
	var client *Client
	for c := range hub.clients {
		client = c
	}
	hub.mu.RUnlock()
	if client == nil {
		t.Fatal("expected a registered client")
	}

	hub.Subscribe(client, "cycles")
	hub.mu.RLock()
	_, subscribed := hub.channels["cycles"][client]
	hub.mu.RUnlock()
	if !subscribed {
		t.Fatal("expected client to be subscribed to 'cycles'")
	}

	hub.Unsubscribe(client, "cycles")
	hub.mu.RLock()
	_, stillPresent := hub.channels["cycles"]
	hub.mu.RUnlock()
	if stillPresent {
		t.Fatal("expected 'cycles' channel to be cleaned up after the last subscriber leaves")
	}
}
