package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletguard/internal/logging"
)

func testHub() *Hub {
	return NewHub(logging.Discard())
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func TestShouldSend(t *testing.T) {
	opened := &Event{Type: EventWarningOpened, Wallets: []string{"0xAbC"}}
	decision := &Event{Type: EventDecision, Wallets: []string{"0xdef"}}

	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, decision, true},
		{"empty subscription", Subscription{}, opened, false},
		{"type match", Subscription{EventTypes: []EventType{EventWarningOpened}}, opened, true},
		{"type miss", Subscription{EventTypes: []EventType{EventWarningOpened}}, decision, false},
		{"wallet match ignores case", Subscription{Wallets: []string{"0xabc"}}, opened, true},
		{"wallet miss", Subscription{Wallets: []string{"0xabc"}}, decision, false},
		{"type and wallet", Subscription{EventTypes: []EventType{EventDecision}, Wallets: []string{"0xDEF"}}, decision, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldSend(&Client{sub: tt.sub}, tt.ev))
		})
	}
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := runHub(t)
	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}

	h.register <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)

	h.Publish(EventWarningOpened, map[string]string{"id": "tx_1"}, "0xabc")
	select {
	case msg := <-client.send:
		var ev struct {
			Type EventType         `json:"type"`
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, EventWarningOpened, ev.Type)
		assert.Equal(t, "tx_1", ev.Data["id"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	h.unregister <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])
	assert.Equal(t, int64(1), h.Stats()["totalEvents"])
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := runHub(t)
	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{EventTypes: []EventType{EventDecision}}}
	h.register <- client

	h.Publish(EventWarningOpened, nil)
	h.Publish(EventDecision, map[string]string{"outcome": "REJECT"})

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), `"decision"`)
	case <-time.After(time.Second):
		t.Fatal("client should receive decision event")
	}
	select {
	case msg := <-client.send:
		t.Fatalf("unexpected event %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 503, w.Code)
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) >= 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHub_WebSocketDecisionRoundTrip(t *testing.T) {
	h := runHub(t)
	got := make(chan [3]string, 1)
	h.SetDecisionHandler(func(ctx context.Context, id, outcome, reason string) error {
		if id == "tx_missing" {
			return errors.New("warning not found")
		}
		got <- [3]string{id, outcome, reason}
		return nil
	})
	conn := dial(t, h)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "decision", "correlationId": "tx_1", "outcome": "REJECT", "reason": "looks like a drainer",
	}))
	select {
	case d := <-got:
		assert.Equal(t, [3]string{"tx_1", "REJECT", "looks like a drainer"}, d)
	case <-time.After(2 * time.Second):
		t.Fatal("decision handler not called")
	}

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "decision", "correlationId": "tx_missing", "outcome": "PROCEED"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type EventType         `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "tx_missing", ev.Data["correlationId"])
	assert.Equal(t, "warning not found", ev.Data["message"])
}

func TestHub_WebSocketReceivesEvents(t *testing.T) {
	h := runHub(t)
	conn := dial(t, h)

	h.Publish(EventTransactionIntercepted, map[string]string{"correlationId": "tx_9"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type EventType `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventTransactionIntercepted, ev.Type)
}
