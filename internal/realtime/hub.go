// Package realtime streams guard activity to connected operators over
// WebSocket and accepts their decisions on open warnings.
//
// Outbound events: a transaction was intercepted, a warning opened or
// closed, a decision was published. Inbound messages either update the
// client's subscription filter or answer a warning.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/walletguard/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType names an outbound event.
type EventType string

const (
	EventTransactionIntercepted EventType = "transaction_intercepted"
	EventWarningOpened          EventType = "warning_opened"
	EventWarningResolved        EventType = "warning_resolved"
	EventDecision               EventType = "decision"
	EventError                  EventType = "error"
)

// Event is one outbound message.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	// Wallets lists the addresses involved, for subscription filtering.
	Wallets []string `json:"-"`
}

// Subscription filters what a client receives. The zero value receives
// nothing; new clients start with AllEvents.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	Wallets    []string    `json:"wallets"`
}

// inbound is a message sent by a client.
type inbound struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason"`
	Subscription
}

// DecisionHandler applies a decision sent by a client.
type DecisionHandler func(ctx context.Context, correlationID, outcome, reason string) error

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int

	handlerMu  sync.RWMutex
	onDecision DecisionHandler

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// SetDecisionHandler installs the callback for client decisions.
func (h *Hub) SetDecisionHandler(fn DecisionHandler) {
	h.handlerMu.Lock()
	h.onDecision = fn
	h.handlerMu.Unlock()
}

func (h *Hub) decisionHandler() DecisionHandler {
	h.handlerMu.RLock()
	defer h.handlerMu.RUnlock()
	return h.onDecision
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "total", n)

		case client := <-h.unregister:
			h.drop(client)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			payload := serialize(event)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !shouldSend(client, event) {
					continue
				}
				select {
				case client.send <- payload:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.drop(client)
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
}

// shouldSend checks if event matches client's subscription
func shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}

	if len(sub.EventTypes) > 0 {
		matched := false
		for _, t := range sub.EventTypes {
			if t == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(sub.Wallets) > 0 && len(event.Wallets) > 0 {
		for _, want := range sub.Wallets {
			for _, have := range event.Wallets {
				if strings.EqualFold(want, have) {
					return true
				}
			}
		}
		return false
	}

	return len(sub.EventTypes) > 0 || len(sub.Wallets) > 0
}

func serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast queues an event for every matching client without blocking.
func (h *Hub) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// Publish is shorthand for Broadcast with the current time.
func (h *Hub) Publish(eventType EventType, data any, wallets ...string) {
	h.Broadcast(&Event{Type: eventType, Timestamp: time.Now(), Data: data, Wallets: wallets})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. Authentication happens in the
// router before this handler runs.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(context.WithoutCancel(r.Context()))
}

// reply sends an event to one client if it is still connected.
func (h *Hub) reply(client *Client, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload := serialize(event)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

// handleInbound applies one client message.
func (h *Hub) handleInbound(ctx context.Context, client *Client, message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		h.reply(client, &Event{Type: EventError, Data: map[string]string{"message": "invalid message"}})
		return
	}

	switch msg.Type {
	case "decision":
		handler := h.decisionHandler()
		if handler == nil {
			h.reply(client, &Event{Type: EventError, Data: map[string]string{
				"correlationId": msg.CorrelationID, "message": "decisions are not accepted here",
			}})
			return
		}
		if err := handler(ctx, msg.CorrelationID, msg.Outcome, msg.Reason); err != nil {
			h.reply(client, &Event{Type: EventError, Data: map[string]string{
				"correlationId": msg.CorrelationID, "message": err.Error(),
			}})
		}
	case "", "subscribe":
		client.mu.Lock()
		client.sub = msg.Subscription
		client.mu.Unlock()
	default:
		h.reply(client, &Event{Type: EventError, Data: map[string]string{"message": "unknown message type " + msg.Type}})
	}
}

// readPump reads subscription updates and decisions.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		c.hub.handleInbound(ctx, c, message)
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
