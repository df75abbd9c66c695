// Package websocket pushes emergency events to connected clients
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType constants for WebSocket messages
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeAcknowledge = "acknowledge"
	TypeEmergency   = "emergency"
	TypePrompt      = "prompt"
	TypeDialog      = "dialog"
	TypeError       = "error"
	TypePong        = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 1024
)

// Message represents a WebSocket message
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// AckHandler is called when a client acknowledges an emergency
type AckHandler func(userID, responseID string) error

// Client represents a connected WebSocket client
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections and per-user broadcasting
type Hub struct {
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool // channel -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	onAck      AckHandler
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	mu         sync.RWMutex
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	Channel string
	Message *Message
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// UserChannel returns the channel a user's events are published on
func UserChannel(userID string) string {
	return "user:" + userID
}

// SetAckHandler sets the handler for client acknowledgements
func (h *Hub) SetAckHandler(fn AckHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAck = fn
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopCh:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToChannel(msg)
		}
	}
}

// Stop stops the hub and closes every connection
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.clients {
			client.conn.Close()
		}
	})
}

// ServeWS upgrades the request and attaches a client. A userId query
// parameter subscribes the client to that user's channel right away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h, conn, uuid.New().String())
	select {
	case h.register <- client:
	case <-h.stopCh:
		conn.Close()
		return
	}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		h.Subscribe(client, UserChannel(userID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		client.WritePump(ctx)
		cancel()
	}()
	go func() {
		client.ReadPump(ctx)
		cancel()
	}()
}

// removeClient removes a client from all channels
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		client.mu.RLock()
		for channel := range client.subscriptions {
			if clients, ok := h.channels[channel]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.channels, channel)
				}
			}
		}
		client.mu.RUnlock()
	}
}

// broadcastToChannel sends a message to all clients subscribed to a channel
func (h *Hub) broadcastToChannel(msg *BroadcastMessage) {
	data, err := json.Marshal(msg.Message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[msg.Channel] {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// Subscribe subscribes a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe unsubscribes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// Broadcast sends a message to a channel. It drops the message once the
// hub is stopped.
func (h *Hub) Broadcast(channel string, msg *Message) {
	msg.Timestamp = time.Now().UTC()
	msg.Channel = channel
	select {
	case h.broadcast <- &BroadcastMessage{Channel: channel, Message: msg}:
	case <-h.stopCh:
	}
}

// Publish marshals payload and broadcasts it to the user's channel
func (h *Hub) Publish(userID, msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.Broadcast(UserChannel(userID), &Message{
		Type: msgType,
		Data: data,
	})
	return nil
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channelStats := make(map[string]int)
	for channel, clients := range h.channels {
		channelStats[channel] = len(clients)
	}

	return map[string]interface{}{
		"total_clients":   len(h.clients),
		"total_channels":  len(h.channels),
		"channel_clients": channelStats,
	}
}

// NewClient creates a new client
func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopCh:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.hub.logger.Warn("websocket error", zap.String("client_id", c.ID), zap.Error(err))
				}
				return
			}

			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type       string `json:"type"`
		UserID     string `json:"userId"`
		ResponseID string `json:"responseId"`
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if msg.UserID == "" {
			c.sendError("userId is required")
			return
		}
		channel := UserChannel(msg.UserID)
		c.hub.Subscribe(c, channel)
		c.sendAck("subscribed", channel)

	case TypeUnsubscribe:
		channel := UserChannel(msg.UserID)
		c.hub.Unsubscribe(c, channel)
		c.sendAck("unsubscribed", channel)

	case TypeAcknowledge:
		c.hub.mu.RLock()
		onAck := c.hub.onAck
		c.hub.mu.RUnlock()
		if onAck == nil {
			c.sendError("acknowledgement not supported")
			return
		}
		if err := onAck(msg.UserID, msg.ResponseID); err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendAck("acknowledged", msg.ResponseID)

	case "ping":
		c.sendPong()

	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) trySend(v interface{}) {
	data, _ := json.Marshal(v)
	select {
	case c.send <- data:
	default:
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errMsg string) {
	c.trySend(&Message{
		Type:      TypeError,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
}

// sendAck sends an acknowledgment message
func (c *Client) sendAck(action, target string) {
	c.trySend(map[string]interface{}{
		"type":      "ack",
		"action":    action,
		"target":    target,
		"timestamp": time.Now().UTC(),
	})
}

// sendPong sends a pong response
func (c *Client) sendPong() {
	c.trySend(&Message{
		Type:      TypePong,
		Timestamp: time.Now().UTC(),
	})
}
