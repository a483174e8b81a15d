// Package websocket pushes metric snapshots to browser clients. It follows a
// hub-and-spoke pattern: each connection subscribes to one center topic and
// receives every snapshot broadcast to that topic.
package websocket

import (
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
)

const sendBuffer = 8

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single WebSocket connection subscribed to one topic.
type Client struct {
	ID    string
	Topic string
	Send  chan []byte
	conn  Conn
}

// NewClient wraps a connection for one topic.
func NewClient(topic string, conn Conn) *Client {
	return &Client{
		ID:    uuid.NewString(),
		Topic: topic,
		Send:  make(chan []byte, sendBuffer),
		conn:  conn,
	}
}

// WritePump drains the Send channel into the connection until the channel is
// closed by Unregister, then closes the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()
	for msg := range c.Send {
		if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ReadPump blocks until the peer closes the connection or errors.
func (c *Client) ReadPump() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hub tracks connected clients per topic. All operations are thread-safe.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Client]struct{})}
}

// Register adds a client to its topic.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[client.Topic] == nil {
		h.topics[client.Topic] = make(map[*Client]struct{})
	}
	h.topics[client.Topic][client] = struct{}{}
}

// Unregister removes a client and closes its Send channel. Safe to call for
// a client that was never registered or was already removed.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers, ok := h.topics[client.Topic]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.topics, client.Topic)
	}
	close(client.Send)
}

// Broadcast delivers a payload to every client on a topic. Clients whose
// buffer is full are skipped rather than blocking the broadcaster.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.topics[topic] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Deliver sends a payload to a single client, skipping if its buffer is full.
func (h *Hub) Deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
	}
}

// TopicCount returns the number of clients subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
