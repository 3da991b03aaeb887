package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// outboxSize is how many encoded messages may wait for a slow client before
// it is evicted.
const outboxSize = 256

// Client is one attached presentation client. Its outbox is closed exactly
// once, when the client is closed or evicted.
type Client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	outbox chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. conn may be nil in tests that only exercise the hub.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:     uuid.New(),
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
	}
}

// ID identifies the client in logs.
func (c *Client) ID() string { return c.id.String() }

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn { return c.conn }

// Outbox is drained by the write pump. It is closed when the client closes.
func (c *Client) Outbox() <-chan []byte { return c.outbox }

// Send queues data without blocking. It reports false when the client is
// closed or its outbox is full; a full outbox closes the client.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- data:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// SendMessage encodes msg and queues it.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

// Close closes the outbox; the write pump then sends a close frame.
func (c *Client) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// IsClosed reports whether the client has been closed or evicted.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Hub fans terminal updates out to every attached presentation client and
// routes their messages back to one handler.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	route   func(*Client, *Message)

	evicted atomic.Uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*Client)}
}

// SetRoute sets the handler for messages read from clients.
func (h *Hub) SetRoute(fn func(*Client, *Message)) {
	h.mu.Lock()
	h.route = fn
	h.mu.Unlock()
}

// Route hands msg from client to the handler set with SetRoute.
func (h *Hub) Route(client *Client, msg *Message) {
	h.mu.RLock()
	fn := h.route
	h.mu.RUnlock()
	if fn != nil {
		fn(client, msg)
	}
}

// Register attaches client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
}

// Unregister detaches and closes client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	client.Close()
}

// Broadcast queues data for every client and returns how many accepted it.
// Clients that cannot keep up are evicted.
func (h *Hub) Broadcast(data []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		h.mu.Lock()
		if _, ok := h.clients[c.id]; ok {
			delete(h.clients, c.id)
			h.evicted.Add(1)
		}
		h.mu.Unlock()
	}
	return delivered
}

// BroadcastMessage encodes msg once and broadcasts it.
func (h *Hub) BroadcastMessage(msg *Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return h.Broadcast(data), nil
}

// Len returns the number of attached clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Evicted returns how many clients were dropped for falling behind.
func (h *Hub) Evicted() uint64 { return h.evicted.Load() }

// Close detaches and closes every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
