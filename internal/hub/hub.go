// Package hub provides connection and room management for chat clients.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Buffered sends per connection; a slower consumer is dropped.
const sendBufferSize = 256

// SessionRoom returns the room key for a session token.
func SessionRoom(token string) string {
	return "session:" + token
}

// ShopRoom returns the room key for a shop domain.
func ShopRoom(shopDomain string) string {
	return "shop:" + shopDomain
}

// Identity is the optional customer identity attached to a connection.
type Identity struct {
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

// SessionInfo describes one registered connection for monitoring.
type SessionInfo struct {
	ConnectionID string `json:"connection_id"`
	SessionToken string `json:"session_token"`
	ShopDomain   string `json:"shop_domain"`
	Identity
}

// Connection represents a single live client connection. The transport layer
// drains Send; the hub never writes to the network itself.
type Connection struct {
	ID   string
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// deliver enqueues data without blocking. Returns false when the buffer is
// full or the connection is closed.
func (c *Connection) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// close closes the send channel exactly once.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub is the connection registry: it tracks live connections and their
// session/shop room membership and provides fan-out.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	rooms       map[string]map[string]bool // room key -> set of connection IDs
	info        map[string]SessionInfo     // connection ID -> registration info
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]bool),
		info:        make(map[string]SessionInfo),
	}
}

// NewConnection creates a connection with a fresh ID. It is not visible to
// broadcasts until Register is called.
func (h *Hub) NewConnection() *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Send: make(chan []byte, sendBufferSize),
	}
}

// Register records a live connection and joins it to its session and shop
// rooms. Idempotent per connection ID.
func (h *Hub) Register(conn *Connection, sessionToken, shopDomain string, identity Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; ok {
		return
	}
	h.connections[conn.ID] = conn
	h.info[conn.ID] = SessionInfo{
		ConnectionID: conn.ID,
		SessionToken: sessionToken,
		ShopDomain:   shopDomain,
		Identity:     identity,
	}
	h.join(SessionRoom(sessionToken), conn.ID)
	if shopDomain != "" {
		h.join(ShopRoom(shopDomain), conn.ID)
	}
}

func (h *Hub) join(room, connID string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][connID] = true
}

// Unregister removes a connection from all rooms and closes its send
// channel. Safe to call repeatedly or with unknown IDs.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	conn, ok := h.connections[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, connID)
	delete(h.info, connID)
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	conn.close()
}

// Broadcast delivers data to every connection currently in the room,
// including the sender if present. Broadcasting to an empty room is a no-op.
func (h *Hub) Broadcast(room string, data []byte) {
	h.broadcast(room, "", data)
}

// BroadcastExcept delivers data to every connection in the room except one.
func (h *Hub) BroadcastExcept(room, exceptConnID string, data []byte) {
	h.broadcast(room, exceptConnID, data)
}

func (h *Hub) broadcast(room, exceptConnID string, data []byte) {
	h.mu.RLock()
	var stale []string
	for connID := range h.rooms[room] {
		if connID == exceptConnID {
			continue
		}
		conn, ok := h.connections[connID]
		if !ok {
			continue
		}
		if !conn.deliver(data) {
			log.Printf("Connection %s buffer full, dropping", connID)
			stale = append(stale, connID)
		}
	}
	h.mu.RUnlock()

	for _, connID := range stale {
		go h.Unregister(connID)
	}
}

// BroadcastJSON marshals v and broadcasts it to the room.
func (h *Hub) BroadcastJSON(room string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(room, data)
	return nil
}

// BroadcastExceptJSON marshals v and broadcasts it to the room minus one
// connection.
func (h *Hub) BroadcastExceptJSON(room, exceptConnID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.BroadcastExcept(room, exceptConnID, data)
	return nil
}

// Send delivers data to a single connection.
func (h *Hub) Send(conn *Connection, data []byte) error {
	if !conn.deliver(data) {
		return ErrBufferFull
	}
	return nil
}

// SendJSON marshals v and delivers it to a single connection.
func (h *Hub) SendJSON(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Send(conn, data)
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomSize returns the number of connections currently in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Sessions returns a snapshot of the registered connections.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionInfo, 0, len(h.info))
	for _, info := range h.info {
		out = append(out, info)
	}
	return out
}

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
