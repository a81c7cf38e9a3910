// Package notify fans session events out to real-time listeners grouped in
// per-device rooms.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dmitrijs2005/wagate/internal/logging"
)

// Event names.
const (
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
	EventNumberUpdated    = "number.updated"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// sendBuffer is how many messages may wait for a slow listener before it is
// dropped.
const sendBuffer = 16

// Connection is one listener subscribed to a device room.
type Connection struct {
	Room   string
	Writer Writer

	send chan []byte
}

// Envelope is the wire shape of every notification.
type Envelope struct {
	Event    string `json:"event"`
	IDDevice string `json:"idDevice"`
	Data     any    `json:"data"`
}

// Hub delivers at-most-once. Each listener has its own writer goroutine; a
// write failure or a full buffer closes and drops the listener, so a slow
// client never blocks the caller of Emit.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
	publicID    func(deviceID string) string
	logger      logging.Logger
}

// New creates a hub. publicID maps an internal device id to the id clients
// see; nil keeps ids unchanged.
func New(publicID func(string) string, logger logging.Logger) *Hub {
	if publicID == nil {
		publicID = func(id string) string { return id }
	}
	return &Hub{
		connections: make(map[string]map[*Connection]struct{}),
		publicID:    publicID,
		logger:      logger.With("module", "notify"),
	}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Room] == nil {
		h.connections[conn.Room] = make(map[*Connection]struct{})
	}
	if _, ok := h.connections[conn.Room][conn]; ok {
		return
	}
	conn.send = make(chan []byte, sendBuffer)
	h.connections[conn.Room][conn] = struct{}{}
	go h.writeLoop(conn, conn.send)
}

// Unregister removes the listener and stops its writer goroutine. It does
// not close the writer.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(conn)
}

func (h *Hub) unregisterLocked(conn *Connection) bool {
	set := h.connections[conn.Room]
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Room)
	}
	close(conn.send)
	return true
}

// drop unregisters a listener that failed or fell behind and closes it.
func (h *Hub) drop(conn *Connection) {
	h.mu.Lock()
	removed := h.unregisterLocked(conn)
	h.mu.Unlock()
	if removed {
		_ = conn.Writer.Close()
	}
}

func (h *Hub) writeLoop(conn *Connection, send <-chan []byte) {
	for msg := range send {
		if err := conn.Writer.Write(msg); err != nil {
			h.drop(conn)
			break
		}
	}
	for range send {
	}
}

// Listeners returns the number of connections in a room.
func (h *Hub) Listeners(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[room])
}

// Broadcast queues message for every listener of room without waiting for
// the writes.
func (h *Hub) Broadcast(room string, message []byte) {
	var slow []*Connection

	h.mu.RLock()
	for c := range h.connections[room] {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn(context.Background(), "dropping slow listener", "room", room)
		h.drop(c)
	}
}

// Emit sends {event, idDevice, data} to the device's room. Rooms are keyed
// by the public device id.
func (h *Hub) Emit(event, deviceID string, data any) {
	room := h.publicID(deviceID)
	msg, err := json.Marshal(Envelope{Event: event, IDDevice: room, Data: data})
	if err != nil {
		h.logger.Error(context.Background(), "notification encode failed", "event", event, "error", err)
		return
	}
	h.Broadcast(room, msg)
}
