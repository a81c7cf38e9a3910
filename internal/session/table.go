package session

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/transport"
)

// Handle is the non-owning view of a live session handed to senders. It can
// send and resolve addresses but cannot end or log out the connection.
type Handle struct {
	DeviceID string

	conn   transport.Conn
	mu     sync.RWMutex
	status models.DeviceStatus
}

func NewHandle(deviceID string, conn transport.Conn) *Handle {
	return &Handle{DeviceID: deviceID, conn: conn, status: models.DeviceSynchronizing}
}

func (h *Handle) Status() models.DeviceStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handle) setStatus(s models.DeviceStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

func (h *Handle) SendText(ctx context.Context, to, text string) (string, error) {
	return h.conn.SendText(ctx, to, text)
}

func (h *Handle) CheckAddress(ctx context.Context, phone string) (string, error) {
	return h.conn.CheckAddress(ctx, phone)
}

// Table maps device ids to open sessions. A device is in the table only
// while its connection is open.
type Table struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewTable() *Table {
	return &Table{handles: make(map[string]*Handle)}
}

// Put registers h, replacing any previous handle of the same device.
func (t *Table) Put(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[h.DeviceID] = h
}

func (t *Table) Get(deviceID string) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[deviceID]
	return h, ok
}

func (t *Table) Exists(deviceID string) bool {
	_, ok := t.Get(deviceID)
	return ok
}

func (t *Table) Remove(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, deviceID)
}

// removeHandle drops h only if it is still the registered handle, so a
// finished attempt cannot evict its successor.
func (t *Table) removeHandle(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.handles[h.DeviceID]; ok && cur == h {
		delete(t.handles, h.DeviceID)
	}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}
