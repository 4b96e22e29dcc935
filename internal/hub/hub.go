// Package hub manages websocket observers of tenant sessions and fans
// pairing/phase events out to them. Delivery is fire-and-forget: absent or
// slow observers miss events.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wagate/wa-gateway/internal/logger"
)

const sendBuffer = 64

// Conn is one websocket observer bound to a tenant id.
type Conn struct {
	ID       string
	TenantID string
	ws       *websocket.Conn
	send     chan []byte

	closeOnce sync.Once
}

// Hub indexes observer connections by tenant id.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	tenants map[string]map[string]*Conn
}

func New() *Hub {
	return &Hub{
		conns:   make(map[string]*Conn),
		tenants: make(map[string]map[string]*Conn),
	}
}

// Attach registers a websocket as an observer of tenantID and starts its
// write loop. The caller owns the read loop and must call Detach when it
// returns.
func (h *Hub) Attach(tenantID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.conns[c.ID] = c
	if h.tenants[tenantID] == nil {
		h.tenants[tenantID] = make(map[string]*Conn)
	}
	h.tenants[tenantID][c.ID] = c
	h.mu.Unlock()

	go c.writeLoop()
	return c
}

func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; ok {
		delete(h.conns, c.ID)
		if set := h.tenants[c.TenantID]; set != nil {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(h.tenants, c.TenantID)
			}
		}
		c.closeOnce.Do(func() { close(c.send) })
	}
	h.mu.Unlock()
}

// Broadcast sends data to every observer of tenantID. Observers whose
// buffer is full are skipped; at-most-once per event.
func (h *Hub) Broadcast(tenantID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.tenants[tenantID] {
		select {
		case c.send <- data:
		default:
			logger.Log.Warn("hub: dropping event, observer buffer full",
				zap.String("tenant_id", tenantID), zap.String("conn_id", c.ID))
		}
	}
}

// BroadcastJSON marshals v and broadcasts it to tenantID's observers.
func (h *Hub) BroadcastJSON(tenantID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(tenantID, data)
	return nil
}

// ObserverCount returns the number of live observers for a tenant.
func (h *Hub) ObserverCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

func (c *Conn) writeLoop() {
	defer c.ws.Close()
	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
}
