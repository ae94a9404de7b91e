package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// BalanceUpdate is pushed to an operator's screens after each drawer change.
type BalanceUpdate struct {
	RegisterID string    `json:"register_id"`
	Event      string    `json:"event"`
	Balance    string    `json:"balance"`
	Currency   string    `json:"currency"`
	SaleCount  int64     `json:"sale_count"`
	At         time.Time `json:"at"`
}

// Hub fans updates out to the connections of one operator. Slow clients
// drop messages rather than block the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	origins []string
}

// NewHub accepts upgrades from any origin until AllowOrigins is called.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

// AllowOrigins takes a comma separated list like ALLOWED_ORIGINS. "*" or an
// empty list allows every origin.
func (h *Hub) AllowOrigins(list string) {
	var origins []string
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			origins = nil
			break
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	h.mu.Lock()
	h.origins = origins
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.origins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) Register(operatorID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[operatorID] == nil {
		h.clients[operatorID] = make(map[*Client]struct{})
	}
	h.clients[operatorID][client] = struct{}{}
}

func (h *Hub) Unregister(operatorID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[operatorID] == nil {
		return
	}
	delete(h.clients[operatorID], client)
	if len(h.clients[operatorID]) == 0 {
		delete(h.clients, operatorID)
	}
}

func (h *Hub) Connections(operatorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[operatorID])
}

func (h *Hub) BroadcastBalance(operatorID string, update BalanceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[operatorID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
