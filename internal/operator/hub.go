package operator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/endovel/clinic-platform/internal/conversation"
	"github.com/endovel/clinic-platform/pkg/logging"
)

// Event types published by the staff side of the feed.
const (
	EventReply = "operator_reply"
	EventError = "error"
)

// Hub fans operator events out to the staff consoles of one clinic.
type Hub struct {
	tenantClients map[string]map[*Client]bool
	register      chan *Client
	unregister    chan *Client
	done          chan struct{}
	mu            sync.RWMutex
	logger        *logging.Logger
}

// NewHub creates a hub. Call Run before registering clients.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		tenantClients: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// Run processes registrations until ctx is cancelled, then closes every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.tenantClients[client.tenant] == nil {
				h.tenantClients[client.tenant] = make(map[*Client]bool)
			}
			h.tenantClients[client.tenant][client] = true
			count := len(h.tenantClients[client.tenant])
			h.mu.Unlock()
			h.logger.Info("operator console connected", "tenant", client.tenant, "staff", client.staff, "consoles", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.tenantClients[client.tenant]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.tenantClients, client.tenant)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("operator console disconnected", "tenant", client.tenant, "staff", client.staff)

		case <-ctx.Done():
			h.mu.Lock()
			for tenant, clients := range h.tenantClients {
				for client := range clients {
					close(client.send)
				}
				delete(h.tenantClients, tenant)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a console. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a console and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// NotifyOperators implements conversation.OperatorNotifier.
func (h *Hub) NotifyOperators(ev conversation.OperatorEvent) {
	h.Publish(ev)
}

// Publish sends ev to every console of ev.Tenant and returns how many
// received it. Slow consoles miss the event instead of blocking the caller.
func (h *Hub) Publish(ev conversation.OperatorEvent) int {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode operator event", "error", err, "type", ev.Type)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.tenantClients[ev.Tenant] {
		select {
		case client.send <- msg:
			delivered++
		default:
			h.logger.Warn("operator console lagging, event dropped", "tenant", ev.Tenant, "staff", client.staff, "type", ev.Type)
		}
	}
	return delivered
}

// sendTo delivers ev to one console if it is still registered.
func (h *Hub) sendTo(c *Client, ev conversation.OperatorEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.tenantClients[c.tenant][c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// Connected returns the number of consoles open for tenant.
func (h *Hub) Connected(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenantClients[tenant])
}
