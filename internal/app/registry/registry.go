package registry

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"cargolink/pkg/logging"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Registry tracks live connections and room memberships of this process.
// A user may hold several connections; each joins rooms independently.
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]contracts.Client            // conn_id → client
	rooms     map[string]map[string]contracts.Client // room → conn_id → client
	connRooms map[string]map[string]struct{}         // conn_id → rooms
}

func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[string]contracts.Client),
		rooms:     make(map[string]map[string]contracts.Client),
		connRooms: make(map[string]map[string]struct{}),
	}
}

var _ contracts.Registry = (*Registry)(nil)

func (h *Registry) Register(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
	if h.connRooms[c.ID()] == nil {
		h.connRooms[c.ID()] = make(map[string]struct{})
	}
}

func (h *Registry) Unregister(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	connID := c.ID()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	delete(h.clients, connID)
	for room := range h.connRooms[connID] {
		h.leaveLocked(connID, room)
	}
	delete(h.connRooms, connID)
}

func (h *Registry) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]contracts.Client)
		h.rooms[room] = members
	}
	members[connID] = c
	h.connRooms[connID][room] = struct{}{}
}

func (h *Registry) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
}

func (h *Registry) leaveLocked(connID, room string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.connRooms[connID]; ok {
		delete(joined, room)
	}
}

// InRoom reports whether the connection is a member of room.
func (h *Registry) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// Count returns the number of registered connections.
func (h *Registry) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Registry) Emit(ctx context.Context, room string, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "Registry - Emit - marshal failed",
			logging.Event(string(ev.Type)),
			logging.Err(err),
		)
		return
	}
	h.mu.RLock()
	targets := make([]contracts.Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.send(ctx, targets, data, ev.Type)
}

func (h *Registry) EmitAll(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "Registry - EmitAll - marshal failed",
			logging.Event(string(ev.Type)),
			logging.Err(err),
		)
		return
	}
	h.mu.RLock()
	targets := make([]contracts.Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.send(ctx, targets, data, ev.Type)
}

func (h *Registry) send(ctx context.Context, targets []contracts.Client, data []byte, t domain.EventType) {
	for _, c := range targets {
		if err := c.Send(ctx, data); err != nil {
			slog.DebugContext(ctx, "Registry - send - dropped",
				logging.Connection(c.ID()),
				logging.Event(string(t)),
				logging.Err(err),
			)
		}
	}
}

// Close terminates every connection. Used on shutdown.
func (h *Registry) Close() {
	h.mu.Lock()
	clients := make([]contracts.Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]contracts.Client)
	h.rooms = make(map[string]map[string]contracts.Client)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
