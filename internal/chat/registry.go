// Package chat provides the websocket conversation transport.
package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/capylingo/internal/metrics"
)

type liveConn struct {
	id string
	ws *websocket.Conn
}

// Registry tracks the live connection of each session key. A newer
// connection for a key replaces and closes the older one.
type Registry struct {
	mu     sync.Mutex
	active map[string]liveConn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]liveConn)}
}

// Register adds ws for key and returns its connection ID.
func (r *Registry) Register(key string, ws *websocket.Conn) string {
	id := uuid.NewString()

	r.mu.Lock()
	existing, replaced := r.active[key]
	r.active[key] = liveConn{id: id, ws: ws}
	r.mu.Unlock()

	if replaced {
		go func() { _ = existing.ws.Close(websocket.StatusPolicyViolation, "session replaced") }()
		slog.Info("Chat connection replaced", "session_key", key, "old_conn_id", existing.id, "conn_id", id)
	} else {
		metrics.ChatConnections.Inc()
	}
	slog.Info("Chat connection registered", "session_key", key, "conn_id", id)
	return id
}

// Unregister removes the connection id of key if it is still the live one.
func (r *Registry) Unregister(key, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[key]; ok && current.id == id {
		delete(r.active, key)
		metrics.ChatConnections.Dec()
		slog.Info("Chat connection unregistered", "session_key", key, "conn_id", id)
	}
}

// CloseSession terminates the live connection of key, if any.
func (r *Registry) CloseSession(key string) {
	r.mu.Lock()
	current, ok := r.active[key]
	if ok {
		delete(r.active, key)
		metrics.ChatConnections.Dec()
	}
	r.mu.Unlock()

	if ok {
		_ = current.ws.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Chat connection closed", "session_key", key, "conn_id", current.id)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
