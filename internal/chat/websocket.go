package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/engine"
	"github.com/ashureev/capylingo/internal/identity"
	"github.com/ashureev/capylingo/internal/shared"
	"github.com/ashureev/capylingo/internal/store"
)

const writeTimeout = 10 * time.Second

// Engine is the conversation engine as seen by the chat transport.
type Engine interface {
	HandleEvent(ctx context.Context, key string, ev engine.Event) (engine.Response, error)
}

// WebSocketHandler serves one conversation per websocket connection.
type WebSocketHandler struct {
	engine        Engine
	registry      *Registry
	limiter       *shared.RateLimiters
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter may be nil.
func NewWebSocketHandler(eng Engine, registry *Registry, limiter *shared.RateLimiters, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		engine:        eng,
		registry:      registry,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is an inbound frame.
type wsMessage struct {
	Type      string          `json:"type,omitempty"`
	Text      string          `json:"text,omitempty"`
	Selection *int            `json:"selection,omitempty"`
	AgeGroup  domain.AgeGroup `json:"age_group,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	if key == "" {
		http.Error(w, "missing session key", http.StatusBadRequest)
		return
	}
	slog.Info("WebSocket connection request", "session_key", key, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_key", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_key", key)
		}
	}()

	connID := h.registry.Register(key, ws)
	defer h.registry.Unregister(key, connID)

	h.readLoop(r.Context(), ws, key)
	slog.Info("Chat connection ended", "session_key", key, "conn_id", connID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles frames one at a time, so replies keep the order of events.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, key string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_key", key)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_key", key)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Plain text frames are answers or commands.
			msg = wsMessage{Text: string(data)}
		}

		var reply any
		switch msg.Type {
		case "ping":
			reply = map[string]string{"type": "pong"}
		case "", "event":
			reply = h.handle(ctx, key, msg)
		default:
			reply = map[string]string{"type": "error", "error": "unknown message type"}
		}

		if err := writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err, "session_key", key)
			return
		}
	}
}

func (h *WebSocketHandler) handle(ctx context.Context, key string, msg wsMessage) any {
	if h.limiter != nil && !h.limiter.Allow(key) {
		return map[string]string{"type": "error", "error": "rate_limited"}
	}
	resp, err := h.engine.HandleEvent(ctx, key, engine.Event{
		Text:      msg.Text,
		Selection: msg.Selection,
		AgeGroup:  msg.AgeGroup,
	})
	if err != nil {
		code := "internal_error"
		if errors.Is(err, store.ErrStorage) {
			code = "storage_unavailable"
		}
		slog.Error("Chat event failed", "error", err, "session_key", key)
		return map[string]string{"type": "error", "error": code}
	}
	return resp
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
