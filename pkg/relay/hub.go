// Package relay broadcasts storage change events between processes over
// WebSocket.
//
// A Hub accepts connections and rebroadcasts every change a client
// publishes to all other connected clients. A Client connects to a hub,
// publishes changes and delivers the ones it receives as storage events.
// Attach combines a Store with a Client so that every successful write is
// published, which gives stores without their own change feed (S3, a
// plain key-value server) cross-process notifications.
//
//	hub := relay.NewHub()
//	http.ListenAndServe(":7070", hub.Handler())
//
//	client, _ := relay.Dial(ctx, "ws://localhost:7070/ws", "")
//	backend := relay.Attach(s3store.New(s3Client, "bucket", "prefs/"), client)
//	theme := pref.New(backend, "theme", "light")
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/prefsync/pkg/storage"
)

// MessageType identifies a relay frame.
type MessageType string

const (
	// TypeChange carries a storage event.
	TypeChange MessageType = "change"
)

// Message is the JSON frame exchanged between hub and clients.
type Message struct {
	Type  MessageType    `json:"type"`
	Event *storage.Event `json:"event,omitempty"`
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub's logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithCheckOrigin sets the WebSocket origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub fans change events out to connected clients.
type Hub struct {
	clients  map[*websocket.Conn]*peer
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type peer struct {
	origin string
	wmu    sync.Mutex
}

// NewHub creates a hub with no clients.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*websocket.Conn]*peer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the hub's routes: GET /ws upgrades to a relay
// connection, GET /healthz reports liveness.
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", h.HandleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// HandleWebSocket upgrades the request and relays the connection's
// messages until it disconnects. The origin query parameter names the
// client; a random one is assigned if it is missing.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("relay: upgrade failed", slog.Any("error", err))
		return
	}

	origin := req.URL.Query().Get("origin")
	if origin == "" {
		origin = uuid.NewString()
	}
	p := &peer{origin: origin}

	h.mu.Lock()
	h.clients[conn] = p
	h.mu.Unlock()
	h.logger.Debug("relay: client connected", slog.String("origin", origin))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeChange || msg.Event == nil {
			h.logger.Warn("relay: dropping malformed message", slog.String("origin", origin))
			continue
		}
		// The connection's origin is authoritative.
		msg.Event.Origin = origin
		h.broadcast(conn, msg)
	}

	h.remove(conn)
	h.logger.Debug("relay: client disconnected", slog.String("origin", origin))
}

// broadcast sends msg to every client except from.
func (h *Hub) broadcast(from *websocket.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	type target struct {
		conn *websocket.Conn
		peer *peer
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.clients))
	for conn, p := range h.clients {
		if conn != from {
			targets = append(targets, target{conn, p})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.peer.wmu.Lock()
		err := t.conn.WriteMessage(websocket.TextMessage, data)
		t.peer.wmu.Unlock()
		if err != nil {
			h.remove(t.conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}
