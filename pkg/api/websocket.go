package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// WebSocketHub manages WebSocket connections for real-time run updates.
// Clients subscribe to run IDs and receive every progress event for those
// runs. It implements engine.Notifier.
type WebSocketHub struct {
	// upgrader for upgrading HTTP connections to WebSocket
	upgrader websocket.Upgrader

	// connections maps run IDs to sets of WebSocket connections
	connections map[string]map[*websocket.Conn]bool

	// subscriptions maps a connection to the run IDs it watches
	subscriptions map[*websocket.Conn]map[string]bool

	// writeMu serializes writes per connection
	writeMu map[*websocket.Conn]*sync.Mutex

	mu sync.RWMutex
}

// RunUpdate is a real-time event pushed to subscribed clients
type RunUpdate struct {
	Type      string           `json:"type"` // "node_started", "node_completed", "run_status", "log"
	RunID     string           `json:"run_id"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id,omitempty"`
	Outcome   string           `json:"outcome,omitempty"`
	Status    models.RunStatus `json:"status,omitempty"`
	Log       *models.LogEntry `json:"log,omitempty"`
}

// clientMessage represents incoming WebSocket messages
type clientMessage struct {
	Type  string `json:"type"` // "subscribe", "unsubscribe", "ping"
	RunID string `json:"run_id,omitempty"`
}

// NewWebSocketHub creates a WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:   make(map[string]map[*websocket.Conn]bool),
		subscriptions: make(map[*websocket.Conn]map[string]bool),
		writeMu:       make(map[*websocket.Conn]*sync.Mutex),
	}
}

// HandleWebSocket upgrades the connection and services subscribe messages
// until the client disconnects
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.subscriptions[conn] = make(map[string]bool)
	h.writeMu[conn] = &sync.Mutex{}
	h.mu.Unlock()

	defer h.removeConnection(conn)

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			if msg.RunID != "" {
				h.subscribe(conn, msg.RunID)
			}
		case "unsubscribe":
			if msg.RunID != "" {
				h.unsubscribe(conn, msg.RunID)
			}
		case "ping":
			h.send(conn, map[string]string{"type": "pong"})
		}
	}
}

func (h *WebSocketHub) subscribe(conn *websocket.Conn, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[runID] == nil {
		h.connections[runID] = make(map[*websocket.Conn]bool)
	}
	h.connections[runID][conn] = true
	h.subscriptions[conn][runID] = true
}

func (h *WebSocketHub) unsubscribe(conn *websocket.Conn, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.connections[runID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, runID)
		}
	}
	delete(h.subscriptions[conn], runID)
}

func (h *WebSocketHub) removeConnection(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for runID := range h.subscriptions[conn] {
		if conns, ok := h.connections[runID]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.connections, runID)
			}
		}
	}
	delete(h.subscriptions, conn)
	delete(h.writeMu, conn)
}

// broadcast pushes an update to every connection subscribed to the run
func (h *WebSocketHub) broadcast(update RunUpdate) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.connections[update.RunID]))
	for conn := range h.connections[update.RunID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.send(conn, update)
	}
}

func (h *WebSocketHub) send(conn *websocket.Conn, payload interface{}) {
	h.mu.RLock()
	mu, ok := h.writeMu[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("WebSocket write failed: %v", err)
	}
}

// NodeStarted implements engine.Notifier
func (h *WebSocketHub) NodeStarted(runID, nodeID string) {
	h.broadcast(RunUpdate{
		Type:      "node_started",
		RunID:     runID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
	})
}

// NodeCompleted implements engine.Notifier
func (h *WebSocketHub) NodeCompleted(runID, nodeID, outcome string) {
	h.broadcast(RunUpdate{
		Type:      "node_completed",
		RunID:     runID,
		NodeID:    nodeID,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
}

// RunStatusChanged implements engine.Notifier
func (h *WebSocketHub) RunStatusChanged(runID string, status models.RunStatus) {
	h.broadcast(RunUpdate{
		Type:      "run_status",
		RunID:     runID,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// LogAppended implements engine.Notifier
func (h *WebSocketHub) LogAppended(entry models.LogEntry) {
	h.broadcast(RunUpdate{
		Type:      "log",
		RunID:     entry.RunID,
		NodeID:    entry.NodeID,
		Log:       &entry,
		Timestamp: time.Now(),
	})
}
