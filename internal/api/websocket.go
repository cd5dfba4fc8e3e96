package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/verity/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// WSMessage is a client message. ProjectID 0 subscribes to every project.
type WSMessage struct {
	Type      string `json:"type"` // subscribe, unsubscribe, ping
	ProjectID int64  `json:"project_id,omitempty"`
}

// WSEvent is a lifecycle event as sent to websocket clients.
type WSEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	ProjectID int64     `json:"project_id"`
	TaskID    int64     `json:"task_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

// WSHandler streams committed lifecycle events to websocket clients.
type WSHandler struct {
	upgrader    websocket.Upgrader
	publisher   events.Publisher
	connections map[*websocket.Conn]*wsConnection
	mu          sync.RWMutex
	logger      *slog.Logger
}

// wsConnection tracks a single WebSocket connection.
type wsConnection struct {
	conn       *websocket.Conn
	mu         sync.Mutex // protects projectID, eventChan, subscribed
	projectID  int64
	eventChan  <-chan events.Event
	subscribed bool
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(pub events.Publisher, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		publisher:   pub,
		connections: make(map[*websocket.Conn]*wsConnection),
		logger:      logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConnection{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.connections[conn] = c
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

// readPump reads messages from the WebSocket connection.
func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", "error", err)
			}
			return
		}
		h.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			// One frame per message so clients always receive valid JSON.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages.
func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe":
		h.handleSubscribe(c, msg.ProjectID)
	case "unsubscribe":
		h.handleUnsubscribe(c)
		h.sendJSON(c, map[string]any{"type": "unsubscribed"})
	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe replaces the connection's subscription with projectID.
func (h *WSHandler) handleSubscribe(c *wsConnection, projectID int64) {
	if projectID < 0 {
		h.sendError(c, "project_id must not be negative (use 0 for all projects)")
		return
	}

	h.handleUnsubscribe(c)

	ch := h.publisher.Subscribe(projectID)
	c.mu.Lock()
	c.projectID = projectID
	c.eventChan = ch
	c.subscribed = true
	c.mu.Unlock()

	go h.forwardEvents(c, ch)

	h.sendJSON(c, map[string]any{
		"type":       "subscribed",
		"project_id": projectID,
	})
	h.logger.Debug("websocket subscribed", "project_id", projectID)
}

// handleUnsubscribe drops the connection's current subscription, if any.
func (h *WSHandler) handleUnsubscribe(c *wsConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribed {
		h.publisher.Unsubscribe(c.projectID, c.eventChan)
		c.subscribed = false
		c.projectID = 0
		c.eventChan = nil
	}
}

// forwardEvents copies events from one subscription channel to the socket
// until the channel is closed or the connection goes away.
func (h *WSHandler) forwardEvents(c *wsConnection, ch <-chan events.Event) {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			h.sendJSON(c, toWSEvent(event))
		}
	}
}

func toWSEvent(e events.Event) WSEvent {
	return WSEvent{
		Type:      "event",
		ID:        e.ID,
		Event:     string(e.Type),
		ProjectID: e.ProjectID,
		TaskID:    e.TaskID,
		Data:      e.Data,
		Time:      e.Time,
	}
}

// closeConnection cleans up a WebSocket connection.
func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	if _, exists := h.connections[c.conn]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, c.conn)
	h.mu.Unlock()

	h.handleUnsubscribe(c)
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
}

// sendJSON queues a JSON message for a connection.
func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal JSON", "error", err)
		return
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		h.logger.Warn("websocket send buffer full, dropping message")
	}
}

// sendError sends an error message to a connection.
func (h *WSHandler) sendError(c *wsConnection, message string) {
	h.sendJSON(c, map[string]any{
		"type":  "error",
		"error": message,
	})
}

// ConnectionCount returns the number of active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes all connections.
func (h *WSHandler) Close() {
	h.mu.RLock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.closeConnection(c)
	}
}
