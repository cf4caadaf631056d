// Package realtime pushes session transitions and navigations to the UI
// over a websocket and relays interaction signals back to the shell.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleetdesk/internal/logging"
	"fleetdesk/internal/model"
	"fleetdesk/internal/session"
)

// Message types.
const (
	TypeEvent    = "event"
	TypeActivity = "activity"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"

	EventSessionChanged = "session.changed"
	EventNavigate       = "navigate"
)

const (
	sendBufferSize = 64
	maxMessageSize = 4096
	pingInterval   = 30 * time.Second
	pongWait       = 10 * time.Second
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Signal    string `json:"signal,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SessionEvent is the public view of a snapshot. It never carries the token.
type SessionEvent struct {
	Phase  string     `json:"phase"`
	Role   model.Role `json:"role,omitempty"`
	Name   string     `json:"name,omitempty"`
	UserID int64      `json:"user_id,omitempty"`
}

// NewSessionEvent converts a snapshot for the UI.
func NewSessionEvent(snap session.Snapshot) SessionEvent {
	ev := SessionEvent{Phase: snap.Phase().String()}
	if snap.IsAuthenticated() {
		ev.Role = snap.Session.Role
		ev.Name = snap.Session.Name
		ev.UserID = snap.Session.UserID
	}
	return ev
}

// NavigateEvent asks the UI to show path.
type NavigateEvent struct {
	Path string `json:"path"`
}

// ActivityFunc receives interaction signals sent by clients.
type ActivityFunc func(signal string)

// Hub manages websocket clients.
type Hub struct {
	logger     *slog.Logger
	onActivity ActivityFunc
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Client is one connected UI.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. onActivity may be nil.
func NewHub(logger *slog.Logger, onActivity ActivityFunc) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		logger:     logger,
		onActivity: onActivity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// the shell only listens on loopback
				return true
			},
		},
		clients: make(map[*Client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Follow broadcasts every transition of state. The returned function
// stops following.
func (h *Hub) Follow(state interface {
	Subscribe(fn func(session.Snapshot)) func()
}) func() {
	return state.Subscribe(func(snap session.Snapshot) {
		h.Broadcast(EventSessionChanged, NewSessionEvent(snap))
	})
}

// Navigate implements guard.Navigator by pushing a navigate event.
func (h *Hub) Navigate(path string) {
	h.Broadcast(EventNavigate, NavigateEvent{Path: path})
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", c.id, "clients", h.ClientCount())
}

// Unregister removes a client. Only the call that removes it closes the
// send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "client_id", c.id, "clients", h.ClientCount())
}

// Broadcast sends an event to every client. It never blocks: slow
// clients miss events.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(Message{
		Type:      TypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and starts the client pumps. The client is
// registered before initial is read, so a transition racing the upgrade
// is either broadcast to it or already part of the first event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial func() SessionEvent) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.Register(c)
	c.sendEvent(EventSessionChanged, initial())

	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeActivity:
		if c.hub.onActivity != nil {
			c.hub.onActivity(msg.Signal)
		}
	case TypePing:
		c.sendMessage(Message{Type: TypePong, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Client) sendEvent(eventType string, payload any) {
	c.sendMessage(Message{
		Type:      TypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

func (c *Client) sendError(message string) {
	c.sendMessage(Message{Type: TypeError, Payload: map[string]string{"message": message}})
}

func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend drops the frame when the buffer is full or the client is gone.
func (c *Client) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}
