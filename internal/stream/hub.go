package stream

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection's send queue is full.
var ErrBufferFull = errors.New("connection send buffer full")

// Connection is one WebSocket client. A connection belongs to at most
// one session at a time.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
	mu        sync.Mutex // serializes writes to the socket
	closeOnce sync.Once
}

// Close closes the underlying socket once. The Conn field stays set so
// the read pump never observes a nil socket; reads on the closed socket
// fail and wind the pump down.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// WriteMessage writes one frame under the connection mutex.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Conn == nil {
		return errors.New("connection closed")
	}
	return c.Conn.WriteMessage(messageType, data)
}

// SetReadDeadline forwards to the socket if it is still open.
func (c *Connection) SetReadDeadline(t time.Time) {
	if c.Conn != nil {
		_ = c.Conn.SetReadDeadline(t)
	}
}

// SetWriteDeadline forwards to the socket if it is still open.
func (c *Connection) SetWriteDeadline(t time.Time) {
	if c.Conn != nil {
		_ = c.Conn.SetWriteDeadline(t)
	}
}

// SessionMessage routes data to every connection of a session.
type SessionMessage struct {
	SessionID string
	Data      []byte
}

// Hub tracks live connections and their session bindings.
type Hub struct {
	connections map[string]*Connection
	sessions    map[string]map[string]bool // session id -> connection ids

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *SessionMessage

	sendBuffer int
	logger     *log.Logger

	mu sync.RWMutex
}

func NewHub(sendBuffer int, logger *log.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *SessionMessage, 256),
		sendBuffer:  sendBuffer,
		logger:      logger,
	}
}

// Run is the hub's main loop. It owns the connection and session maps'
// registration path; callers run it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.SessionID != "" {
				if h.sessions[conn.SessionID] == nil {
					h.sessions[conn.SessionID] = make(map[string]bool)
				}
				h.sessions[conn.SessionID][conn.ID] = true
			}
			connectionsGauge.Set(float64(len(h.connections)))
			sessionsGauge.Set(float64(len(h.sessions)))
			h.mu.Unlock()
			h.logger.Printf("connection registered: %s (session: %s)", conn.ID, conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.SessionID != "" && h.sessions[conn.SessionID] != nil {
					delete(h.sessions[conn.SessionID], conn.ID)
					if len(h.sessions[conn.SessionID]) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				close(conn.Send)
			}
			connectionsGauge.Set(float64(len(h.connections)))
			sessionsGauge.Set(float64(len(h.sessions)))
			h.mu.Unlock()
			h.logger.Printf("connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.sessions[msg.SessionID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- msg.Data:
						default:
							h.logger.Printf("connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection builds a connection owned by this hub; Register makes
// it live.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, h.sendBuffer),
		hub:  h,
	}
}

func (h *Hub) Register(conn *Connection)   { h.register <- conn }
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// BindSession moves a connection into a session, leaving any prior one.
func (h *Hub) BindSession(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.SessionID != "" && h.sessions[conn.SessionID] != nil {
		delete(h.sessions[conn.SessionID], conn.ID)
		if len(h.sessions[conn.SessionID]) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}

	conn.SessionID = sessionID
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]bool)
	}
	h.sessions[sessionID][conn.ID] = true
	sessionsGauge.Set(float64(len(h.sessions)))
}

// Broadcast queues data for every connection of the session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.broadcast <- &SessionMessage{SessionID: sessionID, Data: data}
}

// BroadcastJSON marshals v and broadcasts it to the session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendJSONToConnection sends directly to one connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SessionCount returns the number of sessions with live connections.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
