package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/parallaxsearch/parallax/config"
)

// TokenVerifier validates a client token and returns its subject.
// Empty secret deployments use a verifier that accepts everything.
type TokenVerifier func(token string) (subject string, err error)

// Server upgrades HTTP connections and speaks the stream protocol.
type Server struct {
	cfg      config.StreamConfig
	hub      *Hub
	manager  *Manager
	verify   TokenVerifier
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg config.StreamConfig, h *Hub, m *Manager, verify TokenVerifier, logger *log.Logger) *Server {
	return &Server{
		cfg:     cfg.Normalize(),
		hub:     h,
		manager: m,
		verify:  verify,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("websocket read: %v", err)
			}
			break
		}
		s.handleMessage(conn, message)
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Printf("websocket write: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", ErrCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeQuery:
		s.handleQuery(conn, data)
	case TypeCancel:
		s.handleCancel(conn, data)
	default:
		s.sendError(conn, "", ErrCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

func (s *Server) handleHello(conn *Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrCodeInvalidMessage, "invalid hello message")
		return
	}

	if s.verify != nil {
		if _, err := s.verify(msg.Token); err != nil {
			s.sendError(conn, "", ErrCodeUnauthorized, "invalid token")
			return
		}
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}
	s.hub.BindSession(conn, sessionID)
	s.manager.Touch(sessionID)

	ack := HelloAckMessage{BaseMessage: BaseMessage{
		Type:      TypeHelloAck,
		Ts:        nowMillis(),
		SessionID: sessionID,
	}}
	if err := s.hub.SendJSONToConnection(conn, ack); err != nil {
		s.logger.Printf("hello ack: %v", err)
	}
}

func (s *Server) handleQuery(conn *Connection, data []byte) {
	var msg QueryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrCodeInvalidMessage, "invalid query message")
		return
	}
	if conn.SessionID == "" {
		s.sendError(conn, "", ErrCodeSessionRequired, "must send hello first")
		return
	}
	if msg.Message == "" {
		s.sendError(conn, "", ErrCodeInvalidMessage, "message is required")
		return
	}

	turnID, err := s.manager.StartTurn(context.Background(), conn.SessionID, msg.Message)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			s.sendError(conn, "", ErrCodeSessionConflict, "session already has an active turn")
			return
		}
		s.sendError(conn, "", ErrCodeInternal, err.Error())
		return
	}

	ack := TurnAcceptedMessage{
		BaseMessage: BaseMessage{Type: TypeTurnAccepted, Ts: nowMillis(), SessionID: conn.SessionID},
		TurnID:      turnID,
	}
	if err := s.hub.SendJSONToConnection(conn, ack); err != nil {
		s.logger.Printf("turn ack: %v", err)
	}
}

func (s *Server) handleCancel(conn *Connection, data []byte) {
	var msg CancelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrCodeInvalidMessage, "invalid cancel message")
		return
	}
	if conn.SessionID == "" {
		s.sendError(conn, "", ErrCodeSessionRequired, "must send hello first")
		return
	}
	if err := s.manager.Cancel(conn.SessionID, msg.TurnID); err != nil {
		s.sendError(conn, msg.TurnID, ErrCodeTurnNotFound, "no matching active turn")
	}
}

func (s *Server) sendError(conn *Connection, turnID, code, message string) {
	e := ErrorMessage{
		BaseMessage: BaseMessage{Type: TypeError, Ts: nowMillis(), SessionID: conn.SessionID},
		Code:        code,
		Message:     message,
		TurnID:      turnID,
	}
	if err := s.hub.SendJSONToConnection(conn, e); err != nil {
		s.logger.Printf("send error frame: %v", err)
	}
}
