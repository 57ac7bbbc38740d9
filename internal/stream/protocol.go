// Package stream is the WebSocket surface: connection management,
// inbound message dispatch, and ordered delivery of turn events to the
// session that owns them.
package stream

import "time"

// Inbound message types.
const (
	TypeHello  = "hello"
	TypeQuery  = "query"
	TypeCancel = "cancel"
)

// Outbound control message types. Turn events keep their own type set.
const (
	TypeHelloAck     = "hello-ack"
	TypeTurnAccepted = "turn-accepted"
	TypeError        = "error"
)

// Error codes sent on the error frame.
const (
	ErrCodeInvalidMessage  = "invalid-message"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeSessionRequired = "session-required"
	ErrCodeSessionConflict = "session-conflict"
	ErrCodeTurnNotFound    = "turn-not-found"
	ErrCodeInternal        = "internal"
)

// BaseMessage carries the fields shared by all frames.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// HelloMessage opens a session on the connection.
type HelloMessage struct {
	BaseMessage
	Token string `json:"token,omitempty"`
}

// HelloAckMessage confirms the session binding.
type HelloAckMessage struct {
	BaseMessage
}

// QueryMessage submits a user message for processing.
type QueryMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// TurnAcceptedMessage acknowledges a started turn with its id.
type TurnAcceptedMessage struct {
	BaseMessage
	TurnID string `json:"turn_id"`
}

// CancelMessage requests a graceful stop of an in-flight turn.
type CancelMessage struct {
	BaseMessage
	TurnID string `json:"turn_id"`
}

// ErrorMessage reports a protocol-level failure on the connection. It
// never terminates a turn; turn failures arrive as turn-error events.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
	TurnID  string `json:"turn_id,omitempty"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }
