package connection

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrInvalidOrigin = errors.New("invalid console origin")
)

// CloseAuthFailure is the console's application-specific close code for a
// rejected credential. Retrying with the same token cannot succeed, so this
// code is terminal: the manager forces a logout instead of reconnecting.
const CloseAuthFailure = 4001

// Inbound message types. Pong frames are consumed by the heartbeat and never
// reach the registered message handler.
const (
	TypeMessage = "message"
	TypeStatus  = "status"
	TypeError   = "error"
	TypeSystem  = "system"
	TypePong    = "pong"
	TypePing    = "ping"
)

// Speaker roles carried on inbound frames.
const (
	RoleSovereign     = "sovereign"
	RoleHeadOfCouncil = "head_of_council"
	RoleSystem        = "system"
)

// Message is an inbound frame from the console. The manager does not
// interpret role or metadata; it forwards them unchanged.
type Message struct {
	Type      string    `json:"type"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
}

// Metadata carries optional per-frame context from the console backend.
type Metadata struct {
	AgentID      string `json:"agent_id,omitempty"`
	Model        string `json:"model,omitempty"`
	TaskCreated  bool   `json:"task_created,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// chatEnvelope is the outbound chat frame.
type chatEnvelope struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// pingEnvelope is the outbound liveness probe.
type pingEnvelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Config configures the connection Manager.
type Config struct {
	Origin           string        // Console origin (e.g. https://console.example.com)
	Path             string        // WebSocket path on the console
	ConnectTimeout   time.Duration // Abort a dial not connected by this deadline
	HandshakeTimeout time.Duration // WebSocket handshake deadline inside a dial
	PingInterval     time.Duration // Heartbeat probe interval
	PongTimeout      time.Duration // Max wait for a pong before force-closing
	WriteTimeout     time.Duration // Write deadline for outbound frames
	ReconnectBase    time.Duration // Base delay for the backoff schedule
	ReconnectMax     time.Duration // Cap for the backoff schedule
	MaxReconnects    int           // Attempt budget before the terminal state
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/ws/chat",
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReconnectBase:    1 * time.Second,
		ReconnectMax:     30 * time.Second,
		MaxReconnects:    5,
	}
}

// closeCode extracts the WebSocket close code from a read error. Errors that
// carry no close frame (network resets, force-closed handles) count as
// abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
