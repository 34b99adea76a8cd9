package relay

import (
	"encoding/json"

	"drawing-board/internal/identity"
)

// Event names for WebSocket communication
const (
	// client -> server
	EventLogin  = "login"
	EventLogout = "logout"
	EventDraw   = "draw"
	EventCursor = "cursor"

	// server -> client
	EventAck             = "ack"
	EventCanvasSnapshot  = "canvasSnapshot"
	EventPresenceChanged = "presenceChanged"
	EventLoginRejected   = "loginRejected"
)

const (
	PresenceLogin  = "login"
	PresenceLogout = "logout"
)

// Envelope is an inbound frame. A request carrying Ack gets exactly one
// ack frame echoing it.
type Envelope struct {
	Event string          `json:"event"`
	Ack   *uint64         `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame.
type Message struct {
	Event string  `json:"event"`
	Ack   *uint64 `json:"ack,omitempty"`
	Data  any     `json:"data,omitempty"`
}

// LoginAck answers a login request.
type LoginAck struct {
	OK             bool            `json:"ok"`
	User           *identity.User  `json:"user,omitempty"`
	ConnectedUsers []identity.User `json:"connectedUsers,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// DrawAck answers a draw request. OK is false for both invalid and
// rate-limited events; only the former carries Error.
type DrawAck struct {
	OK       bool   `json:"ok"`
	AuthorID string `json:"authorId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StatusAck answers requests with no other result.
type StatusAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type LogoutRequest struct {
	ID string `json:"id"`
}

// PresenceChanged is sent to every session on login and logout.
type PresenceChanged struct {
	Kind           string          `json:"kind"`
	User           identity.User   `json:"user"`
	ConnectedUsers []identity.User `json:"connectedUsers"`
}

// CursorPosition is relayed to every session except its owner.
type CursorPosition struct {
	UserID string  `json:"userId,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type LoginRejected struct {
	Reason string `json:"reason"`
}

// CanvasSnapshot carries the raster as a data URL the browser can load
// straight into an image element.
type CanvasSnapshot struct {
	Src string `json:"src"`
}
