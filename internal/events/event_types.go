package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionRotated    EventType = "session_rotated"
	EventSessionSuperseded EventType = "session_superseded"
	EventSessionRevoked    EventType = "session_revoked"
)

// SessionEventTypes lists every session lifecycle event.
var SessionEventTypes = []EventType{
	EventSessionStarted,
	EventSessionRotated,
	EventSessionSuperseded,
	EventSessionRevoked,
}

// Revocation reasons carried by EventSessionRevoked.
const (
	ReasonLogout      = "logout"
	ReasonForceLogout = "force_logout"
)

// Event represents a session lifecycle change.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    int64       `json:"user_id"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// SessionRotatedPayload payload.
type SessionRotatedPayload struct {
	PreviousSessionID string `json:"previous_session_id"`
}

// SessionSupersededPayload payload. SessionID on the event is the new session.
type SessionSupersededPayload struct {
	SupersededSessionID string `json:"superseded_session_id"`
}

// SessionRevokedPayload payload.
type SessionRevokedPayload struct {
	Reason  string `json:"reason"`
	TokenID string `json:"token_id,omitempty"`
}
