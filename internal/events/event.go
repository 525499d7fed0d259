package events

import (
	"time"

	"bitriver-relay/internal/models"
)

// Type enumerates the session lifecycle events flowing through the event
// queue and webhook dispatcher.
type Type string

const (
	// TypeSessionStarted is published once an encoder process is running
	// and the session is accepting media.
	TypeSessionStarted Type = "session.started"
	// TypeSessionEnded is published when a session reaches a clean
	// terminal state.
	TypeSessionEnded Type = "session.ended"
	// TypeSessionErrored is published when a session terminates because
	// the encoder failed or ingest writes escalated.
	TypeSessionErrored Type = "session.errored"
)

// Event is the wire representation forwarded to the event queue.
type Event struct {
	ID           string                `json:"id"`
	Type         Type                  `json:"type"`
	SessionID    string                `json:"sessionId"`
	ConnectionID string                `json:"connectionId"`
	TargetURL    string                `json:"targetUrl,omitempty"`
	Record       *models.SessionRecord `json:"record,omitempty"`
	OccurredAt   time.Time             `json:"occurredAt"`
}
