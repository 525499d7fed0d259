package models

import "time"

// Terminal session outcomes reported to clients and recorded in the archive.
const (
	ReasonClean = "clean"
	ReasonError = "error"
)

// SessionRecord captures the terminal summary of one relay session. The target
// URL is stored without the stream key; only a derived digest is kept so
// records can be correlated with a channel without persisting the secret.
type SessionRecord struct {
	ID              string     `json:"id"`
	ConnectionID    string     `json:"connectionId"`
	TargetURL       string     `json:"targetUrl"`
	StreamKeyDigest string     `json:"streamKeyDigest,omitempty"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	FPS             int        `json:"fps"`
	BitrateKbps     int        `json:"bitrateKbps"`
	HardwareAccel   bool       `json:"hardwareAccel"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         time.Time  `json:"endedAt"`
	DurationSeconds float64    `json:"durationSeconds"`
	BytesIngested   int64      `json:"bytesIngested"`
	Reason          string     `json:"reason"`
	Error           string     `json:"error,omitempty"`
}

type ActiveSession struct {
	ID            string     `json:"id"`
	ConnectionID  string     `json:"connectionId"`
	State         string     `json:"state"`
	TargetURL     string     `json:"targetUrl"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	BytesIngested int64      `json:"bytesIngested"`
}
