package gateway

const (
	msgTypeStart  = "start"
	msgTypeStop   = "stop"
	msgTypeAck    = "ack"
	msgTypeError  = "error"
	msgTypeStatus = "status"
)

// controlMessage is the union of client-issued text frames. Binary frames
// never carry JSON; they are raw media chunks.
type controlMessage struct {
	Type          string `json:"type"`
	TargetURL     string `json:"targetUrl,omitempty"`
	StreamKey     string `json:"streamKey,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	FPS           int    `json:"fps,omitempty"`
	BitrateKbps   int    `json:"bitrateKbps,omitempty"`
	HardwareAccel bool   `json:"hardwareAccel,omitempty"`
}

type ackMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type statusMessage struct {
	Type            string  `json:"type"`
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"durationSeconds"`
	BytesIngested   int64   `json:"bytesIngested"`
}
