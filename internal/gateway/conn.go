package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"bitriver-relay/internal/encoder"
	"bitriver-relay/internal/relay"
)

// conn binds one WebSocket to the registry. The read loop is the only chunk
// producer, which preserves media ordering; lifecycle notifications arrive
// from session goroutines and are serialized through the send queue.
type conn struct {
	id       string
	sock     *websocket.Conn
	registry *relay.Registry
	logger   *slog.Logger
	send     chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *conn) readLoop() {
	defer func() {
		c.registry.Disconnect(c.id)
		c.shutdown()
	}()
	for {
		msgType, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection read failed", "error", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if session, ok := c.registry.Lookup(c.id); ok {
				session.Forward(data)
			}
		case websocket.TextMessage:
			c.handleControl(data)
		}
	}
}

func (c *conn) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed control message")
		return
	}
	switch msg.Type {
	case msgTypeStart:
		cfg := encoder.Config{
			TargetBaseURL:    msg.TargetURL,
			StreamKey:        msg.StreamKey,
			Width:            msg.Width,
			Height:           msg.Height,
			FPS:              msg.FPS,
			BitrateKbps:      msg.BitrateKbps,
			UseHardwareAccel: msg.HardwareAccel,
		}
		if _, err := c.registry.Begin(c.id, cfg, c); err != nil {
			c.sendError(err.Error())
		}
	case msgTypeStop:
		c.registry.End(c.id)
	default:
		c.sendError("unknown message type " + msg.Type)
	}
}

// SessionLive acknowledges the optimistic transition to Live.
func (c *conn) SessionLive(sessionID string) {
	c.enqueue(ackMessage{Type: msgTypeAck, SessionID: sessionID})
}

// SessionError reports a mid-stream encoder failure.
func (c *conn) SessionError(sessionID, message string) {
	c.enqueue(errorMessage{Type: msgTypeError, Message: message})
}

// SessionEnded delivers the terminal summary.
func (c *conn) SessionEnded(sessionID string, summary relay.Summary) {
	c.enqueue(statusMessage{
		Type:            msgTypeStatus,
		Reason:          summary.Reason,
		DurationSeconds: summary.DurationSeconds,
		BytesIngested:   summary.BytesIngested,
	})
}

func (c *conn) sendError(message string) {
	c.enqueue(errorMessage{Type: msgTypeError, Message: message})
}

func (c *conn) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encode outbound message", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// A stalled client loses notifications rather than stalling the
		// session goroutines feeding this queue.
		c.logger.Warn("outbound queue full, dropping message")
	}
}

func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *conn) writePump() {
	defer c.sock.Close()
	for msg := range c.send {
		if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
