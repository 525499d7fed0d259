// Package gateway terminates client WebSocket connections and bridges them
// to relay sessions: text frames carry JSON control messages, binary frames
// carry raw media chunks destined for the encoder's stdin.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bitriver-relay/internal/relay"
)

const (
	defaultReadLimit  = 4 << 20
	defaultSendBuffer = 16
)

// Config wires a Handler to the session registry and sets the transport
// policy for upgrades.
type Config struct {
	// Registry owns session lifecycles; required.
	Registry *relay.Registry
	// AllowedOrigins restricts browser upgrades. Empty means same-host
	// plus loopback.
	AllowedOrigins []string
	// AuthToken, when set, must accompany the upgrade request as a query
	// parameter, an X-Relay-Token header, or a bearer credential.
	AuthToken string
	// ReadLimit caps a single frame in bytes.
	ReadLimit int64
	// SendBuffer sizes the per-connection outbound queue.
	SendBuffer int
	Logger     *slog.Logger
}

// Handler upgrades HTTP requests on the relay endpoint and runs one
// connection loop per client.
type Handler struct {
	registry       *relay.Registry
	logger         *slog.Logger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	readLimit      int64
	sendBuffer     int
	upgrader       websocket.Upgrader
}

// New validates cfg and returns a ready Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	h := &Handler{
		registry:       cfg.Registry,
		logger:         logger.With("component", "gateway"),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      strings.TrimSpace(cfg.AuthToken),
		readLimit:      readLimit,
		sendBuffer:     sendBuffer,
	}
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		h.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			h.allowedHosts[parsed.Host] = true
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h, nil
}

// ServeHTTP performs the upgrade and blocks on the connection's read loop
// until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake rejection.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sock.SetReadLimit(h.readLimit)

	c := &conn{
		id:       uuid.NewString(),
		sock:     sock,
		registry: h.registry,
		send:     make(chan []byte, h.sendBuffer),
	}
	c.logger = h.logger.With("connectionId", c.id, "remote", r.RemoteAddr)

	c.logger.Info("client connected")
	go c.writePump()
	c.readLoop()
	c.logger.Info("client disconnected")
}

func (h *Handler) authorize(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == h.authToken {
		return true
	}
	if r.Header.Get("X-Relay-Token") == h.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == h.authToken {
		return true
	}
	return false
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(h.allowedOrigins) > 0 {
		if h.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return h.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}
