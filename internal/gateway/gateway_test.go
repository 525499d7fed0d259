package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bitriver-relay/internal/relay"
)

const (
	drainScript   = "#!/bin/sh\nexec cat >/dev/null\n"
	exitOneScript = "#!/bin/sh\nexit 1\n"
)

func fakeEncoder(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder scripts need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fake-encoder")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serverProbe struct {
	Type            string  `json:"type"`
	SessionID       string  `json:"sessionId"`
	Message         string  `json:"message"`
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"durationSeconds"`
	BytesIngested   int64   `json:"bytesIngested"`
}

func newGatewayServer(t *testing.T, script string, mutate func(*Config)) (*httptest.Server, *relay.Registry) {
	t.Helper()
	registry := relay.NewRegistry(
		relay.WithEncoderBinary(fakeEncoder(t, script)),
		relay.WithLogger(quietLogger()),
		relay.WithStopGrace(2*time.Second),
	)
	cfg := Config{Registry: registry, Logger: quietLogger()}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, registry
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialGateway(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	sock, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial gateway: %v (status %d)", err, status)
	}
	t.Cleanup(func() { sock.Close() })
	return sock
}

func sendControl(t *testing.T, sock *websocket.Conn, msg controlMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal control: %v", err)
	}
	if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

func startMessage() controlMessage {
	return controlMessage{
		Type:        msgTypeStart,
		TargetURL:   "rtmp://origin.example/live",
		StreamKey:   "stream-key-1",
		Width:       1280,
		Height:      720,
		FPS:         30,
		BitrateKbps: 2500,
	}
}

func readProbe(t *testing.T, sock *websocket.Conn) serverProbe {
	t.Helper()
	if err := sock.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read server message: %v", err)
	}
	var probe serverProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		t.Fatalf("decode server message %q: %v", data, err)
	}
	return probe
}

func waitForEmptyRegistry(t *testing.T, registry *relay.Registry) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(registry.ActiveSessions()) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("registry still has sessions: %+v", registry.ActiveSessions())
}

func TestGatewayRelaysStartChunksStop(t *testing.T) {
	server, registry := newGatewayServer(t, drainScript, nil)
	sock := dialGateway(t, server, nil)

	sendControl(t, sock, startMessage())
	ack := readProbe(t, sock)
	if ack.Type != msgTypeAck || ack.SessionID == "" {
		t.Fatalf("expected ack with session id, got %+v", ack)
	}

	for _, size := range []int{1000, 2000, 1500} {
		if err := sock.WriteMessage(websocket.BinaryMessage, make([]byte, size)); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}
	sendControl(t, sock, controlMessage{Type: msgTypeStop})

	status := readProbe(t, sock)
	if status.Type != msgTypeStatus {
		t.Fatalf("expected status, got %+v", status)
	}
	if status.Reason != "clean" {
		t.Fatalf("expected clean teardown, got %q", status.Reason)
	}
	if status.BytesIngested != 4500 {
		t.Fatalf("expected 4500 bytes ingested, got %d", status.BytesIngested)
	}
	if status.DurationSeconds <= 0 {
		t.Fatalf("expected positive duration, got %f", status.DurationSeconds)
	}
	waitForEmptyRegistry(t, registry)
}

func TestGatewayRejectsInvalidStart(t *testing.T) {
	server, _ := newGatewayServer(t, drainScript, nil)
	sock := dialGateway(t, server, nil)

	bad := startMessage()
	bad.Width = 0
	sendControl(t, sock, bad)

	probe := readProbe(t, sock)
	if probe.Type != msgTypeError || probe.Message == "" {
		t.Fatalf("expected error response, got %+v", probe)
	}

	// The connection survives a rejected start.
	sendControl(t, sock, startMessage())
	if ack := readProbe(t, sock); ack.Type != msgTypeAck {
		t.Fatalf("expected ack after retry, got %+v", ack)
	}
}

func TestGatewayEncoderFailureNotifiesClient(t *testing.T) {
	server, _ := newGatewayServer(t, exitOneScript, nil)
	sock := dialGateway(t, server, nil)

	sendControl(t, sock, startMessage())

	if ack := readProbe(t, sock); ack.Type != msgTypeAck {
		t.Fatalf("expected optimistic ack, got %+v", ack)
	}
	failure := readProbe(t, sock)
	if failure.Type != msgTypeError || failure.Message == "" {
		t.Fatalf("expected encoder failure message, got %+v", failure)
	}
	status := readProbe(t, sock)
	if status.Type != msgTypeStatus || status.Reason != "error" {
		t.Fatalf("expected error status, got %+v", status)
	}
}

func TestGatewayDisconnectTearsDownSession(t *testing.T) {
	server, registry := newGatewayServer(t, drainScript, nil)
	sock := dialGateway(t, server, nil)

	sendControl(t, sock, startMessage())
	if ack := readProbe(t, sock); ack.Type != msgTypeAck {
		t.Fatalf("expected ack, got %+v", ack)
	}
	if len(registry.ActiveSessions()) != 1 {
		t.Fatalf("expected one active session")
	}

	sock.Close()
	waitForEmptyRegistry(t, registry)
}

func TestGatewayStopBeforeStartIsHarmless(t *testing.T) {
	server, _ := newGatewayServer(t, drainScript, nil)
	sock := dialGateway(t, server, nil)

	sendControl(t, sock, controlMessage{Type: msgTypeStop})

	// The stop is a no-op; the connection still accepts a fresh start.
	sendControl(t, sock, startMessage())
	if ack := readProbe(t, sock); ack.Type != msgTypeAck {
		t.Fatalf("expected ack, got %+v", ack)
	}
}

func TestGatewayRejectsUnknownMessageType(t *testing.T) {
	server, _ := newGatewayServer(t, drainScript, nil)
	sock := dialGateway(t, server, nil)

	sendControl(t, sock, controlMessage{Type: "teleport"})
	probe := readProbe(t, sock)
	if probe.Type != msgTypeError || !strings.Contains(probe.Message, "teleport") {
		t.Fatalf("expected unknown-type error, got %+v", probe)
	}
}

func TestGatewayAuthToken(t *testing.T) {
	server, _ := newGatewayServer(t, drainScript, func(cfg *Config) {
		cfg.AuthToken = "relay-secret"
	})

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil); err == nil {
		t.Fatalf("expected handshake rejection without token")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}

	header := http.Header{"Authorization": []string{"Bearer relay-secret"}}
	sock := dialGateway(t, server, header)
	sendControl(t, sock, startMessage())
	if ack := readProbe(t, sock); ack.Type != msgTypeAck {
		t.Fatalf("expected ack with valid token, got %+v", ack)
	}
}

func TestGatewayOriginAllowlist(t *testing.T) {
	server, _ := newGatewayServer(t, drainScript, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://studio.example"}
	})

	badHeader := http.Header{"Origin": []string{"https://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(server), badHeader); err == nil {
		t.Fatalf("expected handshake rejection for disallowed origin")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 response, got %+v", resp)
	}

	goodHeader := http.Header{"Origin": []string{"https://studio.example"}}
	sock := dialGateway(t, server, goodHeader)
	sendControl(t, sock, startMessage())
	if ack := readProbe(t, sock); ack.Type != msgTypeAck {
		t.Fatalf("expected ack with allowed origin, got %+v", ack)
	}
}
