package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"bitriver-relay/internal/observability/logging"
	"bitriver-relay/internal/observability/metrics"
	"bitriver-relay/internal/relay"
	"bitriver-relay/internal/serverutil"
	"bitriver-relay/internal/storage"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	CORS      CORSConfig
	// APIToken guards the /api/v1 routes when set. Health and metrics stay
	// open for probes and scrapers.
	APIToken string
	// RecentSessions caps the archive records returned by the sessions API.
	RecentSessions int
	// ShutdownTimeout bounds the graceful drain when Run's context ends.
	ShutdownTimeout time.Duration
	// OnListen reports the bound address once Run is accepting connections.
	OnListen func(net.Addr)
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Deps carries the relay components the control plane fronts.
type Deps struct {
	Registry *relay.Registry
	Archive  storage.ArchiveRepository
	Relay    http.Handler
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	metrics         *metrics.Recorder
	registry        *relay.Registry
	archive         storage.ArchiveRepository
	rateLimiter     *rateLimiter
	apiToken        string
	recentLimit     int
	shutdownTimeout time.Duration
	onListen        func(net.Addr)
	tlsCertFile     string
	tlsKeyFile      string
}

func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if deps.Relay == nil {
		return nil, errors.New("server: relay handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	recentLimit := cfg.RecentSessions
	if recentLimit <= 0 {
		recentLimit = 25
	}

	srv := &Server{
		logger:          logger,
		metrics:         recorder,
		registry:        deps.Registry,
		archive:         deps.Archive,
		rateLimiter:     rl,
		apiToken:        strings.TrimSpace(cfg.APIToken),
		recentLimit:     recentLimit,
		shutdownTimeout: cfg.ShutdownTimeout,
		onListen:        cfg.OnListen,
		tlsCertFile:     strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:      strings.TrimSpace(cfg.TLS.KeyFile),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/v1/sessions", srv.handleSessions)
	mux.Handle("/ws/relay", deps.Relay)

	handlerChain := http.Handler(mux)
	handlerChain = srv.tokenAuthMiddleware(handlerChain)
	handlerChain = rateLimitMiddleware(rl, logger, handlerChain)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	srv.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: handlerChain,
		// Read and write timeouts stay unset: relay connections are
		// long-lived once upgraded.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		srv.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully. Upgraded
// relay connections are hijacked and therefore not waited on here; the
// registry tears them down.
func (s *Server) Run(ctx context.Context) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	err := serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: s.shutdownTimeout,
		OnListen:        s.onListen,
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closeErr := s.rateLimiter.Close(closeCtx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Handler exposes the full middleware chain, primarily for tests.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.URL.Path == "/ws/relay" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowStart(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeError(w, http.StatusTooManyRequests, "too many session starts")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if extractToken(r) != s.apiToken {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-Relay-Token"))
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
