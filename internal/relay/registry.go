package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bitriver-relay/internal/encoder"
	"bitriver-relay/internal/events"
	"bitriver-relay/internal/models"
	"bitriver-relay/internal/observability/metrics"
	"bitriver-relay/internal/storage"
)

const (
	// DefaultTeardownWait bounds how long Begin blocks while replacing an
	// existing session for the same connection.
	DefaultTeardownWait = 5 * time.Second
	// finalizeTimeout bounds archive writes and event publishes performed
	// when a session settles.
	finalizeTimeout = 5 * time.Second
)

// Registry tracks at most one session per connection and is the only state
// shared between connections. It is safe for concurrent use.
type Registry struct {
	logger       *slog.Logger
	metrics      *metrics.Recorder
	archive      storage.ArchiveRepository
	queue        events.Queue
	binary       string
	stopGrace    time.Duration
	teardownWait time.Duration
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option mutates registry configuration.
type Option func(*Registry)

// WithArchive installs the repository that receives terminal records.
func WithArchive(archive storage.ArchiveRepository) Option {
	return func(r *Registry) {
		r.archive = archive
	}
}

// WithQueue installs the queue that receives lifecycle events.
func WithQueue(queue events.Queue) Option {
	return func(r *Registry) {
		r.queue = queue
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(r *Registry) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// WithEncoderBinary overrides the encoder binary, mainly for tests.
func WithEncoderBinary(binary string) Option {
	return func(r *Registry) {
		if strings.TrimSpace(binary) != "" {
			r.binary = binary
		}
	}
}

// WithStopGrace overrides how long a stopping encoder may drain before it is
// killed.
func WithStopGrace(grace time.Duration) Option {
	return func(r *Registry) {
		if grace > 0 {
			r.stopGrace = grace
		}
	}
}

// WithTeardownWait overrides how long Begin waits for a replaced session to
// settle.
func WithTeardownWait(wait time.Duration) Option {
	return func(r *Registry) {
		if wait > 0 {
			r.teardownWait = wait
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry initialises an empty session registry.
func NewRegistry(opts ...Option) *Registry {
	registry := &Registry{
		binary:       encoder.DefaultBinary,
		stopGrace:    encoder.DefaultStopGrace,
		teardownWait: DefaultTeardownWait,
		now:          func() time.Time { return time.Now().UTC() },
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	if registry.logger == nil {
		registry.logger = slog.Default()
	}
	if registry.metrics == nil {
		registry.metrics = metrics.Default()
	}
	return registry
}

// Begin starts a session for connID. When the connection already owns a
// non-terminal session it is torn down first, bounded by the teardown wait.
// Nothing is registered when the config is rejected or the encoder fails to
// spawn; both surface synchronously to the caller.
func (r *Registry) Begin(connID string, cfg encoder.Config, sink Events) (*Session, error) {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return nil, &encoder.ConfigError{Reason: "connection id is required"}
	}
	args, err := encoder.Build(cfg)
	if err != nil {
		return nil, err
	}
	keyDigest, err := storage.DigestStreamKey(cfg.StreamKey)
	if err != nil {
		return nil, fmt.Errorf("digest stream key: %w", err)
	}

	if prior, ok := r.Lookup(connID); ok {
		r.logger.Info("replacing active session",
			"connectionId", connID,
			"sessionId", prior.ID(),
		)
		prior.Stop()
		if !prior.WaitTerminal(r.teardownWait) {
			r.logger.Warn("replaced session did not settle in time",
				"connectionId", connID,
				"sessionId", prior.ID(),
			)
			r.remove(prior)
		}
	}

	if sink == nil {
		sink = noopEvents{}
	}
	session := &Session{
		id:        uuid.NewString(),
		connID:    connID,
		config:    cfg,
		keyDigest: keyDigest,
		binary:    r.binary,
		stopGrace: r.stopGrace,
		metrics:   r.metrics,
		events:    sink,
		onFinal:   r.finalize,
		now:       r.now,
		terminal:  make(chan struct{}),
		state:     StateIdle,
	}
	session.logger = r.logger.With("sessionId", session.id, "connectionId", connID)

	if err := session.start(args); err != nil {
		r.logger.Warn("session start failed", "connectionId", connID, "error", err)
		return nil, err
	}

	r.mu.Lock()
	displaced := r.sessions[connID]
	r.sessions[connID] = session
	r.mu.Unlock()
	if displaced != nil && displaced != session {
		// A concurrent Begin slipped in between teardown and insert.
		r.logger.Warn("displaced concurrent session",
			"connectionId", connID,
			"sessionId", displaced.ID(),
		)
		displaced.Stop()
	}

	// An encoder that exits immediately can settle before the insert above.
	// Its finalize pass found nothing to remove, so sweep it here.
	session.mu.Lock()
	settled := session.finalized
	session.mu.Unlock()
	if settled {
		r.remove(session)
	}

	r.publish(events.TypeSessionStarted, session, nil)
	return session, nil
}

// End requests an orderly stop for the session bound to connID. A stop with
// no active session is a no-op, so repeated requests are safe.
func (r *Registry) End(connID string) {
	if session, ok := r.Lookup(connID); ok {
		session.Stop()
	}
}

// Disconnect tears down the session bound to connID after its transport
// vanished.
func (r *Registry) Disconnect(connID string) {
	if session, ok := r.Lookup(connID); ok {
		session.Disconnect()
	}
}

// Lookup returns the session currently bound to connID.
func (r *Registry) Lookup(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connID]
	return session, ok
}

// ActiveSessions snapshots every registered session, ordered by connection
// id.
func (r *Registry) ActiveSessions() []models.ActiveSession {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	out := make([]models.ActiveSession, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// ActivePIDs lists the encoder process ids of running sessions.
func (r *Registry) ActivePIDs() []int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	pids := make([]int, 0, len(sessions))
	for _, session := range sessions {
		if pid := session.PID(); pid > 0 {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids
}

// Shutdown stops every active session and waits for each to settle or the
// context to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
	for _, session := range sessions {
		select {
		case <-session.terminal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[s.connID]; ok && current == s {
		delete(r.sessions, s.connID)
	}
	r.mu.Unlock()
}

// finalize runs on the session's exit-watch goroutine once the terminal
// record is settled.
func (r *Registry) finalize(s *Session, record models.SessionRecord) {
	r.remove(s)
	r.metrics.SessionEnded(record.Reason)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if r.archive != nil {
		if err := r.archive.SaveRecord(ctx, record); err != nil {
			r.logger.Error("archive session record failed",
				"sessionId", record.ID,
				"error", err,
			)
		}
	}

	evtType := events.TypeSessionEnded
	if record.Reason == models.ReasonError {
		evtType = events.TypeSessionErrored
	}
	r.publish(evtType, s, &record)
}

func (r *Registry) publish(evtType events.Type, s *Session, record *models.SessionRecord) {
	if r.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	event := events.Event{
		ID:           uuid.NewString(),
		Type:         evtType,
		SessionID:    s.ID(),
		ConnectionID: s.ConnectionID(),
		TargetURL:    s.TargetURL(),
		Record:       record,
		OccurredAt:   r.now(),
	}
	if err := r.queue.Publish(ctx, event); err != nil {
		r.logger.Warn("publish session event failed",
			"type", string(evtType),
			"sessionId", s.ID(),
			"error", err,
		)
		r.metrics.ObserveQueueEvent("publish_failed")
		return
	}
	r.metrics.ObserveQueueEvent("published")
}
