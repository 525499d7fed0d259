// Package relay owns the lifecycle of live relay sessions: one encoder
// process per connected client, driven through a synchronized registry.
package relay

import (
	"log/slog"
	"sync"
	"time"

	"bitriver-relay/internal/encoder"
	"bitriver-relay/internal/models"
	"bitriver-relay/internal/observability/metrics"
)

// State describes where a session is in its lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateStarting
	StateLive
	StateStopping
	StateTerminated
	StateErrored
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateStarting:   "starting",
	StateLive:       "live",
	StateStopping:   "stopping",
	StateTerminated: "terminated",
	StateErrored:    "errored",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateErrored
}

// writeFailureLimit is how many consecutive failed encoder writes a session
// tolerates before it gives up and tears the encoder down.
const writeFailureLimit = 5

// Summary is the terminal report delivered to the client exactly once.
type Summary struct {
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"durationSeconds"`
	BytesIngested   int64   `json:"bytesIngested"`
}

// Events receives session lifecycle notifications destined for one client.
// Calls arrive on session goroutines, so implementations should hand off
// promptly instead of blocking.
type Events interface {
	SessionLive(sessionID string)
	SessionError(sessionID, message string)
	SessionEnded(sessionID string, summary Summary)
}

type noopEvents struct{}

func (noopEvents) SessionLive(string)           {}
func (noopEvents) SessionError(string, string)  {}
func (noopEvents) SessionEnded(string, Summary) {}

// Session supervises a single encoder process on behalf of one client
// connection. All state transitions are serialized behind its mutex; media
// writes happen outside it so stop and exit handling stay responsive while
// the encoder applies backpressure.
type Session struct {
	id        string
	connID    string
	config    encoder.Config
	keyDigest string
	binary    string
	stopGrace time.Duration
	logger    *slog.Logger
	metrics   *metrics.Recorder
	events    Events
	onFinal   func(*Session, models.SessionRecord)
	now       func() time.Time
	terminal  chan struct{}

	mu             sync.Mutex
	state          State
	sup            *encoder.Supervisor
	startedAt      time.Time
	bytes          int64
	writeFailures  int
	writeEscalated bool
	stopRequested  bool
	clientGone     bool
	finalized      bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ConnectionID returns the owning connection identifier.
func (s *Session) ConnectionID() string { return s.connID }

// TargetURL returns the configured target without the stream key.
func (s *Session) TargetURL() string { return s.config.TargetBaseURL }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesIngested returns how many chunk bytes have been accepted so far.
func (s *Session) BytesIngested() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// PID returns the encoder process id, or zero once the process is gone.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil || s.finalized {
		return 0
	}
	return s.sup.PID()
}

// Snapshot returns the session's externally visible state.
func (s *Session) Snapshot() models.ActiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var startedAt *time.Time
	if !s.startedAt.IsZero() {
		ts := s.startedAt
		startedAt = &ts
	}
	return models.ActiveSession{
		ID:            s.id,
		ConnectionID:  s.connID,
		State:         s.state.String(),
		TargetURL:     s.config.TargetBaseURL,
		StartedAt:     startedAt,
		BytesIngested: s.bytes,
	}
}

// WaitTerminal blocks until the session reaches a terminal state, archival
// and registry cleanup included, or the timeout elapses.
func (s *Session) WaitTerminal(timeout time.Duration) bool {
	select {
	case <-s.terminal:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Session) start(args []string) error {
	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()

	sup, err := encoder.Start(args,
		encoder.WithBinary(s.binary),
		encoder.WithLogger(s.logger),
		encoder.WithStopGrace(s.stopGrace),
	)
	if err != nil {
		s.mu.Lock()
		s.state = StateErrored
		s.mu.Unlock()
		return err
	}

	startedAt := s.now()
	s.mu.Lock()
	s.sup = sup
	stopRaced := s.stopRequested
	notify := !s.clientGone && !stopRaced
	if !stopRaced {
		s.state = StateLive
		s.startedAt = startedAt
	}
	s.mu.Unlock()

	// The gauge must rise before the exit watcher can settle the session,
	// or a fast-exiting encoder would decrement first.
	s.metrics.SessionStarted()

	if stopRaced {
		// A stop or disconnect arrived while the process was spawning.
		go s.watchExit(sup)
		sup.RequestStop()
		return nil
	}

	s.logger.Info("session live",
		"target", s.config.TargetBaseURL,
		"width", s.config.Width,
		"height", s.config.Height,
		"pid", sup.PID(),
	)
	if notify {
		s.events.SessionLive(s.id)
	}
	go s.watchExit(sup)
	return nil
}

func (s *Session) watchExit(sup *encoder.Supervisor) {
	status := <-sup.Done()
	s.finalize(status)
}

// Forward hands one media chunk to the encoder. It blocks while the encoder
// applies backpressure, so the caller should not read further chunks from its
// client until it returns. Chunks arriving after a stop or in a terminal
// state are dropped.
func (s *Session) Forward(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	if s.finalized || s.sup == nil || (s.state != StateLive && s.state != StateStopping) {
		s.mu.Unlock()
		return
	}
	stopping := s.stopRequested
	sup := s.sup
	s.mu.Unlock()

	err := sup.Write(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	if err != nil {
		if stopping || s.stopRequested {
			// Best-effort after stop: the pipe is expected to close.
			return
		}
		s.writeFailures++
		s.metrics.EncoderWriteFailure()
		s.logger.Warn("encoder write failed",
			"failures", s.writeFailures,
			"error", err,
		)
		if s.writeFailures >= writeFailureLimit && !s.writeEscalated {
			s.writeEscalated = true
			s.logger.Error("encoder writes keep failing, stopping session",
				"limit", writeFailureLimit,
			)
			s.requestStopLocked()
		}
		return
	}
	s.writeFailures = 0
	s.bytes += int64(len(chunk))
	s.metrics.AddBytesIngested(int64(len(chunk)))
}

// Stop requests an orderly shutdown. It returns immediately; the terminal
// summary follows once the encoder exits or the stop grace expires.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestStopLocked()
}

// Disconnect tears the session down after its client transport vanished. No
// further notifications are sent to the client.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clientGone {
		s.clientGone = true
		if !s.finalized {
			s.logger.Info("stopping session", "cause", ErrTransportLost)
		}
	}
	s.requestStopLocked()
}

func (s *Session) requestStopLocked() {
	switch s.state {
	case StateStarting, StateLive:
		s.state = StateStopping
		s.stopRequested = true
		if s.sup != nil {
			s.sup.RequestStop()
		}
	case StateStopping:
		s.stopRequested = true
	}
}

// finalize runs exactly once, on the exit-watch goroutine, and settles the
// terminal state, the client summary, and the archived record.
func (s *Session) finalize(status encoder.ExitStatus) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.finalized = true

	endedAt := s.now()
	reason := models.ReasonClean
	failure := ""
	switch {
	case status.Err != nil:
		reason = models.ReasonError
		failure = status.Err.Error()
	case s.writeEscalated:
		reason = models.ReasonError
		failure = "encoder rejected ingest writes repeatedly"
	}
	if reason == models.ReasonError {
		s.state = StateErrored
	} else {
		s.state = StateTerminated
	}

	var startedAt *time.Time
	duration := 0.0
	if !s.startedAt.IsZero() {
		ts := s.startedAt
		startedAt = &ts
		duration = endedAt.Sub(s.startedAt).Seconds()
	}
	record := models.SessionRecord{
		ID:              s.id,
		ConnectionID:    s.connID,
		TargetURL:       s.config.TargetBaseURL,
		StreamKeyDigest: s.keyDigest,
		Width:           s.config.Width,
		Height:          s.config.Height,
		FPS:             s.config.FPS,
		BitrateKbps:     s.config.BitrateKbps,
		HardwareAccel:   s.config.UseHardwareAccel,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DurationSeconds: duration,
		BytesIngested:   s.bytes,
		Reason:          reason,
		Error:           failure,
	}
	summary := Summary{
		Reason:          reason,
		DurationSeconds: duration,
		BytesIngested:   record.BytesIngested,
	}
	notify := !s.clientGone
	s.mu.Unlock()

	if reason == models.ReasonError {
		s.logger.Warn("session errored",
			"exitCode", status.Code,
			"bytesIngested", record.BytesIngested,
			"error", failure,
		)
	} else {
		s.logger.Info("session ended",
			"bytesIngested", record.BytesIngested,
			"durationSeconds", duration,
		)
	}

	if notify {
		if reason == models.ReasonError {
			s.events.SessionError(s.id, failure)
		}
		s.events.SessionEnded(s.id, summary)
	}
	if s.onFinal != nil {
		s.onFinal(s, record)
	}
	close(s.terminal)
}
