package encoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBinary is the encoder executable used when none is configured.
const DefaultBinary = "ffmpeg"

// DefaultStopGrace bounds how long a stopped encoder may run on after its
// input pipe closes before it is killed.
const DefaultStopGrace = 3 * time.Second

// ExitStatus is the terminal observation for one encoder process, delivered
// exactly once on the supervisor's Done channel.
type ExitStatus struct {
	Code         int
	Err          error
	BytesWritten int64
}

// Supervisor owns exactly one encoder process. It serializes writes to the
// input pipe, keeps the diagnostic stream drained for the lifetime of the
// process, and reports exit exactly once.
type Supervisor struct {
	binary string
	logger *slog.Logger
	grace  time.Duration

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser

	mu    sync.Mutex
	bytes int64

	closed   atomic.Bool
	stopOnce sync.Once
	exited   chan struct{}
	done     chan ExitStatus
}

// Option customises a Supervisor before its process starts.
type Option func(*Supervisor)

// WithBinary overrides the encoder executable.
func WithBinary(binary string) Option {
	return func(s *Supervisor) {
		if binary != "" {
			s.binary = binary
		}
	}
}

// WithLogger routes supervisor and encoder diagnostics through the provided
// logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStopGrace overrides the grace period between closing the input pipe and
// killing the process.
func WithStopGrace(grace time.Duration) Option {
	return func(s *Supervisor) {
		if grace > 0 {
			s.grace = grace
		}
	}
}

// Start spawns the encoder with the given argument list, wiring stdin as the
// media input pipe and draining stdout/stderr into logs. A spawn failure is
// fatal to the start attempt and is never retried.
func Start(args []string, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		binary: DefaultBinary,
		grace:  DefaultStopGrace,
		exited: make(chan struct{}),
		done:   make(chan ExitStatus, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, s.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, &SpawnError{Binary: s.binary, Err: err}
	}
	cmd.Stdout = &logWriter{logger: s.logger, stream: "stdout", level: slog.LevelDebug}
	cmd.Stderr = &logWriter{logger: s.logger, stream: "stderr", level: slog.LevelInfo}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &SpawnError{Binary: s.binary, Err: err}
	}

	s.cmd = cmd
	s.cancel = cancel
	s.stdin = stdin
	s.logger.Info("encoder started", "binary", s.binary, "pid", cmd.Process.Pid)

	go s.wait()
	return s, nil
}

func (s *Supervisor) wait() {
	err := s.cmd.Wait()
	s.closed.Store(true)
	status := ExitStatus{BytesWritten: s.BytesWritten()}
	if err != nil {
		status.Code = exitCode(err)
		status.Err = &ExitError{Code: status.Code, Err: err}
		s.logger.Warn("encoder exited", "code", status.Code, "error", err, "bytes_written", status.BytesWritten)
	} else {
		s.logger.Info("encoder exited cleanly", "bytes_written", status.BytesWritten)
	}
	s.cancel()
	close(s.exited)
	s.done <- status
}

var errPipeClosed = errors.New("input pipe closed")

// Write appends raw bytes to the encoder's input pipe. Writes are serialized
// relative to each other; a closed pipe yields a recoverable WriteError, never
// a fault.
func (s *Supervisor) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return &WriteError{Err: errPipeClosed}
	}
	if _, err := s.stdin.Write(p); err != nil {
		return &WriteError{Err: err}
	}
	s.bytes += int64(len(p))
	return nil
}

// BytesWritten reports the cumulative bytes accepted by the input pipe.
func (s *Supervisor) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// RequestStop closes the input pipe to signal end-of-stream, then kills the
// process if it outlives the grace period. It never blocks; completion is
// observed via Done.
func (s *Supervisor) RequestStop() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		if err := s.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.logger.Debug("close encoder stdin", "error", err)
		}
		go func() {
			select {
			case <-s.exited:
			case <-time.After(s.grace):
				s.logger.Warn("encoder still running after grace period, killing", "grace", s.grace.String())
				s.cancel()
			}
		}()
	})
}

// Done exposes the one-shot exit notification. Exactly one ExitStatus is
// delivered per process.
func (s *Supervisor) Done() <-chan ExitStatus {
	return s.done
}

// PID returns the operating-system process ID of the encoder.
func (s *Supervisor) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

type logWriter struct {
	logger *slog.Logger
	stream string
	level  slog.Level
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Log(context.Background(), w.level, "encoder output", "stream", w.stream, "line", string(line))
	}
	return total, nil
}
