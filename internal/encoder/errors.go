package encoder

import "fmt"

// ConfigError reports invalid encode parameters supplied with a start request.
// It is surfaced synchronously; no process is spawned.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid encoder config: %s", e.Reason)
}

// SpawnError reports that the encoder binary could not be located or started.
// Spawn failures are fatal to the start attempt and are never retried.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn encoder %q: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed write to the encoder's input pipe. The pipe may
// close at any time if the process exits, so callers treat this as recoverable
// and rely on the exit notification for terminal state.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to encoder: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ExitError reports abnormal encoder termination. Code is -1 when the process
// was terminated by a signal.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("encoder exited with code %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
