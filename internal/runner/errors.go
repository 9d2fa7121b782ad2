package runner

import (
	"errors"
	"fmt"
)

// Sentinel errors for the runner package.
var (
	// ErrLaunchFailed is matched by every *LaunchError.
	ErrLaunchFailed = errors.New("launch failed")

	// ErrCancelled is returned when a context ends a readiness wait or an
	// exit wait. The context error is wrapped alongside it.
	ErrCancelled = errors.New("operation cancelled")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("runner already started")

	// ErrNotStarted is returned by accessors used before a successful Start.
	ErrNotStarted = errors.New("runner not started")

	// ErrNotExited is returned by ExitCode while the process is running.
	ErrNotExited = errors.New("process has not exited")

	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("runner disposed")
)

// LaunchError reports that the OS could not create the process. A process
// that starts and then crashes is not a launch failure.
type LaunchError struct {
	Path        string
	CommandLine string
	Err         error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("unable to start: %s %s: %v", e.Path, e.CommandLine, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunchFailed, e.Err}
}

// cancelled wraps a context error so callers can match either ErrCancelled
// or context.Canceled / context.DeadlineExceeded
func cancelled(op string, ctxErr error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCancelled, ctxErr)
}
