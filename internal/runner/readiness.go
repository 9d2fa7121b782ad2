package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/psantana5/dotnet-runner/internal/host"
)

// DefaultPollInterval is how often SocketProbe looks for the socket
const DefaultPollInterval = 100 * time.Millisecond

// ReadinessProbe blocks until the diagnostic channel of pid is ready
type ReadinessProbe interface {
	WaitReady(ctx context.Context, pid int) error
}

// ProbeFor selects the readiness strategy for a host platform
func ProbeFor(h host.Host) ReadinessProbe {
	if h.PipeConnectBlocks {
		return NoopProbe{}
	}
	return &SocketProbe{}
}

// NoopProbe never waits. Used where connecting to the diagnostic named
// pipe already blocks until the runtime is listening.
type NoopProbe struct{}

// WaitReady returns immediately
func (NoopProbe) WaitReady(context.Context, int) error { return nil }

// SocketProbe polls Dir for the runtime's diagnostic socket. There is no
// attempt limit: the context is the only way out besides success.
type SocketProbe struct {
	// Dir defaults to os.TempDir().
	Dir string
	// Interval defaults to DefaultPollInterval.
	Interval time.Duration
}

// SocketPattern returns the glob the runtime's socket name matches
func SocketPattern(pid int) string {
	return fmt.Sprintf("dotnet-diagnostic-%d-*-socket", pid)
}

// WaitReady polls until a matching socket exists or ctx is done
func (p *SocketProbe) WaitReady(ctx context.Context, pid int) error {
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	prefix := fmt.Sprintf("dotnet-diagnostic-%d-", pid)
	const suffix = "-socket"

	for {
		if err := ctx.Err(); err != nil {
			return cancelled("wait for diagnostic socket", err)
		}

		found, err := hasEntry(dir, prefix, suffix)
		if err != nil {
			return fmt.Errorf("scan %s for diagnostic socket: %w", dir, err)
		}
		if found {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cancelled("wait for diagnostic socket", ctx.Err())
		case <-timer.C:
		}
	}
}

// hasEntry reports whether dir holds a name of the form prefix*suffix.
// A listing is used instead of filepath.Glob so metacharacters in dir are
// taken literally.
func hasEntry(dir, prefix, suffix string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		name := e.Name()
		if len(name) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(name, prefix) &&
			strings.HasSuffix(name, suffix) {
			return true, nil
		}
	}
	return false, nil
}
