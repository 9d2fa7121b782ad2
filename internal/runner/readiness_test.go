package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/psantana5/dotnet-runner/internal/host"
)

func TestProbeFor(t *testing.T) {
	if _, ok := ProbeFor(host.Host{PipeConnectBlocks: true}).(NoopProbe); !ok {
		t.Error("expected NoopProbe when pipe connect blocks")
	}
	if _, ok := ProbeFor(host.Host{}).(*SocketProbe); !ok {
		t.Error("expected SocketProbe when pipe connect does not block")
	}
}

func TestSocketPattern(t *testing.T) {
	if got := SocketPattern(1234); got != "dotnet-diagnostic-1234-*-socket" {
		t.Errorf("unexpected pattern %q", got)
	}
}

func TestSocketProbe_FindsExistingSocket(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "dotnet-diagnostic-77-1715-socket"))

	p := &SocketProbe{Dir: dir, Interval: 10 * time.Millisecond}
	if err := p.WaitReady(context.Background(), 77); err != nil {
		t.Fatalf("expected socket to be found: %v", err)
	}
}

func TestSocketProbe_WaitsUntilSocketAppears(t *testing.T) {
	dir := t.TempDir()
	p := &SocketProbe{Dir: dir, Interval: 10 * time.Millisecond}

	// Names that must not match.
	touch(t, filepath.Join(dir, "dotnet-diagnostic-770-1-socket"))
	touch(t, filepath.Join(dir, "dotnet-diagnostic-77-socket"))

	created := make(chan time.Time, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		touch(t, filepath.Join(dir, "dotnet-diagnostic-77-99-socket"))
		created <- time.Now()
	}()

	if err := p.WaitReady(context.Background(), 77); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	returned := time.Now()

	select {
	case at := <-created:
		if returned.Before(at) {
			t.Error("WaitReady returned before the socket was created")
		}
	default:
		t.Error("WaitReady returned before the socket was created")
	}
}

func TestSocketProbe_Cancelled(t *testing.T) {
	p := &SocketProbe{Dir: t.TempDir(), Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.WaitReady(ctx, 1)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled to be wrapped, got %v", err)
	}
}

func TestSocketProbe_Deadline(t *testing.T) {
	p := &SocketProbe{Dir: t.TempDir(), Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.WaitReady(ctx, 1)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected cancelled deadline error, got %v", err)
	}
}

func TestSocketProbe_MissingDirIsNotReady(t *testing.T) {
	p := &SocketProbe{Dir: filepath.Join(t.TempDir(), "missing"), Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.WaitReady(ctx, 1); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected the probe to keep polling a missing dir, got %v", err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Errorf("touch %s: %v", path, err)
	}
}
