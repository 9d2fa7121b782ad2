// Package runner launches a .NET entrypoint under the shared host and
// supervises the resulting process: redirected standard streams, an
// optional wait for the runtime's diagnostic channel, cancellable waiting
// for exit and forced termination.
//
// A Runner is started at most once. Callers may read its streams while
// another goroutine waits for exit, but Start and Dispose must not race
// each other on the same Runner.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/dotnet-runner/internal/host"
	"github.com/psantana5/dotnet-runner/pkg/logging"
)

// DefaultDisposeTimeout bounds how long Dispose waits for a killed process
// to be reaped
const DefaultDisposeTimeout = 5 * time.Second

const tracerName = "github.com/psantana5/dotnet-runner/internal/runner"

// Runner supervises one run of the .NET host
type Runner struct {
	// Arguments is appended verbatim to the command line.
	Arguments string

	// EntrypointAssemblyPath is the assembly the host executes.
	EntrypointAssemblyPath string

	// WaitForDiagnosticPipe makes Start wait until the runtime's diagnostic
	// channel is ready.
	WaitForDiagnosticPipe bool

	host           host.Host
	id             string
	env            map[string]string
	logger         *logging.Logger
	recorder       Recorder
	probe          ReadinessProbe
	tracer         trace.Tracer
	disposeTimeout time.Duration

	// exited is fired once by waitLoop, the only exit hook.
	exited *ExitSignal

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	pipes     *pipeSet
	startedAt time.Time
	killed    bool
	exitCode  int
	exitErr   error
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets the lifecycle recorder
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithReadinessProbe overrides the probe selected from the host platform
func WithReadinessProbe(p ReadinessProbe) Option {
	return func(r *Runner) {
		r.probe = p
	}
}

// WithDisposeTimeout sets how long Dispose waits for the exit signal
func WithDisposeTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.disposeTimeout = d
		}
	}
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// New creates an unstarted runner for h. No process is created.
func New(h host.Host, opts ...Option) *Runner {
	r := &Runner{
		host:           h,
		id:             uuid.NewString(),
		env:            make(map[string]string),
		logger:         logging.Nop(),
		recorder:       nopRecorder{},
		tracer:         otel.Tracer(tracerName),
		disposeTimeout: DefaultDisposeTimeout,
		exited:         NewExitSignal(),
		exitCode:       -1,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.WithComponent("runner").WithField("runner_id", r.id)
	return r
}

// ID returns the runner's correlation ID
func (r *Runner) ID() string {
	return r.id
}

// Host returns the host the runner launches
func (r *Runner) Host() host.Host {
	return r.host
}

// Environment returns the environment overrides. Entries set before Start
// are merged over the parent environment; later changes have no effect.
func (r *Runner) Environment() map[string]string {
	return r.env
}

// CommandLine returns the arguments handed to the host
func (r *Runner) CommandLine() string {
	return fmt.Sprintf("--fx-version %s \"%s\" %s", r.host.RuntimeVersion, r.EntrypointAssemblyPath, r.Arguments)
}

// State returns the current lifecycle state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the process. When WaitForDiagnosticPipe is set it then
// waits for the diagnostic channel; cancelling ctx ends that wait with
// ErrCancelled and leaves the process running.
func (r *Runner) Start(ctx context.Context) (err error) {
	ctx, span := r.tracer.Start(ctx, "runner.start", trace.WithAttributes(
		attribute.String("runner.id", r.id),
		attribute.String("runner.entrypoint", r.EntrypointAssemblyPath),
		attribute.Bool("runner.wait_for_diagnostic_pipe", r.WaitForDiagnosticPipe),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	pid, err := r.launch()
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("process.pid", pid))

	if !r.WaitForDiagnosticPipe {
		return nil
	}

	probe := r.probe
	if probe == nil {
		probe = ProbeFor(r.host)
	}

	r.logger.Debug("Waiting for diagnostic channel", logging.Fields{"pid": pid})
	begin := time.Now()
	err = probe.WaitReady(ctx, pid)
	if err != nil && !errors.Is(err, ErrCancelled) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = cancelled("wait for diagnostic channel", err)
	}
	r.recorder.ReadinessWaited(time.Since(begin), err)
	if err != nil {
		r.logger.Warn("Diagnostic channel not ready", logging.Fields{"pid": pid, "error": err.Error()})
		return err
	}

	r.logger.Debug("Diagnostic channel ready", logging.Fields{"pid": pid, "waited": time.Since(begin).String()})
	return nil
}

// launch creates the OS process and starts the exit watcher
func (r *Runner) launch() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateUnstarted:
	case StateDisposed:
		return 0, ErrDisposed
	default:
		return 0, ErrAlreadyStarted
	}

	commandLine := r.CommandLine()
	launchErr := func(err error) error {
		r.recorder.LaunchFailed()
		r.logger.Error("Launch failed", logging.Fields{"path": r.host.ExePath, "error": err.Error()})
		return &LaunchError{Path: r.host.ExePath, CommandLine: commandLine, Err: err}
	}

	args := []string{"--fx-version", r.host.RuntimeVersion, r.EntrypointAssemblyPath}
	if !rawCommandLine {
		args = append(args, SplitArguments(r.Arguments)...)
	}

	cmd := exec.Command(r.host.ExePath, args...)
	applyCommandLine(cmd, commandLine)
	cmd.Env = mergeEnv(os.Environ(), r.env)

	pipes, err := openPipes()
	if err != nil {
		return 0, launchErr(err)
	}
	cmd.Stdin = pipes.stdinR
	cmd.Stdout = pipes.stdoutW
	cmd.Stderr = pipes.stderrW

	if err := cmd.Start(); err != nil {
		pipes.closeAll()
		return 0, launchErr(err)
	}

	// The child holds its own copies now; dropping ours lets stdout and
	// stderr reach EOF once the child exits.
	pipes.closeChildEnds()

	r.cmd = cmd
	r.pipes = pipes
	r.state = StateRunning
	r.startedAt = time.Now()

	pid := cmd.Process.Pid
	r.recorder.Launched()
	r.logger.Info("Process started", logging.Fields{"pid": pid, "path": r.host.ExePath, "args": commandLine})

	go r.waitLoop(cmd)

	return pid, nil
}

// waitLoop reaps the process and fires the exit signal exactly once
func (r *Runner) waitLoop(cmd *exec.Cmd) {
	err := cmd.Wait()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = exitStatus(cmd.ProcessState)
	}

	r.mu.Lock()
	r.exitCode = exitCode
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		r.exitErr = err
	}
	if r.state == StateRunning || r.state == StateForceClosed {
		r.state = StateExited
	}
	killed := r.killed
	elapsed := time.Since(r.startedAt)
	r.mu.Unlock()

	r.recorder.Exited(exitCode, killed, elapsed)
	r.logger.Info("Process exited", logging.Fields{
		"pid":       cmd.Process.Pid,
		"exit_code": exitCode,
		"killed":    killed,
		"runtime":   elapsed.String(),
	})

	r.exited.Fire()
}

// WaitForExit blocks until the process exits or ctx is done. Cancellation
// neither kills the process nor consumes the exit signal.
func (r *Runner) WaitForExit(ctx context.Context) error {
	if !r.launched() {
		return ErrNotStarted
	}
	if r.exited.Fired() {
		return nil
	}

	_, span := r.tracer.Start(ctx, "runner.wait_for_exit", trace.WithAttributes(
		attribute.String("runner.id", r.id),
	))
	defer span.End()

	select {
	case <-r.exited.Done():
		return nil
	case <-ctx.Done():
		if r.exited.Fired() {
			return nil
		}
		err := cancelled("wait for exit", ctx.Err())
		span.RecordError(err)
		return err
	}
}

// ForceClose kills the process without waiting for the exit signal. It is
// a no-op before Start and after exit. A process that exits between the
// check and the kill is not an error and is not reported as killed.
func (r *Runner) ForceClose() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := r.cmd
	if cmd == nil || r.exited.Fired() {
		return nil
	}

	_, span := r.tracer.Start(context.Background(), "runner.force_close", trace.WithAttributes(
		attribute.String("runner.id", r.id),
		attribute.Int("process.pid", cmd.Process.Pid),
	))
	defer span.End()

	// Holding mu across the kill keeps waitLoop from reading killed before
	// it is set.
	if err := cmd.Process.Kill(); err != nil {
		if isProcessGone(err) {
			r.logger.Debug("Process already gone at kill", logging.Fields{"pid": cmd.Process.Pid})
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("kill pid %d: %w", cmd.Process.Pid, err)
	}

	r.killed = true
	if r.state == StateRunning {
		r.state = StateForceClosed
	}
	r.recorder.KillIssued()
	r.logger.Info("Kill issued", logging.Fields{"pid": cmd.Process.Pid})
	return nil
}

// Dispose kills the process if it is still running, waits up to the
// dispose timeout for it to be reaped and closes every stream. Safe to
// call more than once and in any state.
func (r *Runner) Dispose() error {
	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return nil
	}
	started := r.cmd != nil
	r.mu.Unlock()

	err := r.ForceClose()

	if started {
		timer := time.NewTimer(r.disposeTimeout)
		select {
		case <-r.exited.Done():
		case <-timer.C:
			r.logger.Warn("Process not reaped before dispose timeout", logging.Fields{"timeout": r.disposeTimeout.String()})
		}
		timer.Stop()
	}

	r.mu.Lock()
	r.state = StateDisposed
	pipes := r.pipes
	r.pipes = nil
	r.mu.Unlock()

	if pipes != nil {
		pipes.closeParentEnds()
	}

	return err
}

// Exited returns a channel closed when the process exits
func (r *Runner) Exited() <-chan struct{} {
	return r.exited.Done()
}

// HasExited reports whether the OS reported the process terminated
func (r *Runner) HasExited() bool {
	return r.exited.Fired()
}

// Killed reports whether ForceClose issued a kill while the process ran
func (r *Runner) Killed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killed
}

// StartedAt returns when the process was launched
func (r *Runner) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

func (r *Runner) launched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}

// ProcessID returns the OS process ID
func (r *Runner) ProcessID() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return 0, ErrNotStarted
	}
	return r.cmd.Process.Pid, nil
}

// ExitCode returns the exit code. On Unix a process terminated by a signal
// reports 128 plus the signal number, 137 after ForceClose.
func (r *Runner) ExitCode() (int, error) {
	if !r.launched() {
		return 0, ErrNotStarted
	}
	if !r.exited.Fired() {
		return 0, ErrNotExited
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode, nil
}

// WaitError returns an error from reaping the process that is not a plain
// non-zero exit, or nil
func (r *Runner) WaitError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitErr
}

// Stdin returns the writable end of the process's standard input
func (r *Runner) Stdin() (io.WriteCloser, error) {
	p, err := r.streams()
	if err != nil {
		return nil, err
	}
	return p.stdinW, nil
}

// Stdout returns the readable end of the process's standard output
func (r *Runner) Stdout() (io.ReadCloser, error) {
	p, err := r.streams()
	if err != nil {
		return nil, err
	}
	return p.stdoutR, nil
}

// Stderr returns the readable end of the process's standard error
func (r *Runner) Stderr() (io.ReadCloser, error) {
	p, err := r.streams()
	if err != nil {
		return nil, err
	}
	return p.stderrR, nil
}

func (r *Runner) streams() (*pipeSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.state == StateDisposed:
		return nil, ErrDisposed
	case r.pipes == nil:
		return nil, ErrNotStarted
	}
	return r.pipes, nil
}

// mergeEnv overlays overrides on a KEY=VALUE environment
func mergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' && i > 0 {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
