package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/dotnet-runner/internal/host"
	"github.com/psantana5/dotnet-runner/internal/observe"
	"github.com/psantana5/dotnet-runner/internal/profile"
	"github.com/psantana5/dotnet-runner/internal/report"
	"github.com/psantana5/dotnet-runner/internal/runner"
	"github.com/psantana5/dotnet-runner/pkg/logging"
	"github.com/psantana5/dotnet-runner/pkg/shutdown"
	"github.com/psantana5/dotnet-runner/pkg/tracing"
)

// streamDrainTimeout bounds how long output copying may run after exit.
// A grandchild that inherited stdout can keep the pipe open indefinitely.
const streamDrainTimeout = 2 * time.Second

var (
	profilePath    string
	argText        string
	envPairs       []string
	waitDiagnostic bool
	runTimeout     time.Duration
	readyTimeout   time.Duration
	dryRun         bool
	metricsAddr    string
	otlpEndpoint   string
	forwardStdin   bool
	printMetrics   bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <entrypoint.dll> [-- args...]",
	Short: "Launch an entrypoint and supervise it until exit",
	Long: `Run launches the entrypoint assembly under the dotnet host pinned to the
resolved runtime version, streams its stdout and stderr, and waits for it to
exit. On timeout, SIGINT or SIGTERM the process is killed. A report is written
to stderr and dnrun exits with the process's exit code.

Example:
  dnrun run ./bin/Api.dll -- --urls http://0.0.0.0:8080
  dnrun run --wait-diagnostic --ready-timeout 20s ./bin/Worker.dll
  dnrun run --profile staging.yaml --env DOTNET_gcServer=1 --output json
  dnrun run --dry-run ./bin/Tool.dll -- --help`,
	RunE: runEntrypoint,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print an example run profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := io.WriteString(cmd.OutOrStdout(), profile.ExampleProfile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(profileCmd)

	runCmd.Flags().StringVar(&profilePath, "profile", "", "YAML run profile (see 'dnrun profile')")
	runCmd.Flags().StringVar(&argText, "args", "", "argument text appended to the host command line")
	runCmd.Flags().StringArrayVar(&envPairs, "env", nil, "environment override KEY=VALUE (repeatable)")
	runCmd.Flags().BoolVar(&waitDiagnostic, "wait-diagnostic", false, "wait for the runtime's diagnostic channel before streaming")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "kill the process after this long (0 = no limit)")
	runCmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 30*time.Second, "limit on the diagnostic channel wait")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the host command line and exit")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while running")
	runCmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "export traces to this OTLP/HTTP collector (host:port)")
	runCmd.Flags().BoolVar(&forwardStdin, "stdin", false, "forward dnrun's stdin to the process")
	runCmd.Flags().BoolVar(&printMetrics, "print-metrics", false, "dump run metrics in Prometheus text format after the report")

	viper.BindPFlag("metrics.addr", runCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("tracing.otlp_endpoint", runCmd.Flags().Lookup("otlp-endpoint"))
}

// runSettings is the merged view of profile, config and flags
type runSettings struct {
	profile *profile.Profile
	opts    *profile.RunOptions
	env     map[string]string
}

func loadSettings(cmd *cobra.Command, args []string) (*runSettings, error) {
	var (
		p   *profile.Profile
		err error
	)
	if profilePath != "" {
		p, err = profile.Load(profilePath)
	} else {
		p, err = profile.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		p.Entrypoint = args[0]
	}
	if p.Entrypoint == "" {
		return nil, errors.New("no entrypoint assembly given")
	}

	flags := cmd.Flags()
	if flags.Changed("args") {
		p.Arguments = argText
	}
	if len(args) > 1 {
		extra := runner.JoinArguments(args[1:])
		if p.Arguments != "" {
			p.Arguments += " " + extra
		} else {
			p.Arguments = extra
		}
	}
	if flags.Changed("wait-diagnostic") {
		p.WaitForDiagnosticPipe = waitDiagnostic
	}

	opts, err := p.ToRunOptions()
	if err != nil {
		return nil, err
	}
	if flags.Changed("timeout") {
		opts.Timeout = runTimeout
	}
	if flags.Changed("ready-timeout") {
		opts.ReadyTimeout = readyTimeout
	}

	overrides, err := parseEnvPairs(envPairs)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(p.Environment)+len(overrides))
	for k, v := range p.Environment {
		env[k] = v
	}
	p.ApplyBindings(env)
	for k, v := range overrides {
		env[k] = v
	}

	return &runSettings{profile: p, opts: opts, env: env}, nil
}

func runEntrypoint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger()
	defer logger.Close()

	settings, err := loadSettings(cmd, args)
	if err != nil {
		return err
	}

	h, err := host.Resolve(ctx, viper.GetViper())
	if err != nil {
		return err
	}

	endpoint := viper.GetString("tracing.otlp_endpoint")
	provider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "dnrun",
		ServiceVersion: Version,
		Environment:    viper.GetString("environment"),
		OTLPEndpoint:   endpoint,
		Enabled:        endpoint != "",
	}, logger)
	if err != nil {
		return err
	}

	metrics := report.NewMetrics()
	r := runner.New(h,
		runner.WithLogger(logger),
		runner.WithRecorder(metrics),
		runner.WithTracer(provider.Tracer()),
	)
	r.EntrypointAssemblyPath = settings.profile.Entrypoint
	r.Arguments = settings.profile.Arguments
	r.WaitForDiagnosticPipe = settings.profile.WaitForDiagnosticPipe
	for k, v := range settings.env {
		r.Environment()[k] = v
	}

	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", h.ExePath, r.CommandLine())
		return provider.Shutdown(ctx)
	}

	sm := shutdown.New(10*time.Second, logger)
	sm.Register("tracer", provider.Shutdown)
	defer sm.Shutdown()

	if addr := viper.GetString("metrics.addr"); addr != "" {
		srv := report.NewServer(metrics.Registry(), func() map[string]interface{} {
			return map[string]interface{}{"runner_id": r.ID(), "state": r.State().String()}
		}, logger)
		if _, err := srv.Start(addr); err != nil {
			return err
		}
		sm.Register("metrics server", shutdown.StopHTTPServer(srv))
	}
	sm.Register("runner", func(context.Context) error { return r.Dispose() })

	stopSignals := sm.Notify()
	defer stopSignals()

	timing := observe.NewTiming()
	reason := report.ReasonExited

	var (
		startCtx    context.Context
		cancelStart context.CancelFunc
	)
	if r.WaitForDiagnosticPipe && settings.opts.ReadyTimeout > 0 {
		startCtx, cancelStart = context.WithTimeout(ctx, settings.opts.ReadyTimeout)
	} else {
		startCtx, cancelStart = context.WithCancel(ctx)
	}
	go cancelOn(startCtx, sm.Done(), cancelStart)
	err = r.Start(startCtx)
	cancelStart()
	if err != nil {
		if !errors.Is(err, runner.ErrCancelled) {
			return err
		}
		reason = report.ReasonReadyTimeout
		if isShutdown(sm) {
			reason = report.ReasonSignal
		}
		logger.Warn("Giving up on diagnostic channel", logging.Fields{"error": err.Error()})
	}
	timing.MarkReady()

	pid, err := r.ProcessID()
	if err != nil {
		return err
	}

	streams, err := pumpStreams(r, cmd, forwardStdin)
	if err != nil {
		return err
	}

	watcher := observe.New(pid, settings.opts.SampleInterval, logger)
	usageCh := make(chan observe.Usage, 1)
	go func() { usageCh <- watcher.Run(ctx, r.Exited()) }()

	if reason == report.ReasonExited {
		reason, err = superviseExit(ctx, r, sm, settings.opts.Timeout)
	} else {
		err = reap(r)
	}
	if err != nil {
		return err
	}
	timing.Complete()

	drainStreams(streams, logger)

	result, err := report.NewResult(r, time.Now(), reason)
	if err != nil {
		return err
	}
	result.SetUsage(<-usageCh)
	result.Bindings = settings.profile.URLBindings
	metrics.RecordUsage(result)

	logger.Debug("Run timing", logging.Fields{
		"startup":  timing.Startup().String(),
		"duration": timing.Duration().String(),
	})
	result.LogSummary(logger)

	if err := result.Render(cmd.ErrOrStderr(), reportFormat()); err != nil {
		return err
	}
	if printMetrics {
		if err := report.WriteText(cmd.ErrOrStderr(), metrics.Registry()); err != nil {
			return err
		}
	}

	if code := exitCodeFor(result); code != 0 {
		return &ExitCodeError{Code: code}
	}
	return nil
}

// superviseExit waits for exit, killing the process on timeout or shutdown
func superviseExit(ctx context.Context, r *runner.Runner, sm *shutdown.Manager, timeout time.Duration) (string, error) {
	var (
		waitCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	go cancelOn(waitCtx, sm.Done(), cancel)

	err := r.WaitForExit(waitCtx)
	if err == nil {
		return report.ReasonExited, nil
	}
	if !errors.Is(err, runner.ErrCancelled) {
		return "", err
	}

	reason := report.ReasonTimeout
	if isShutdown(sm) {
		reason = report.ReasonSignal
	}
	return reason, reap(r)
}

// reap kills the process and waits for the OS to report it gone
func reap(r *runner.Runner) error {
	if err := r.ForceClose(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), runner.DefaultDisposeTimeout)
	defer cancel()
	return r.WaitForExit(ctx)
}

// cancelOn calls cancel once done closes, unless ctx finishes first
func cancelOn(ctx context.Context, done <-chan struct{}, cancel context.CancelFunc) {
	select {
	case <-done:
		cancel()
	case <-ctx.Done():
	}
}

func isShutdown(sm *shutdown.Manager) bool {
	select {
	case <-sm.Done():
		return true
	default:
		return false
	}
}

// pumpStreams copies the process output to the command's writers. Stdin is
// forwarded or closed so the process sees EOF.
func pumpStreams(r *runner.Runner, cmd *cobra.Command, forward bool) (*sync.WaitGroup, error) {
	stdin, err := r.Stdin()
	if err != nil {
		return nil, err
	}
	stdout, err := r.Stdout()
	if err != nil {
		return nil, err
	}
	stderr, err := r.Stderr()
	if err != nil {
		return nil, err
	}

	if forward {
		go func() {
			io.Copy(stdin, cmd.InOrStdin())
			stdin.Close()
		}()
	} else {
		stdin.Close()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(cmd.OutOrStdout(), stdout)
	}()
	go func() {
		defer wg.Done()
		io.Copy(cmd.ErrOrStderr(), stderr)
	}()
	return &wg, nil
}

func drainStreams(wg *sync.WaitGroup, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(streamDrainTimeout):
		logger.Warn("Output still open after exit; a child process may hold it", logging.Fields{
			"timeout": streamDrainTimeout.String(),
		})
	}
}

// exitCodeFor maps a result to dnrun's own exit code. A process that could
// not be reaped reports -1, which is not a valid exit status.
func exitCodeFor(r *report.Result) int {
	if r.ExitCode < 0 {
		return 1
	}
	return r.ExitCode
}

// parseEnvPairs splits KEY=VALUE flags. The value may contain '='.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

