package report

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/dotnet-runner/internal/runner"
)

// Exit outcomes used as the "outcome" label
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeKilled  = "killed"
)

// Readiness results used as the "result" label
const (
	ReadinessReady     = "ready"
	ReadinessCancelled = "cancelled"
	ReadinessError     = "error"
)

// Metrics counts runner lifecycle events. Every value can be explained by
// looking at the runs that produced it: no derived rates.
type Metrics struct {
	registry *prometheus.Registry

	launches       prometheus.Counter
	launchFailures prometheus.Counter
	exits          *prometheus.CounterVec
	kills          prometheus.Counter
	readinessWait  *prometheus.HistogramVec
	runDuration    prometheus.Histogram
	peakRSS        prometheus.Gauge
	peakThreads    prometheus.Gauge
}

var _ runner.Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnrun_launches_total",
			Help: "Processes successfully created",
		}),
		launchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnrun_launch_failures_total",
			Help: "Processes the OS refused to create",
		}),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnrun_exits_total",
				Help: "Observed process exits by outcome",
			},
			[]string{"outcome"},
		),
		kills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnrun_kills_total",
			Help: "Kill requests delivered to a running process",
		}),
		readinessWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnrun_readiness_wait_seconds",
				Help:    "Time spent waiting for the diagnostic channel",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"result"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dnrun_run_duration_seconds",
			Help:    "Wall time from launch to observed exit",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		peakRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnrun_process_peak_rss_bytes",
			Help: "Peak resident set size of the last sampled process",
		}),
		peakThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnrun_process_peak_threads",
			Help: "Peak OS thread count of the last sampled process",
		}),
	}

	m.registry.MustRegister(
		m.launches,
		m.launchFailures,
		m.exits,
		m.kills,
		m.readinessWait,
		m.runDuration,
		m.peakRSS,
		m.peakThreads,
	)

	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Launched implements runner.Recorder
func (m *Metrics) Launched() {
	m.launches.Inc()
}

// LaunchFailed implements runner.Recorder
func (m *Metrics) LaunchFailed() {
	m.launchFailures.Inc()
}

// ReadinessWaited implements runner.Recorder
func (m *Metrics) ReadinessWaited(d time.Duration, err error) {
	m.readinessWait.WithLabelValues(readinessResult(err)).Observe(d.Seconds())
}

// Exited implements runner.Recorder
func (m *Metrics) Exited(exitCode int, killed bool, elapsed time.Duration) {
	m.exits.WithLabelValues(Outcome(exitCode, killed)).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// KillIssued implements runner.Recorder
func (m *Metrics) KillIssued() {
	m.kills.Inc()
}

// RecordUsage publishes the resource peaks of a finished run
func (m *Metrics) RecordUsage(r *Result) {
	m.peakRSS.Set(float64(r.PeakRSSBytes))
	m.peakThreads.Set(float64(r.PeakThreads))
}

// Outcome classifies an exit
func Outcome(exitCode int, killed bool) string {
	switch {
	case killed:
		return OutcomeKilled
	case exitCode == 0:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

func readinessResult(err error) string {
	switch {
	case err == nil:
		return ReadinessReady
	case errors.Is(err, runner.ErrCancelled):
		return ReadinessCancelled
	default:
		return ReadinessError
	}
}
