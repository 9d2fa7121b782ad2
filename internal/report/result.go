package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/dotnet-runner/internal/observe"
	"github.com/psantana5/dotnet-runner/internal/runner"
	"github.com/psantana5/dotnet-runner/pkg/logging"
	"github.com/psantana5/dotnet-runner/pkg/models"
)

// Why the supervisor stopped watching the process
const (
	ReasonExited       = "exited"
	ReasonTimeout      = "timeout"
	ReasonSignal       = "signal"
	ReasonReadyTimeout = "ready_timeout"
)

// Output formats accepted by Render
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Result is the record of one finished run. Built once after exit and
// never updated.
type Result struct {
	RunnerID       string `json:"runner_id" yaml:"runner_id"`
	PID            int    `json:"pid" yaml:"pid"`
	Entrypoint     string `json:"entrypoint" yaml:"entrypoint"`
	CommandLine    string `json:"command_line" yaml:"command_line"`
	RuntimeVersion string `json:"runtime_version" yaml:"runtime_version"`

	StartTime       time.Time `json:"start_time" yaml:"start_time"`
	EndTime         time.Time `json:"end_time" yaml:"end_time"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`

	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	Killed   bool   `json:"killed" yaml:"killed"`
	Outcome  string `json:"outcome" yaml:"outcome"`
	Reason   string `json:"reason" yaml:"reason"`

	PeakRSSBytes   uint64  `json:"peak_rss_bytes,omitempty" yaml:"peak_rss_bytes,omitempty"`
	PeakCPUPercent float64 `json:"peak_cpu_percent,omitempty" yaml:"peak_cpu_percent,omitempty"`
	PeakThreads    int32   `json:"peak_threads,omitempty" yaml:"peak_threads,omitempty"`
	Samples        int     `json:"samples,omitempty" yaml:"samples,omitempty"`

	Bindings []models.URLBindingChange `json:"url_bindings,omitempty" yaml:"url_bindings,omitempty"`
}

// NewResult snapshots an exited runner. It fails while the process is
// still running.
func NewResult(r *runner.Runner, end time.Time, reason string) (*Result, error) {
	exitCode, err := r.ExitCode()
	if err != nil {
		return nil, err
	}
	pid, err := r.ProcessID()
	if err != nil {
		return nil, err
	}

	start := r.StartedAt()
	killed := r.Killed()
	return &Result{
		RunnerID:        r.ID(),
		PID:             pid,
		Entrypoint:      r.EntrypointAssemblyPath,
		CommandLine:     r.CommandLine(),
		RuntimeVersion:  r.Host().RuntimeVersion,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		ExitCode:        exitCode,
		Killed:          killed,
		Outcome:         Outcome(exitCode, killed),
		Reason:          reason,
	}, nil
}

// SetUsage copies resource peaks from a watcher
func (r *Result) SetUsage(u observe.Usage) {
	r.PeakRSSBytes = u.PeakRSSBytes
	r.PeakCPUPercent = u.PeakCPUPercent
	r.PeakThreads = u.PeakThreads
	r.Samples = u.Samples
}

// LogSummary emits the one-line summary operators grep for
func (r *Result) LogSummary(logger *logging.Logger) {
	logger.Info(fmt.Sprintf("RUN %s | outcome=%s | reason=%s | runtime=%.1fs | exit=%d | pid=%d",
		r.RunnerID,
		r.Outcome,
		r.Reason,
		r.DurationSeconds,
		r.ExitCode,
		r.PID,
	))
}

// Render writes the result as a table, JSON or YAML
func (r *Result) Render(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(r); err != nil {
			return fmt.Errorf("failed to format YAML: %w", err)
		}
		return encoder.Close()

	case FormatTable, "":
		table := tablewriter.NewWriter(w)
		table.Header("Property", "Value")

		table.Append([]string{"Runner ID", r.RunnerID})
		table.Append([]string{"PID", fmt.Sprintf("%d", r.PID)})
		table.Append([]string{"Entrypoint", r.Entrypoint})
		table.Append([]string{"Runtime", r.RuntimeVersion})
		table.Append([]string{"Outcome", r.Outcome})
		table.Append([]string{"Reason", r.Reason})
		table.Append([]string{"Exit Code", fmt.Sprintf("%d", r.ExitCode)})
		table.Append([]string{"Duration", fmt.Sprintf("%.2fs", r.DurationSeconds)})

		if r.Samples > 0 {
			table.Append([]string{"Peak RSS", fmt.Sprintf("%.1f MB", float64(r.PeakRSSBytes)/1024/1024)})
			table.Append([]string{"Peak CPU", fmt.Sprintf("%.1f%%", r.PeakCPUPercent)})
			table.Append([]string{"Peak Threads", fmt.Sprintf("%d", r.PeakThreads)})
		}

		for _, b := range r.Bindings {
			table.Append([]string{"URL Binding", fmt.Sprintf("%s -> %s", b.OriginalURL, b.NewURL)})
		}

		return table.Render()

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
