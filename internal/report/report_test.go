package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/dotnet-runner/internal/host"
	"github.com/psantana5/dotnet-runner/internal/observe"
	"github.com/psantana5/dotnet-runner/internal/runner"
	"github.com/psantana5/dotnet-runner/pkg/logging"
	"github.com/psantana5/dotnet-runner/pkg/models"
)

func TestMetrics_Recorder(t *testing.T) {
	m := NewMetrics()

	m.Launched()
	m.Launched()
	m.LaunchFailed()
	m.KillIssued()
	m.Exited(0, false, time.Second)
	m.Exited(3, false, time.Second)
	m.Exited(-1, true, time.Second)

	if got := testutil.ToFloat64(m.launches); got != 2 {
		t.Errorf("expected 2 launches, got %v", got)
	}
	if got := testutil.ToFloat64(m.launchFailures); got != 1 {
		t.Errorf("expected 1 launch failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.kills); got != 1 {
		t.Errorf("expected 1 kill, got %v", got)
	}

	for outcome, want := range map[string]float64{
		OutcomeSuccess: 1,
		OutcomeFailure: 1,
		OutcomeKilled:  1,
	} {
		if got := testutil.ToFloat64(m.exits.WithLabelValues(outcome)); got != want {
			t.Errorf("outcome %s: expected %v, got %v", outcome, want, got)
		}
	}

	if n := testutil.CollectAndCount(m.runDuration); n != 1 {
		t.Errorf("expected run duration histogram, got %d series", n)
	}
}

func TestMetrics_ReadinessResult(t *testing.T) {
	m := NewMetrics()

	m.ReadinessWaited(100*time.Millisecond, nil)
	m.ReadinessWaited(time.Second, fmt.Errorf("wait: %w", runner.ErrCancelled))
	m.ReadinessWaited(time.Second, errors.New("permission denied"))

	if n := testutil.CollectAndCount(m.readinessWait); n != 3 {
		t.Errorf("expected one series per result, got %d", n)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		code   int
		killed bool
		want   string
	}{
		{0, false, OutcomeSuccess},
		{1, false, OutcomeFailure},
		{-1, false, OutcomeFailure},
		{0, true, OutcomeKilled},
		{-1, true, OutcomeKilled},
	}

	for _, tt := range tests {
		if got := Outcome(tt.code, tt.killed); got != tt.want {
			t.Errorf("Outcome(%d, %v) = %s, want %s", tt.code, tt.killed, got, tt.want)
		}
	}
}

func sampleResult() *Result {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &Result{
		RunnerID:        "run-1",
		PID:             4242,
		Entrypoint:      "/app/tool.dll",
		CommandLine:     `--fx-version 8.0.1 "/app/tool.dll" `,
		RuntimeVersion:  "8.0.1",
		StartTime:       start,
		EndTime:         start.Add(2 * time.Second),
		DurationSeconds: 2,
		ExitCode:        3,
		Outcome:         OutcomeFailure,
		Reason:          ReasonExited,
		Bindings: []models.URLBindingChange{
			{OriginalURL: "http://localhost:5000", NewURL: "http://127.0.0.1:0"},
		},
	}
	r.SetUsage(observe.Usage{PeakRSSBytes: 64 << 20, PeakCPUPercent: 12.5, PeakThreads: 21, Samples: 4})
	return r
}

func TestResult_RenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleResult().Render(&buf, FormatJSON); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if decoded["exit_code"] != float64(3) {
		t.Errorf("expected exit_code 3, got %v", decoded["exit_code"])
	}
	if decoded["outcome"] != OutcomeFailure {
		t.Errorf("expected outcome failure, got %v", decoded["outcome"])
	}
	if decoded["peak_threads"] != float64(21) {
		t.Errorf("expected peak_threads 21, got %v", decoded["peak_threads"])
	}
}

func TestResult_RenderYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleResult().Render(&buf, FormatYAML); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var decoded Result
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if decoded.RunnerID != "run-1" || decoded.PID != 4242 {
		t.Errorf("unexpected identity %s/%d", decoded.RunnerID, decoded.PID)
	}
	if len(decoded.Bindings) != 1 || decoded.Bindings[0].NewURL != "http://127.0.0.1:0" {
		t.Errorf("unexpected bindings %+v", decoded.Bindings)
	}
}

func TestResult_RenderTable(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleResult().Render(&buf, FormatTable); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"run-1", "4242", "/app/tool.dll", "failure", "21", "http://localhost:5000", "http://127.0.0.1:0"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestResult_RenderUnknownFormat(t *testing.T) {
	if err := sampleResult().Render(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestResult_LogSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(&buf)

	sampleResult().LogSummary(logger)

	line := buf.String()
	for _, want := range []string{"RUN run-1", "outcome=failure", "reason=exited", "exit=3", "pid=4242"} {
		if !strings.Contains(line, want) {
			t.Errorf("summary missing %q: %s", want, line)
		}
	}
}

func TestNewResult_NotExited(t *testing.T) {
	r := runner.New(host.Host{RuntimeVersion: "8.0.1"})
	if _, err := NewResult(r, time.Now(), ReasonExited); !errors.Is(err, runner.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestWriteText(t *testing.T) {
	m := NewMetrics()
	m.Launched()
	m.Exited(0, false, 500*time.Millisecond)

	var buf bytes.Buffer
	if err := WriteText(&buf, m.Registry()); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"# TYPE dnrun_launches_total counter",
		"dnrun_launches_total 1",
		`dnrun_exits_total{outcome="success"} 1`,
		"dnrun_run_duration_seconds_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q", want)
		}
	}
}

func TestServer_Routes(t *testing.T) {
	m := NewMetrics()
	m.Launched()

	s := NewServer(m.Registry(), func() map[string]interface{} {
		return map[string]interface{}{"state": "running"}
	}, nil)

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "dnrun_launches_total 1") {
			t.Errorf("metrics body missing counter:\n%s", w.Body.String())
		}
	})

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid health JSON: %v", err)
		}
		if body["status"] != "healthy" || body["state"] != "running" {
			t.Errorf("unexpected health body %v", body)
		}
	})

	t.Run("WrongMethod", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/metrics", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer(NewMetrics().Registry(), nil, nil)

	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if _, err := s.Start("127.0.0.1:0"); err == nil {
		t.Error("expected error starting twice")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestServer_ShutdownNeverStarted(t *testing.T) {
	s := NewServer(NewMetrics().Registry(), nil, nil)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
