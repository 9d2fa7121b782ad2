package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO line should be filtered at WARN level: %q", out)
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("expected WARN line, got %q", out)
	}
}

func TestLoggerJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(DEBUG, true)
	l.SetOutput(&buf)

	l.WithComponent("runner").WithField("pid", 42).Info("started", Fields{"state": "running"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Component != "runner" {
		t.Errorf("expected component runner, got %q", entry.Component)
	}
	if entry.Fields["pid"] != float64(42) {
		t.Errorf("expected pid field 42, got %v", entry.Fields["pid"])
	}
	if entry.Fields["state"] != "running" {
		t.Errorf("expected state field, got %v", entry.Fields["state"])
	}
	if _, ok := entry.Fields[""]; ok {
		t.Error("WithComponent must not leak an empty field")
	}
}

func TestWithFieldSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	child := parent.WithField("runner_id", "abc")
	child.Info("from child")

	if !strings.Contains(buf.String(), "runner_id=abc") {
		t.Errorf("child logger should write through the parent output, got %q", buf.String())
	}
}
