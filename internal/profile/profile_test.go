package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	p, err := Parse([]byte("entrypoint: /app/tool.dll\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if p.ReadyTimeout != "30s" {
		t.Errorf("expected default ready_timeout 30s, got %q", p.ReadyTimeout)
	}
	if p.SampleInterval != "1s" {
		t.Errorf("expected default sample_interval 1s, got %q", p.SampleInterval)
	}
	if p.Environment == nil {
		t.Error("expected non-nil environment map")
	}

	opts, err := p.ToRunOptions()
	if err != nil {
		t.Fatalf("ToRunOptions failed: %v", err)
	}
	if opts.Timeout != 0 {
		t.Errorf("expected no timeout by default, got %v", opts.Timeout)
	}
	if opts.ReadyTimeout != 30*time.Second || opts.SampleInterval != time.Second {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestParse_Example(t *testing.T) {
	p, err := Parse([]byte(ExampleProfile))
	if err != nil {
		t.Fatalf("example profile does not parse: %v", err)
	}

	if p.Entrypoint != "/srv/app/Api.dll" {
		t.Errorf("unexpected entrypoint %q", p.Entrypoint)
	}
	if !p.WaitForDiagnosticPipe {
		t.Error("expected wait_for_diagnostic_pipe")
	}
	if p.Environment["DOTNET_gcServer"] != "1" {
		t.Errorf("unexpected environment %v", p.Environment)
	}
	if len(p.URLBindings) != 1 || p.URLBindings[0].OriginalURL != "http://localhost:5000" {
		t.Errorf("unexpected bindings %+v", p.URLBindings)
	}

	opts, err := p.ToRunOptions()
	if err != nil {
		t.Fatalf("ToRunOptions failed: %v", err)
	}
	if opts.Timeout != 30*time.Minute {
		t.Errorf("expected 30m timeout, got %v", opts.Timeout)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"BadYAML", "entrypoint: [unterminated"},
		{"MissingNewURL", "url_bindings:\n  - original_url: http://localhost:5000\n"},
		{"BadNewURL", "url_bindings:\n  - new_url: \"http://[::1\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToRunOptions_InvalidDurations(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		field   string
	}{
		{"Timeout", Profile{Timeout: "soon", ReadyTimeout: "1s", SampleInterval: "1s"}, "timeout"},
		{"ReadyTimeout", Profile{ReadyTimeout: "10", SampleInterval: "1s"}, "ready_timeout"},
		{"SampleInterval", Profile{ReadyTimeout: "1s", SampleInterval: "fast"}, "sample_interval"},
		{"ZeroSampleInterval", Profile{ReadyTimeout: "1s", SampleInterval: "0s"}, "sample_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.profile.ToRunOptions()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to name %s, got %v", tt.field, err)
			}
		})
	}
}

func TestApplyBindings(t *testing.T) {
	p, err := Parse([]byte(`
url_bindings:
  - original_url: http://localhost:5000
    new_url: http://0.0.0.0:8080
  - original_url: https://localhost:5001
    new_url: https://0.0.0.0:8443
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	env := map[string]string{"KEEP": "me"}
	p.ApplyBindings(env)

	if got := env[URLsVariable]; got != "http://0.0.0.0:8080;https://0.0.0.0:8443" {
		t.Errorf("unexpected %s %q", URLsVariable, got)
	}
	if env["KEEP"] != "me" {
		t.Error("unrelated variables must be kept")
	}
}

func TestApplyBindings_None(t *testing.T) {
	p := &Profile{}
	env := map[string]string{}
	p.ApplyBindings(env)

	if _, ok := env[URLsVariable]; ok {
		t.Error("expected no URLs variable without bindings")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	if err := os.WriteFile(path, []byte(ExampleProfile), 0644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	if _, err := Load(path); err != nil {
		t.Errorf("Load failed: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
