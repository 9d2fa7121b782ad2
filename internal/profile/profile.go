// Package profile loads saved run settings for dnrun from YAML.
package profile

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/dotnet-runner/pkg/models"
)

// URLsVariable is the environment variable ASP.NET Core reads its listen
// URLs from
const URLsVariable = "ASPNETCORE_URLS"

// Profile is a saved set of run settings
type Profile struct {
	Entrypoint            string            `yaml:"entrypoint"`
	Arguments             string            `yaml:"arguments"`
	Environment           map[string]string `yaml:"environment"`
	WaitForDiagnosticPipe bool              `yaml:"wait_for_diagnostic_pipe"`

	Timeout        string `yaml:"timeout"`         // e.g. "10m", empty = no limit
	ReadyTimeout   string `yaml:"ready_timeout"`   // e.g. "30s"
	SampleInterval string `yaml:"sample_interval"` // e.g. "1s"

	URLBindings []models.URLBindingChange `yaml:"url_bindings"`
}

// RunOptions are the parsed durations of a Profile
type RunOptions struct {
	Timeout        time.Duration
	ReadyTimeout   time.Duration
	SampleInterval time.Duration
}

// Load reads a profile from a YAML file
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a profile and applies defaults
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	// Set defaults
	if p.ReadyTimeout == "" {
		p.ReadyTimeout = "30s"
	}
	if p.SampleInterval == "" {
		p.SampleInterval = "1s"
	}
	if p.Environment == nil {
		p.Environment = make(map[string]string)
	}

	for i, b := range p.URLBindings {
		if b.NewURL == "" {
			return nil, fmt.Errorf("url_bindings[%d]: new_url is required", i)
		}
		if _, err := url.Parse(b.NewURL); err != nil {
			return nil, fmt.Errorf("url_bindings[%d]: invalid new_url: %w", i, err)
		}
	}

	return &p, nil
}

// ToRunOptions parses the duration fields
func (p *Profile) ToRunOptions() (*RunOptions, error) {
	opts := &RunOptions{}

	if p.Timeout != "" {
		timeout, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		opts.Timeout = timeout
	}

	readyTimeout, err := time.ParseDuration(p.ReadyTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid ready_timeout: %w", err)
	}
	opts.ReadyTimeout = readyTimeout

	sampleInterval, err := time.ParseDuration(p.SampleInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid sample_interval: %w", err)
	}
	if sampleInterval <= 0 {
		return nil, fmt.Errorf("sample_interval must be positive, got %s", p.SampleInterval)
	}
	opts.SampleInterval = sampleInterval

	return opts, nil
}

// ApplyBindings points the application at the rebound URLs. env is left
// alone when the profile has no bindings.
func (p *Profile) ApplyBindings(env map[string]string) {
	if len(p.URLBindings) == 0 {
		return
	}

	urls := make([]string, 0, len(p.URLBindings))
	for _, b := range p.URLBindings {
		urls = append(urls, b.NewURL)
	}
	env[URLsVariable] = strings.Join(urls, ";")
}

// ExampleProfile is printed by `dnrun profile`
const ExampleProfile = `# dnrun run profile

# Assembly the shared host executes
entrypoint: /srv/app/Api.dll

# Appended verbatim to the host command line
arguments: "--environment Staging"

# Merged over the inherited environment
environment:
  DOTNET_gcServer: "1"

# Block start until the runtime's diagnostic channel is listening
wait_for_diagnostic_pipe: true

timeout: "30m"        # kill after 30 minutes (empty = no limit)
ready_timeout: "30s"  # give up waiting for the diagnostic channel
sample_interval: "1s" # resource sampling period

# Rewritten listen URLs, exported as ASPNETCORE_URLS
url_bindings:
  - original_url: http://localhost:5000
    new_url: http://0.0.0.0:8080
`
