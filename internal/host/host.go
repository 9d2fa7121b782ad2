// Package host resolves the .NET host executable and the runtime version
// that launched entrypoints are pinned to.
package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/mod/semver"
)

// Config keys and their environment fallbacks
const (
	KeyExePath        = "host.exe_path"
	KeyRuntimeVersion = "host.runtime_version"

	EnvExePath        = "DOTNET_HOST_PATH"
	EnvRuntimeVersion = "DOTNET_RUNTIME_VERSION"

	sharedFramework = "Microsoft.NETCore.App"
)

// ErrNoRuntime is returned when no shared runtime can be found
var ErrNoRuntime = errors.New("no " + sharedFramework + " runtime found")

// Host describes the runtime host the runner launches
type Host struct {
	ExePath        string `json:"exe_path" yaml:"exe_path"`
	RuntimeVersion string `json:"runtime_version" yaml:"runtime_version"`

	// PipeConnectBlocks is true where the diagnostic channel is a named pipe
	// whose client connect already waits for the server side.
	PipeConnectBlocks bool `json:"pipe_connect_blocks" yaml:"pipe_connect_blocks"`
}

// Resolve builds a Host from configuration, the environment and finally
// the dotnet executable on PATH
func Resolve(ctx context.Context, v *viper.Viper) (Host, error) {
	v.BindEnv(KeyExePath, EnvExePath)
	v.BindEnv(KeyRuntimeVersion, EnvRuntimeVersion)

	h := Host{
		ExePath:           v.GetString(KeyExePath),
		RuntimeVersion:    v.GetString(KeyRuntimeVersion),
		PipeConnectBlocks: runtime.GOOS == "windows",
	}

	if h.ExePath == "" {
		path, err := exec.LookPath("dotnet")
		if err != nil {
			return Host{}, fmt.Errorf("dotnet host not configured (%s) and not on PATH: %w", EnvExePath, err)
		}
		h.ExePath = path
	}

	if h.RuntimeVersion == "" {
		version, err := DetectRuntimeVersion(ctx, h.ExePath)
		if err != nil {
			return Host{}, fmt.Errorf("failed to detect runtime version: %w", err)
		}
		h.RuntimeVersion = version
	}

	return h, nil
}

// DetectRuntimeVersion asks the host for its installed runtimes and returns
// the highest shared framework version
func DetectRuntimeVersion(ctx context.Context, exePath string) (string, error) {
	cmd := exec.CommandContext(ctx, exePath, "--list-runtimes")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s --list-runtimes: %w", exePath, err)
	}
	return ParseRuntimeVersion(out)
}

// ParseRuntimeVersion picks the highest Microsoft.NETCore.App version from
// `dotnet --list-runtimes` output. Lines look like:
//
//	Microsoft.NETCore.App 6.0.10 [/usr/share/dotnet/shared/Microsoft.NETCore.App]
func ParseRuntimeVersion(output []byte) (string, error) {
	best := ""
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != sharedFramework {
			continue
		}
		version := fields[1]
		if !semver.IsValid("v" + version) {
			continue
		}
		if best == "" || semver.Compare("v"+version, "v"+best) > 0 {
			best = version
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if best == "" {
		return "", ErrNoRuntime
	}
	return best, nil
}
