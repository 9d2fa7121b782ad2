package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/dotnet-runner/internal/host"
	"github.com/psantana5/dotnet-runner/internal/report"
	"github.com/psantana5/dotnet-runner/internal/runner"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Show the resolved dotnet host and runtime version",
	Long: `Resolve the dotnet host the same way 'dnrun run' does and print it.

The host path comes from host.exe_path in the config file or DOTNET_HOST_PATH,
falling back to dotnet on PATH. The runtime version comes from
host.runtime_version or DOTNET_RUNTIME_VERSION, falling back to the highest
Microsoft.NETCore.App listed by 'dotnet --list-runtimes'.`,
	Args: cobra.NoArgs,
	RunE: showHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)
}

func showHost(cmd *cobra.Command, args []string) error {
	h, err := host.Resolve(cmd.Context(), viper.GetViper())
	if err != nil {
		return err
	}
	return renderHost(cmd.OutOrStdout(), h, reportFormat())
}

func renderHost(w io.Writer, h host.Host, format string) error {
	switch format {
	case report.FormatJSON:
		data, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case report.FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(h); err != nil {
			return fmt.Errorf("failed to format YAML: %w", err)
		}
		return encoder.Close()

	case report.FormatTable, "":
		readiness := "socket poll"
		if _, ok := runner.ProbeFor(h).(runner.NoopProbe); ok {
			readiness = "blocking pipe connect"
		}

		table := tablewriter.NewWriter(w)
		table.Header("Property", "Value")
		table.Append([]string{"Host", h.ExePath})
		table.Append([]string{"Runtime Version", h.RuntimeVersion})
		table.Append([]string{"Readiness", readiness})
		return table.Render()

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
