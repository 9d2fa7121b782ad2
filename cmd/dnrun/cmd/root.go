package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/dotnet-runner/pkg/logging"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=..."
var Version = "dev"

var (
	cfgFile      string
	outputFormat string
	logLevel     string
	logJSON      bool
	logFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "dnrun",
	Short:         "Run and supervise .NET entrypoints under the shared host",
	Long:          `dnrun launches a .NET assembly through the dotnet host pinned to one runtime version, streams its output, optionally waits for the runtime's diagnostic channel and reports how the process ended.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitCodeError carries the exit code dnrun should terminate with
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// ExitCode maps an Execute error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dnrun/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "report format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON lines")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
	viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".dnrun"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DNRUN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// newLogger builds the logger from flags, config and environment
func newLogger() *logging.Logger {
	level := logging.ParseLevel(viper.GetString("log.level"))
	jsonFormat := viper.GetBool("log.json")

	if path := viper.GetString("log.file"); path != "" {
		logger, err := logging.NewFileLogger(path, level, jsonFormat)
		if err == nil {
			return logger
		}
		fmt.Fprintf(os.Stderr, "Warning: %v, logging to stderr only\n", err)
	}
	return logging.NewLogger(level, jsonFormat)
}

// reportFormat returns the configured output format
func reportFormat() string {
	return viper.GetString("output")
}
