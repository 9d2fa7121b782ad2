package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/psantana5/dotnet-runner/cmd/dnrun/cmd"
)

func main() {
	err := cmd.Execute()

	var exitErr *cmd.ExitCodeError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cmd.ExitCode(err))
}
