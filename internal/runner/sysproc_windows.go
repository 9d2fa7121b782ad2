//go:build windows

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// rawCommandLine is true: CreateProcess receives the command line string.
const rawCommandLine = true

// applyCommandLine hands the command line to CreateProcess verbatim so the
// host parses the quoted entrypoint path itself
func applyCommandLine(cmd *exec.Cmd, commandLine string) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: syscall.EscapeArg(cmd.Path) + " " + commandLine,
	}
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
