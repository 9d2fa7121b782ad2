//go:build unix

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawCommandLine is false: argv is built with SplitArguments.
const rawCommandLine = false

// applyCommandLine is a no-op on Unix: the argv built by the runner is
// passed to execve as is.
func applyCommandLine(cmd *exec.Cmd, commandLine string) {}

// isProcessGone reports whether a kill failed only because the process had
// already exited and been reaped
func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH)
}

// exitStatus reports the exit code, or 128 plus the signal number for a
// process terminated by a signal, as a shell would
func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
