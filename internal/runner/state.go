package runner

import "fmt"

// State represents the lifecycle state of a Runner.
type State int

const (
	// StateUnstarted indicates the runner has been created but not started.
	StateUnstarted State = iota
	// StateRunning indicates the process is running.
	StateRunning
	// StateForceClosed indicates a kill was issued and exit is pending.
	StateForceClosed
	// StateExited indicates the OS reported the process terminated.
	StateExited
	// StateDisposed indicates all handles were released.
	StateDisposed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateForceClosed:
		return "force_closed"
	case StateExited:
		return "exited"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
