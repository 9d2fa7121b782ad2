package runner

import "sync"

// ExitSignal is a one-shot broadcast. Fire closes the channel exactly once;
// every waiter, whether it started waiting before or after the fire,
// observes the closed channel. It is never re-armed.
type ExitSignal struct {
	once sync.Once
	done chan struct{}
}

// NewExitSignal creates an unfired signal
func NewExitSignal() *ExitSignal {
	return &ExitSignal{done: make(chan struct{})}
}

// Fire marks the signal as fired. Extra calls are no-ops.
func (s *ExitSignal) Fire() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done returns a channel that is closed once the signal fires
func (s *ExitSignal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the signal has fired without blocking
func (s *ExitSignal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
