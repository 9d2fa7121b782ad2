package observe

import "time"

// Timing records the wall-clock milestones of one supervised run
type Timing struct {
	StartedAt   time.Time
	ReadyAt     time.Time
	CompletedAt time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// MarkReady records when Start returned
func (t *Timing) MarkReady() {
	t.ReadyAt = time.Now()
}

// Complete records completion time
func (t *Timing) Complete() {
	t.CompletedAt = time.Now()
}

// Startup returns how long Start took, including any readiness wait.
// Zero until MarkReady.
func (t *Timing) Startup() time.Duration {
	if t.ReadyAt.IsZero() {
		return 0
	}
	return t.ReadyAt.Sub(t.StartedAt)
}

// Duration returns execution duration
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
