package runner

import "time"

// Recorder receives lifecycle counts. report.Metrics implements it.
type Recorder interface {
	Launched()
	LaunchFailed()
	ReadinessWaited(d time.Duration, err error)
	Exited(exitCode int, killed bool, runtime time.Duration)
	KillIssued()
}

type nopRecorder struct{}

func (nopRecorder) Launched()                            {}
func (nopRecorder) LaunchFailed()                        {}
func (nopRecorder) ReadinessWaited(time.Duration, error) {}
func (nopRecorder) Exited(int, bool, time.Duration)      {}
func (nopRecorder) KillIssued()                          {}
