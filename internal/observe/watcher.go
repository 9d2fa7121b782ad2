// Package observe samples a supervised process from the outside. It only
// reads: nothing here signals or waits on the process.
package observe

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/dotnet-runner/pkg/logging"
)

// DefaultSampleInterval is used when New is given no interval
const DefaultSampleInterval = time.Second

// Usage holds the peaks seen across all samples
type Usage struct {
	PeakRSSBytes   uint64
	PeakCPUPercent float64
	PeakThreads    int32
	Samples        int
}

// Watcher samples RSS, CPU and thread count of one PID
type Watcher struct {
	pid      int
	interval time.Duration
	logger   *logging.Logger

	mu    sync.Mutex
	usage Usage
}

// New creates a watcher for a PID
func New(pid int, interval time.Duration, logger *logging.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{
		pid:      pid,
		interval: interval,
		logger:   logger.WithComponent("observe").WithField("pid", pid),
	}
}

// Run samples until exited is closed or ctx is done and returns the peaks.
// A process that is already gone yields an empty Usage.
func (w *Watcher) Run(ctx context.Context, exited <-chan struct{}) Usage {
	p, err := process.NewProcessWithContext(ctx, int32(w.pid))
	if err != nil {
		w.logger.Debug("Process not observable", logging.Fields{"error": err.Error()})
		return w.Usage()
	}

	w.sample(ctx, p)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-exited:
			return w.Usage()
		case <-ctx.Done():
			return w.Usage()
		case <-ticker.C:
			w.sample(ctx, p)
		}
	}
}

// Usage returns the peaks recorded so far
func (w *Watcher) Usage() Usage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage
}

// sample takes one reading. Partial readings still count; a process in
// the middle of exiting often answers some queries and not others.
func (w *Watcher) sample(ctx context.Context, p *process.Process) {
	var got bool

	mem, memErr := p.MemoryInfoWithContext(ctx)
	cpu, cpuErr := p.PercentWithContext(ctx, 0)
	threads, thrErr := p.NumThreadsWithContext(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if memErr == nil && mem != nil {
		got = true
		if mem.RSS > w.usage.PeakRSSBytes {
			w.usage.PeakRSSBytes = mem.RSS
		}
	}
	if cpuErr == nil {
		got = true
		if cpu > w.usage.PeakCPUPercent {
			w.usage.PeakCPUPercent = cpu
		}
	}
	if thrErr == nil {
		got = true
		if threads > w.usage.PeakThreads {
			w.usage.PeakThreads = threads
		}
	}

	if got {
		w.usage.Samples++
	}
}
