package asynctracker

import "sync/atomic"

// trackerMetrics collects runtime statistics for a Tracker. All counters are
// atomic; collection is enabled via WithMetrics and adds a few atomic
// operations per intercepted call.
type trackerMetrics struct {
	tasksTracked     atomic.Uint64
	checksScheduled  atomic.Uint64
	checksSuppressed atomic.Uint64
	settles          atomic.Uint64
	peakRunning      atomic.Int64
}

// recordPeak raises the peak running depth if n exceeds it.
func (m *trackerMetrics) recordPeak(n int64) {
	for {
		peak := m.peakRunning.Load()
		if n <= peak || m.peakRunning.CompareAndSwap(peak, n) {
			return
		}
	}
}

// TrackerMetrics is a point-in-time snapshot of a tracker's statistics.
//
// ChecksScheduled - ChecksSuppressed - Settles is the number of checks still
// outstanding at snapshot time (zero or one).
type TrackerMetrics struct {
	// TasksTracked counts every intercepted unit of work: runs, tasks,
	// microtasks, and fired timer callbacks.
	TasksTracked uint64

	// ChecksScheduled counts deferred settle-checks issued.
	ChecksScheduled uint64

	// ChecksSuppressed counts settle-checks that fired but did not notify,
	// because new work arrived in the interim or the observers went away.
	ChecksSuppressed uint64

	// Settles counts delivered settle notifications.
	Settles uint64

	// PeakRunning is the maximum observed depth of concurrently running
	// intercepted work.
	PeakRunning int64
}

// Metrics returns a snapshot of the tracker's statistics. The zero value is
// returned when metrics collection is disabled.
func (t *Tracker) Metrics() TrackerMetrics {
	m := t.metrics
	if m == nil {
		return TrackerMetrics{}
	}
	return TrackerMetrics{
		TasksTracked:     m.tasksTracked.Load(),
		ChecksScheduled:  m.checksScheduled.Load(),
		ChecksSuppressed: m.checksSuppressed.Load(),
		Settles:          m.settles.Load(),
		PeakRunning:      m.peakRunning.Load(),
	}
}
