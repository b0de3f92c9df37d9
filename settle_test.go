package asynctracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoObserverNoCheck(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched)

	tracker.Run(func() {})

	assert.Zero(t, sched.microtaskCount(), "without observers no settle-check is scheduled")
	assert.Zero(t, sched.timerCount())
}

func TestAtMostOnePendingCheck(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched)

	_, err := tracker.AddListener(func() {})
	require.NoError(t, err)

	tracker.Run(func() {})
	tracker.Run(func() {})
	tracker.Run(func() {})

	assert.Equal(t, 1, sched.microtaskCount(), "repeated idle transitions share one outstanding check")
	assert.True(t, tracker.pendingCheck())

	require.Empty(t, sched.drainMicrotasks())
	assert.False(t, tracker.pendingCheck())
}

func TestChainedMicrotasksSingleNotification(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched)

	fired := 0
	_, err := tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	// Each microtask schedules the next before completing, so the tracker
	// never observes an idle gap until the chain bottoms out.
	var chain func(depth int)
	chain = func(depth int) {
		if depth == 0 {
			return
		}
		require.NoError(t, tracker.ScheduleMicrotask(func() { chain(depth - 1) }))
	}

	tracker.Run(func() { chain(10) })
	require.Empty(t, sched.drainMicrotasks())

	assert.Equal(t, 1, fired, "a dynamically growing chain yields exactly one notification")
}

func TestIdleRevalidationSuppresses(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched, WithMetrics(true))

	fired := 0
	_, err := tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	// First burst goes idle and queues a check.
	tracker.Run(func() {})
	require.True(t, tracker.pendingCheck())

	// New work arrives behind the already queued check.
	tracker.Run(func() {
		require.NoError(t, tracker.ScheduleMicrotask(func() {}))
	})

	require.Empty(t, sched.drainMicrotasks())

	m := tracker.Metrics()
	assert.Equal(t, 1, fired, "stale check suppressed; only the final idle notifies")
	assert.Equal(t, uint64(1), m.ChecksSuppressed)
	assert.Equal(t, uint64(1), m.Settles)
	assert.Equal(t, uint64(2), m.ChecksScheduled)
}

func TestObserverRemovedBeforeCheckSuppresses(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched, WithMetrics(true))

	fired := 0
	l, err := tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	tracker.Run(func() {})
	require.True(t, tracker.pendingCheck())

	l.Remove()
	require.Empty(t, sched.drainMicrotasks())

	assert.Zero(t, fired)
	assert.Equal(t, uint64(1), tracker.Metrics().ChecksSuppressed)
}

func TestParentRefusesCheckResetsFlag(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched)

	_, err := tracker.AddListener(func() {})
	require.NoError(t, err)

	sched.terminate()
	tracker.Run(func() {})

	assert.False(t, tracker.pendingCheck(), "failed scheduling must release the flag")
	assert.Zero(t, sched.microtaskCount())
}

func TestDebounceTimerMode(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched, WithDebounce(50*time.Millisecond))

	fired := 0
	_, err := tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	tracker.Run(func() {})
	assert.Equal(t, 1, sched.timerCount(), "debounced check is a timer, not a microtask")
	assert.Zero(t, sched.microtaskCount())

	// A second burst inside the window shares the outstanding timer.
	require.Empty(t, sched.advance(10*time.Millisecond))
	tracker.Run(func() {})
	assert.Equal(t, 1, sched.timerCount())

	require.Empty(t, sched.advance(40*time.Millisecond))
	assert.Equal(t, 1, fired)

	// A fresh burst after settling starts a new window.
	tracker.Run(func() {})
	require.Empty(t, sched.advance(50*time.Millisecond))
	assert.Equal(t, 2, fired)
}

func TestDebounceRenewedActivitySuppresses(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched, WithDebounce(50*time.Millisecond), WithMetrics(true))

	fired := 0
	_, err := tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	tracker.Run(func() {})

	// Activity pending when the window elapses: the check stays silent.
	require.NoError(t, tracker.ScheduleMicrotask(func() {}))
	require.Empty(t, sched.advance(50*time.Millisecond))
	assert.Zero(t, fired)
	assert.Equal(t, uint64(1), tracker.Metrics().ChecksSuppressed)

	// Completing the microtask opens a new window which then fires.
	require.Empty(t, sched.drainMicrotasks())
	require.Empty(t, sched.advance(50*time.Millisecond))
	assert.Equal(t, 1, fired)
}

// synchronousTimerScheduler runs timer callbacks before ScheduleTimer
// returns, modelling a debounce timer that expires on the loop goroutine
// while the scheduling goroutine has not yet re-acquired the tracker lock.
type synchronousTimerScheduler struct {
	*manualScheduler
}

func (s *synchronousTimerScheduler) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	id, err := s.manualScheduler.ScheduleTimer(delay, fn)
	if err != nil {
		return 0, err
	}
	_ = s.manualScheduler.CancelTimer(id)
	fn()
	return id, nil
}

func TestCheckResolvedDuringSchedulingLeavesNoStaleHandle(t *testing.T) {
	sched := &synchronousTimerScheduler{newManualScheduler()}
	tracker, err := New(WithParent(sched), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer tracker.Close()

	fired := 0
	_, err = tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	tracker.Run(func() {})
	assert.Equal(t, 1, fired)

	tracker.mu.Lock()
	assert.False(t, tracker.scheduled)
	assert.Zero(t, tracker.debounceTimer, "handle recorded for a check that already resolved")
	tracker.mu.Unlock()
}

func TestCheckAfterCloseIsNoop(t *testing.T) {
	sched := newManualScheduler()
	tracker := newTestTracker(t, sched, WithMetrics(true))

	fired := 0
	_, err := tracker.AddListener(func() { fired++ })
	require.NoError(t, err)

	tracker.Run(func() {})
	require.True(t, tracker.pendingCheck())

	require.NoError(t, tracker.Close())
	require.Empty(t, sched.drainMicrotasks())

	assert.Zero(t, fired)
	assert.Equal(t, uint64(1), tracker.Metrics().ChecksSuppressed)
}
