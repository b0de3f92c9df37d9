package asynctracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Tracker detects quiescence of the asynchronous work routed through it.
//
// A Tracker wraps a parent [Scheduler] and exposes the same primitives,
// instrumented: every intercepted operation increments an activity counter
// before delegating and decrements it in a deferred block afterwards, then
// asks the settle detector to re-evaluate. When activity drops to zero and
// observers are registered, one debounced settle notification is delivered.
//
// Tracker itself implements [Scheduler], so trackers nest.
//
// Two independent counters are kept:
//   - running: call-stack depth of intercepted runs currently executing
//     (Run/RunValue/RunUnary/RunBinary bodies, timer and task callbacks)
//   - microtasks: intercepted microtasks enqueued but not yet completed
//
// Both are decremented exactly once per increment, even when the tracked
// callback panics, via deferred cleanup.
type Tracker struct {
	// Prevent copying
	_ [0]func()

	parent   Scheduler
	debounce time.Duration
	logger   *logiface.Logger[logiface.Event]
	metrics  *trackerMetrics
	id       uint64

	running    atomic.Int64
	microtasks atomic.Int64

	mu            sync.Mutex
	closed        bool
	scheduled     bool
	debounceTimer TimerID
	listeners     []*Listener
	subs          []*Subscription
}

var trackerIDCounter atomic.Uint64

// New creates a Tracker.
//
// Without [WithParent], the parent context is the ambient context of the
// calling goroutine (see [Current]). Without [WithDebounce], settle-checks
// are scheduled as microtasks on the parent; with a positive delay they are
// scheduled as a single timer of that delay.
func New(opts ...Option) (*Tracker, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	parent := cfg.parent
	if parent == nil {
		parent = Current()
	}

	t := &Tracker{
		parent:   parent,
		debounce: cfg.debounce,
		logger:   cfg.logger,
		id:       trackerIDCounter.Add(1),
	}
	if cfg.metricsEnabled {
		t.metrics = &trackerMetrics{}
	}
	return t, nil
}

// Run executes fn inside the tracked context. fn runs synchronously on the
// calling goroutine; its panic, if any, propagates unchanged after the
// tracker's bookkeeping has run.
func (t *Tracker) Run(fn func()) {
	t.enterRunning()
	defer t.exitRunning()
	fn()
}

// RunValue executes fn inside the tracked context of t, returning exactly
// what fn returns.
func RunValue[R any](t *Tracker, fn func() R) R {
	t.enterRunning()
	defer t.exitRunning()
	return fn()
}

// RunUnary executes fn(arg) inside the tracked context of t.
func RunUnary[A, R any](t *Tracker, fn func(A) R, arg A) R {
	t.enterRunning()
	defer t.exitRunning()
	return fn(arg)
}

// RunBinary executes fn(a, b) inside the tracked context of t.
func RunBinary[A, B, R any](t *Tracker, fn func(A, B) R, a A, b B) R {
	t.enterRunning()
	defer t.exitRunning()
	return fn(a, b)
}

// ScheduleMicrotask schedules fn on the parent context, counted as pending
// from enqueue until completion. A panic inside fn propagates through the
// parent's unhandled-error channel after the count is released.
func (t *Tracker) ScheduleMicrotask(fn func()) error {
	if fn == nil {
		return nil
	}

	t.enterMicrotask()
	if err := t.parent.ScheduleMicrotask(func() {
		defer t.exitMicrotask()
		fn()
	}); err != nil {
		// Parent refused the task; undo the count without re-evaluating
		// (nothing was ever pending).
		t.microtasks.Add(-1)
		return err
	}
	return nil
}

// Submit submits fn as a task on the parent context. The callback is counted
// as running while it executes; a queued task does not count as activity,
// matching timer semantics.
func (t *Tracker) Submit(fn func()) error {
	if fn == nil {
		return nil
	}
	return t.parent.Submit(func() {
		t.enterRunning()
		defer t.exitRunning()
		fn()
	})
}

// ScheduleTimer delegates timer creation to the parent with a wrapped
// callback that brackets fn with the running count. The returned handle is
// the parent's, unmodified, so cancellation works through [Tracker.CancelTimer]
// or directly on the parent. A scheduled-but-unfired timer does not count as
// activity.
func (t *Tracker) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if fn == nil {
		return 0, nil
	}
	return t.parent.ScheduleTimer(delay, func() {
		t.enterRunning()
		defer t.exitRunning()
		fn()
	})
}

// CancelTimer cancels a timer through the parent context.
func (t *Tracker) CancelTimer(id TimerID) error {
	return t.parent.CancelTimer(id)
}

// IsActive reports whether any intercepted work is currently running or
// enqueued.
func (t *Tracker) IsActive() bool {
	return t.running.Load() > 0 || t.microtasks.Load() > 0
}

// Close clears all listeners and closes all subscriptions. Idempotent.
//
// Close does not cancel an in-flight settle-check; a check that fires after
// Close observes the closed tracker and performs no notification.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.listeners = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.markClosed()
	}

	t.logger.Debug().Uint64("tracker", t.id).Log("asynctracker: tracker closed")
	return nil
}

// enterRunning increments the running count.
func (t *Tracker) enterRunning() {
	n := t.running.Add(1)
	if m := t.metrics; m != nil {
		m.tasksTracked.Add(1)
		m.recordPeak(n)
	}
}

// exitRunning decrements the running count and re-evaluates. Runs via defer
// so the decrement happens exactly once even when the tracked body panics.
func (t *Tracker) exitRunning() {
	t.running.Add(-1)
	t.trigger()
}

// enterMicrotask increments the pending microtask count.
func (t *Tracker) enterMicrotask() {
	t.microtasks.Add(1)
	if m := t.metrics; m != nil {
		m.tasksTracked.Add(1)
	}
}

// exitMicrotask decrements the pending microtask count and re-evaluates.
func (t *Tracker) exitMicrotask() {
	t.microtasks.Add(-1)
	t.trigger()
}
