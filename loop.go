package asynctracker

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/petermattis/goid"
)

// Loop is a single-threaded cooperative event loop: the production
// implementation of [Scheduler], and the default parent context of a
// [Tracker].
//
// All callbacks - tasks, microtasks, timer callbacks - execute on the single
// goroutine that called [Loop.Run]. Submission methods are safe to call from
// any goroutine.
//
// Processing order within each tick:
//  1. Expired timer callbacks (earliest deadline first)
//  2. Queued tasks ([Loop.Submit]), up to the tick budget
//  3. Microtasks ([Loop.ScheduleMicrotask]), FIFO
//
// A panic inside a callback is recovered and logged; it terminates the
// callback, not the loop. This is the loop's unhandled-error channel.
type Loop struct {
	// Prevent copying
	_ [0]func()

	// OnOverload, if set, is invoked from the loop goroutine whenever the
	// task queue exceeds the tick budget.
	OnOverload func(error)

	// State machine (cache-line padded internally)
	state *fastState

	logger *logiface.Logger[logiface.Event]

	mu         sync.Mutex
	tasks      []func()
	microtasks []func()
	timers     timerHeap
	timerByID  map[TimerID]*loopTimer

	nextTimerID atomic.Uint64

	// Wake-up signal for the sleeping loop (capacity 1, send never blocks)
	wake chan struct{}

	// Closed when run exits, signalling completion to Shutdown waiters
	loopDone chan struct{}

	// Goroutine tracking
	loopGoroutineID atomic.Int64

	// Timing: monotonic offset from anchor (initialized once at Run)
	tickAnchor      time.Time
	tickElapsedTime atomic.Int64

	tickCount uint64
	id        uint64

	taskBudget              int
	strictMicrotaskOrdering bool
}

// loopTimer is a scheduled one-shot callback. Cancellation flags the entry
// rather than removing it from the heap; flagged entries are skipped on pop.
type loopTimer struct {
	when     time.Time
	fn       func()
	id       TimerID
	canceled bool
}

// timerHeap is a min-heap of timers ordered by deadline.
type timerHeap []*loopTimer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*loopTimer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

var loopIDCounter atomic.Uint64

// NewLoop creates a new event loop.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Loop{
		id:        loopIDCounter.Add(1),
		state:     newFastState(),
		timers:    make(timerHeap, 0),
		timerByID: make(map[TimerID]*loopTimer),
		wake:      make(chan struct{}, 1),
		loopDone:  make(chan struct{}),

		logger:                  cfg.logger,
		taskBudget:              cfg.taskBudget,
		strictMicrotaskOrdering: cfg.strictMicrotaskOrdering,
	}, nil
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown(), Close(), or ctx
// cancellation). To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopGoroutine() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	// Reference point for monotonic time
	l.tickAnchor = time.Now()
	l.tickElapsedTime.Store(0)

	return l.run(ctx)
}

// run is the main loop body, on the loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	gid := goid.Get()
	l.loopGoroutineID.Store(gid)
	ambientLoops.Store(gid, l)
	defer func() {
		ambientLoops.Delete(gid)
		l.loopGoroutineID.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			for {
				current := l.state.Load()
				if current == StateTerminating || current == StateTerminated {
					break
				}
				if l.state.TryTransition(current, StateTerminating) {
					break
				}
			}
			l.drain()
			return ctx.Err()
		default:
		}

		if st := l.state.Load(); st == StateTerminating || st == StateTerminated {
			l.drain()
			return nil
		}

		l.tick()
		l.sleep(ctx)
	}
}

// tick is a single iteration of the event loop.
func (l *Loop) tick() {
	l.tickCount++

	// time.Since uses the monotonic clock, so timers stay accurate even if
	// the wall clock is adjusted
	l.tickElapsedTime.Store(int64(time.Since(l.tickAnchor)))

	l.runTimers()
	l.processTasks()
	l.drainMicrotasks()
}

// runTimers executes all expired timers.
func (l *Loop) runTimers() {
	now := l.CurrentTickTime()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*loopTimer)
		canceled := t.canceled
		if !canceled {
			delete(l.timerByID, t.id)
		}
		l.mu.Unlock()

		if canceled {
			continue
		}
		l.safeExecute(t.fn)
		if l.strictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

// processTasks executes queued tasks with the tick budget.
func (l *Loop) processTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for i, fn := range tasks {
		if i == l.taskBudget {
			// Requeue the remainder ahead of anything submitted meanwhile.
			l.mu.Lock()
			l.tasks = append(tasks[i:], l.tasks...)
			l.mu.Unlock()
			if l.OnOverload != nil {
				l.safeExecute(func() { l.OnOverload(ErrLoopOverloaded) })
			}
			return
		}
		l.safeExecute(fn)
		if l.strictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

// drainMicrotasks drains the microtask queue, FIFO, with a budget to bound a
// single drain against re-entrant scheduling.
func (l *Loop) drainMicrotasks() {
	const budget = 1024

	for i := 0; i < budget; i++ {
		l.mu.Lock()
		if len(l.microtasks) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.microtasks[0]
		l.microtasks[0] = nil
		l.microtasks = l.microtasks[1:]
		l.mu.Unlock()

		l.safeExecute(fn)
	}
}

// sleep blocks until there is work to do, the next timer is due, or the
// context is cancelled.
func (l *Loop) sleep(ctx context.Context) {
	timeout, ok := l.sleepTimeout()
	if !ok {
		return
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-l.wake:
	case <-t.C:
	case <-ctx.Done():
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// sleepTimeout computes how long the loop may sleep. Returns ok=false when
// there is pending work and the loop must not sleep at all.
func (l *Loop) sleepTimeout() (time.Duration, bool) {
	maxDelay := 10 * time.Second

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) > 0 || len(l.microtasks) > 0 {
		return 0, false
	}

	// A canceled heap head only causes a spurious early wake, which is
	// harmless, so it is not skipped here.
	if len(l.timers) > 0 {
		delay := l.timers[0].when.Sub(l.CurrentTickTime())
		if delay <= 0 {
			return 0, false
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	return maxDelay, true
}

// drain executes all remaining queued tasks and microtasks, then marks the
// loop terminated. Timers that have not yet expired are discarded.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		microtasks := l.microtasks
		l.microtasks = nil
		l.mu.Unlock()

		if len(tasks) == 0 && len(microtasks) == 0 {
			break
		}
		for _, fn := range tasks {
			l.safeExecute(fn)
		}
		for _, fn := range microtasks {
			l.safeExecute(fn)
		}
	}

	l.state.Store(StateTerminated)
}

// Shutdown gracefully shuts down the event loop.
//
// Shutdown waits for queued tasks and microtasks to complete. It blocks
// until termination completes or ctx expires. Calling Shutdown on an already
// terminated loop returns [ErrLoopTerminated].
func (l *Loop) Shutdown(ctx context.Context) error {
	for {
		current := l.state.Load()
		switch current {
		case StateTerminated:
			return ErrLoopTerminated
		case StateTerminating:
			// Another shutdown is in flight; fall through and wait.
		case StateAwake:
			// Run was never called; terminate directly.
			if !l.state.TryTransition(StateAwake, StateTerminated) {
				continue
			}
			return nil
		default:
			if !l.state.TryTransition(current, StateTerminating) {
				continue
			}
			l.wakeup()
		}
		break
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests immediate termination without waiting for completion.
// Queued tasks and microtasks are still drained on the loop goroutine.
func (l *Loop) Close() error {
	for {
		current := l.state.Load()
		switch current {
		case StateTerminated:
			return ErrLoopTerminated
		case StateTerminating:
			return nil
		case StateAwake:
			if !l.state.TryTransition(StateAwake, StateTerminated) {
				continue
			}
			return nil
		default:
			if !l.state.TryTransition(current, StateTerminating) {
				continue
			}
			l.wakeup()
			return nil
		}
	}
}

// Submit submits a task to the task queue.
//
// Tasks are accepted during StateTerminating so the drain pass can still run
// them; only a fully terminated loop rejects work.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return nil
	}
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	l.wakeup()
	return nil
}

// ScheduleMicrotask schedules a callback that runs before any pending timer
// callbacks, FIFO within each tick.
func (l *Loop) ScheduleMicrotask(fn func()) error {
	if fn == nil {
		return nil
	}
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}

	l.mu.Lock()
	l.microtasks = append(l.microtasks, fn)
	l.mu.Unlock()

	l.wakeup()
	return nil
}

// ScheduleTimer schedules fn to run once after the specified delay.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if fn == nil {
		return 0, nil
	}
	if !l.state.CanAcceptWork() {
		return 0, ErrLoopTerminated
	}
	if delay < 0 {
		delay = 0
	}

	t := &loopTimer{
		when: l.CurrentTickTime().Add(delay),
		fn:   fn,
		id:   TimerID(l.nextTimerID.Add(1)),
	}

	l.mu.Lock()
	heap.Push(&l.timers, t)
	l.timerByID[t.id] = t
	l.mu.Unlock()

	l.wakeup()
	return t.id, nil
}

// CancelTimer cancels a scheduled timer by its ID.
//
// Returns [ErrTimerNotFound] if the timer ID is invalid or has already
// fired. Safe to call multiple times for the same ID.
func (l *Loop) CancelTimer(id TimerID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.timerByID[id]
	if !ok {
		return ErrTimerNotFound
	}
	t.canceled = true
	delete(l.timerByID, id)
	return nil
}

// wakeup signals the sleeping loop. Never blocks; redundant signals coalesce.
func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// CurrentTickTime returns the cached monotonic time for the current tick.
// Before Run it falls back to time.Now().
func (l *Loop) CurrentTickTime() time.Time {
	if l.tickAnchor.IsZero() {
		return time.Now()
	}
	return l.tickAnchor.Add(time.Duration(l.tickElapsedTime.Load()))
}

// SetTickAnchor sets the tick anchor time (for testing only).
func (l *Loop) SetTickAnchor(t time.Time) {
	l.tickAnchor = t
	l.tickElapsedTime.Store(0)
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// safeExecute executes a callback with panic recovery: the loop's
// unhandled-error channel.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if l.logger != nil {
				l.logger.Err().
					Uint64("loop", l.id).
					Any("panic", r).
					Log("asynctracker: task panicked")
			} else {
				log.Printf("ERROR: asynctracker: loop %d: task panicked: %v", l.id, r)
			}
		}
	}()

	fn()
}

// isLoopGoroutine checks if the caller is on the loop goroutine.
func (l *Loop) isLoopGoroutine() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && id == goid.Get()
}
