package asynctracker

import "time"

// TimerID identifies a scheduled timer for cancellation.
//
// IDs are never reused within a Loop and zero is never a valid ID.
type TimerID uint64

// Scheduler is the scheduling surface tracked work is routed through: the
// "parent context" of a [Tracker].
//
// [Loop] is the production implementation. [Tracker] implements Scheduler
// too, so trackers nest: a child tracker's work is counted by its parent
// tracker as well.
//
// Semantics required of an implementation:
//   - Submit enqueues a task to run on the scheduler's execution timeline.
//   - ScheduleMicrotask enqueues a callback that runs before any pending
//     timer callbacks, FIFO within each tick.
//   - ScheduleTimer runs fn once after at least delay has elapsed, returning
//     a handle usable with CancelTimer. Cancelling an unknown or already
//     fired timer returns [ErrTimerNotFound].
//
// All methods must be safe for concurrent use and must return
// [ErrLoopTerminated] (or wrap it) once the scheduler has shut down.
type Scheduler interface {
	Submit(fn func()) error
	ScheduleMicrotask(fn func()) error
	ScheduleTimer(delay time.Duration, fn func()) (TimerID, error)
	CancelTimer(id TimerID) error
}
