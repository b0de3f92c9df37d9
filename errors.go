package asynctracker

import "errors"

// Standard errors.
var (
	// ErrTrackerClosed is returned when an observer is registered on a
	// tracker after Close().
	ErrTrackerClosed = errors.New("asynctracker: tracker is closed")

	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that
	// is already running.
	ErrLoopAlreadyRunning = errors.New("asynctracker: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a
	// terminated loop.
	ErrLoopTerminated = errors.New("asynctracker: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop
	// itself.
	ErrReentrantRun = errors.New("asynctracker: cannot call Run() from within the loop")

	// ErrTimerNotFound is returned when cancelling a timer that does not
	// exist or has already fired.
	ErrTimerNotFound = errors.New("asynctracker: timer not found")

	// ErrLoopOverloaded is reported through Loop.OnOverload when the task
	// queue exceeds the tick budget.
	ErrLoopOverloaded = errors.New("asynctracker: loop is overloaded")
)
