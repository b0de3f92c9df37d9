package asynctracker

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State machine:
//
//	StateAwake (0) → StateRunning (3)       [Run()]
//	StateRunning (3) → StateSleeping (2)    [idle wait via CAS]
//	StateRunning (3) → StateTerminating (4) [Shutdown()/Close()]
//	StateSleeping (2) → StateRunning (3)    [wakeup via CAS]
//	StateSleeping (2) → StateTerminating (4) [Shutdown()/Close()]
//	StateAwake (0) → StateTerminated (1)    [Shutdown()/Close() before Run()]
//	StateTerminating (4) → StateTerminated (1) [drain complete]
//	StateTerminated (1) → (terminal)
//
// Temporary states (Running, Sleeping) are entered via TryTransition (CAS);
// irreversible states use Store.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is blocked waiting for work.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively processing tasks.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding to prevent
// false sharing with neighbouring fields.
type fastState struct {
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      //nolint:unused
}

// newFastState creates a state machine in the Awake state.
func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state. Only for irreversible transitions.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// CanAcceptWork returns true if the loop can accept new work. Work is
// accepted during StateTerminating so the drain pass can still observe it.
func (s *fastState) CanAcceptWork() bool {
	return s.Load() != StateTerminated
}
