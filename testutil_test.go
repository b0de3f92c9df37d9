package asynctracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// manualScheduler is a deterministic Scheduler for tests: nothing runs until
// the test pumps it, and time only moves via advance(). Panics from pumped
// callbacks are recovered and returned, emulating a host runtime's
// unhandled-error channel.
type manualScheduler struct {
	mu         sync.Mutex
	tasks      []func()
	microtasks []func()
	timers     []*manualTimer
	nextID     uint64
	now        time.Duration
	terminated bool
}

type manualTimer struct {
	id  TimerID
	due time.Duration
	fn  func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{}
}

func (s *manualScheduler) Submit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return ErrLoopTerminated
	}
	s.tasks = append(s.tasks, fn)
	return nil
}

func (s *manualScheduler) ScheduleMicrotask(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return ErrLoopTerminated
	}
	s.microtasks = append(s.microtasks, fn)
	return nil
}

func (s *manualScheduler) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return 0, ErrLoopTerminated
	}
	s.nextID++
	t := &manualTimer{
		id:  TimerID(s.nextID),
		due: s.now + delay,
		fn:  fn,
	}
	s.timers = append(s.timers, t)
	return t.id, nil
}

func (s *manualScheduler) CancelTimer(id TimerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.timers {
		if t.id == id {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return nil
		}
	}
	return ErrTimerNotFound
}

// terminate makes every subsequent scheduling call fail, emulating a loop
// that has shut down.
func (s *manualScheduler) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
}

// runTasks executes all queued tasks, including tasks queued while running.
func (s *manualScheduler) runTasks() (panics []any) {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.mu.Unlock()
		panics = appendRecovered(panics, fn)
	}
}

// drainMicrotasks executes queued microtasks FIFO, including microtasks
// queued while draining.
func (s *manualScheduler) drainMicrotasks() (panics []any) {
	for {
		s.mu.Lock()
		if len(s.microtasks) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.microtasks[0]
		s.microtasks = s.microtasks[1:]
		s.mu.Unlock()
		panics = appendRecovered(panics, fn)
	}
}

// advance moves virtual time forward by d, firing due timers in deadline
// order (insertion order on ties) and draining microtasks after each.
func (s *manualScheduler) advance(d time.Duration) (panics []any) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		idx := -1
		for i, t := range s.timers {
			if t.due > target {
				continue
			}
			if idx == -1 || t.due < s.timers[idx].due {
				idx = i
			}
		}
		if idx == -1 {
			s.now = target
			s.mu.Unlock()
			return
		}
		t := s.timers[idx]
		s.timers = append(s.timers[:idx], s.timers[idx+1:]...)
		if t.due > s.now {
			s.now = t.due
		}
		s.mu.Unlock()

		panics = appendRecovered(panics, t.fn)
		panics = append(panics, s.drainMicrotasks()...)
	}
}

func (s *manualScheduler) microtaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.microtasks)
}

func (s *manualScheduler) timerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// appendRecovered runs fn, appending a recovered panic value, if any. The
// result is named so the deferred append survives an unwinding stack.
func appendRecovered(panics []any, fn func()) (out []any) {
	out = panics
	defer func() {
		if r := recover(); r != nil {
			out = append(out, r)
		}
	}()
	fn()
	return out
}

func TestPanicCaptureAccumulates(t *testing.T) {
	got := appendRecovered([]any{"earlier"}, func() { panic("boom") })
	assert.Equal(t, []any{"earlier", "boom"}, got)

	got = appendRecovered(got, func() {})
	assert.Equal(t, []any{"earlier", "boom"}, got)
}

// pendingCheck reports whether a settle-check is currently outstanding.
func (t *Tracker) pendingCheck() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduled
}
