package asynctracker

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// trackerOptions holds configuration options for Tracker creation.
type trackerOptions struct {
	parent         Scheduler
	debounce       time.Duration
	logger         *logiface.Logger[logiface.Event]
	metricsEnabled bool
}

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger                  *logiface.Logger[logiface.Event]
	taskBudget              int
	strictMicrotaskOrdering bool
}

// --- Tracker Options ---

// Option configures a Tracker instance.
type Option interface {
	applyTracker(*trackerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyTrackerFunc func(*trackerOptions) error
}

func (o *optionImpl) applyTracker(opts *trackerOptions) error {
	return o.applyTrackerFunc(opts)
}

// WithParent sets the parent context the tracker delegates scheduling to.
// When omitted, the tracker uses the ambient context of the constructing
// goroutine (see [Current]).
func WithParent(parent Scheduler) Option {
	return &optionImpl{func(opts *trackerOptions) error {
		opts.parent = parent
		return nil
	}}
}

// WithDebounce sets a fixed debounce delay for settle notifications.
//
// With a zero delay (default), the settle-check is scheduled as a microtask
// on the parent context. With a positive delay, it is scheduled as a single
// timer of that delay, coalescing bursts separated by idle gaps shorter than
// the window.
func WithDebounce(delay time.Duration) Option {
	return &optionImpl{func(opts *trackerOptions) error {
		if delay < 0 {
			return fmt.Errorf("asynctracker: negative debounce delay %v", delay)
		}
		opts.debounce = delay
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Tracker.
// When enabled, a snapshot can be read via Tracker.Metrics().
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *trackerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to trackerOptions.
func resolveOptions(opts []Option) (*trackerOptions, error) {
	cfg := &trackerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyTracker(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithTaskBudget sets the maximum number of queued tasks executed per tick.
// Exceeding the budget triggers Loop.OnOverload with [ErrLoopOverloaded].
func WithTaskBudget(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return fmt.Errorf("asynctracker: task budget must be positive, got %d", n)
		}
		opts.taskBudget = n
		return nil
	}}
}

// WithStrictMicrotaskOrdering sets whether microtasks are drained after each
// task execution. When disabled (default), microtasks are drained in batches
// at the end of each tick for better throughput.
func WithStrictMicrotaskOrdering(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.strictMicrotaskOrdering = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		taskBudget: 1024, // default
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Shared Options ---

// CommonOption is accepted by both [New] and [NewLoop].
type CommonOption interface {
	Option
	LoopOption
}

// commonOptionImpl implements CommonOption.
type commonOptionImpl struct {
	applyTrackerFunc func(*trackerOptions) error
	applyLoopFunc    func(*loopOptions) error
}

func (o *commonOptionImpl) applyTracker(opts *trackerOptions) error {
	return o.applyTrackerFunc(opts)
}

func (o *commonOptionImpl) applyLoop(opts *loopOptions) error {
	return o.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging
// (the default); logiface loggers are nil-safe, so no guard is required at
// call sites.
func WithLogger(logger *logiface.Logger[logiface.Event]) CommonOption {
	return &commonOptionImpl{
		applyTrackerFunc: func(opts *trackerOptions) error {
			opts.logger = logger
			return nil
		},
		applyLoopFunc: func(opts *loopOptions) error {
			opts.logger = logger
			return nil
		},
	}
}
