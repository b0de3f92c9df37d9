package asynctracker

import (
	"context"
	"sync"

	"github.com/petermattis/goid"
)

// ambientLoops maps a running loop's goroutine ID to the *Loop, so code
// executing on a loop can resolve its own context without plumbing.
var ambientLoops sync.Map

var defaultLoop struct {
	once sync.Once
	loop *Loop
}

// Current returns the ambient scheduling context of the calling goroutine:
// the [Loop] whose Run is executing on this goroutine, if any, otherwise the
// shared [Default] loop.
//
// This is the parent context a [Tracker] uses when [WithParent] is omitted.
func Current() Scheduler {
	if l, ok := ambientLoops.Load(goid.Get()); ok {
		return l.(*Loop)
	}
	return Default()
}

// Default returns the process-wide shared loop, started lazily on first use
// and never shut down. Prefer owning a [Loop] explicitly; Default exists so
// a [Tracker] constructed without a parent still has a working timeline.
func Default() *Loop {
	defaultLoop.once.Do(func() {
		loop, err := NewLoop()
		if err != nil {
			// NewLoop without options cannot fail; guard regardless.
			panic(err)
		}
		defaultLoop.loop = loop
		go func() { _ = loop.Run(context.Background()) }()
	})
	return defaultLoop.loop
}
