// Package asynctracker detects quiescence ("settle") of an asynchronous
// execution subtree: given an entry point that schedules an unknown,
// dynamically-growing tree of deferred work, it notifies observers exactly
// when no further work from that subtree is pending or running, debounced so
// that observers see one settle event per burst of activity rather than one
// per individual completion.
//
// # Architecture
//
// Go has no global hook over the runtime's scheduling primitives, so tracked
// work must be routed through an explicit scheduler facade: the [Scheduler]
// interface (tasks, microtasks, timers). The package ships a production
// implementation of that facade, [Loop], a single-threaded cooperative event
// loop with a task queue, a microtask queue, and a timer min-heap.
//
// A [Tracker] wraps any parent [Scheduler] and exposes the same primitives,
// instrumented: every intercepted operation increments an activity counter
// before delegating to the parent and decrements it in a deferred block
// afterwards, then asks the settle detector to re-evaluate. Whenever activity
// drops to zero and at least one observer is registered, exactly one deferred
// settle-check is scheduled on the parent context - as a microtask by
// default, or as a single timer when a debounce delay is configured via
// [WithDebounce]. The check re-validates idleness immediately before firing,
// so bursts of rapid re-entrant scheduling collapse into at most one
// notification.
//
// # Observers
//
// Two calling conventions observe the same event:
//   - [Tracker.AddListener] registers a zero-argument callback, invoked
//     synchronously in registration order on every settle.
//   - [Tracker.Subscribe] returns a [Subscription] whose channel receives one
//     payload-free event per settle; independent subscribers each see every
//     event emitted while subscribed.
//
// # Thread Safety
//
// The tracked timeline is cooperative (a single [Loop] goroutine), but the
// public API is safe for concurrent use from any goroutine, matching the
// loop's own submission methods.
//
// # Error Semantics
//
// The tracker recovers nothing on behalf of the caller. A panic inside
// tracked work propagates through the parent context's normal unhandled-error
// channel ([Loop] recovers and logs it, as it does for any task) after the
// tracker's counter bookkeeping has run. A panic inside a settle listener
// propagates from the context that executed the settle-check. The only usage
// error is registering an observer on a closed tracker, which fails with
// [ErrTrackerClosed].
//
// # Usage
//
//	loop, err := asynctracker.NewLoop()
//	if err != nil {
//		log.Fatal(err)
//	}
//	go loop.Run(context.Background())
//
//	tracker, err := asynctracker.New(asynctracker.WithParent(loop))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tracker.Close()
//
//	tracker.AddListener(func() {
//		fmt.Println("subtree settled")
//	})
//
//	tracker.Run(func() {
//		tracker.ScheduleMicrotask(func() { /* deferred work */ })
//		tracker.ScheduleTimer(50*time.Millisecond, func() { /* later */ })
//	})
package asynctracker
