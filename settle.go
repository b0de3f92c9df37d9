package asynctracker

// Settle detector: owns the schedule flag and the deferred settle-check.
// The interception layer only ever calls trigger; the decision whether and
// when to notify lives entirely here, which keeps the two layers from
// double-firing under re-entrant scheduling.

// trigger re-evaluates after every counter change. It schedules at most one
// deferred settle-check, and only when the tracker is idle, open, observed,
// and no check is already outstanding.
func (t *Tracker) trigger() {
	if t.IsActive() {
		return
	}

	t.mu.Lock()
	if t.closed || t.scheduled || !t.hasObserverLocked() {
		t.mu.Unlock()
		return
	}
	t.scheduled = true
	t.mu.Unlock()

	// The check is scheduled on the parent, not through the tracker's own
	// instrumented primitives, so the check itself is never re-counted.
	var (
		id  TimerID
		err error
	)
	if t.debounce > 0 {
		id, err = t.parent.ScheduleTimer(t.debounce, t.settleCheck)
	} else {
		err = t.parent.ScheduleMicrotask(t.settleCheck)
	}

	t.mu.Lock()
	if err != nil {
		// Parent is shutting down; there is no timeline left to notify on.
		t.scheduled = false
		t.mu.Unlock()
		t.logger.Debug().Uint64("tracker", t.id).Err(err).Log("asynctracker: settle-check not scheduled")
		return
	}
	if t.scheduled {
		// The check may already have run (a zero-ish debounce firing before
		// this lock is re-acquired); record the handle only while the check
		// is still outstanding.
		t.debounceTimer = id
	}
	t.mu.Unlock()

	if m := t.metrics; m != nil {
		m.checksScheduled.Add(1)
	}
}

// settleCheck is the deferred re-validation step. It re-checks idleness
// immediately before firing: work scheduled between the check being queued
// and it running suppresses the notification entirely, collapsing bursts
// into at most one event.
func (t *Tracker) settleCheck() {
	t.mu.Lock()
	t.scheduled = false
	t.debounceTimer = 0

	if t.closed || !t.hasObserverLocked() || t.IsActive() {
		t.mu.Unlock()
		if m := t.metrics; m != nil {
			m.checksSuppressed.Add(1)
		}
		return
	}

	subs := make([]*Subscription, len(t.subs))
	copy(subs, t.subs)
	listeners := make([]*Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	if m := t.metrics; m != nil {
		m.settles.Add(1)
	}
	t.logger.Debug().Uint64("tracker", t.id).Log("asynctracker: settled")

	// Broadcast first, then direct listeners in registration order. A
	// listener panic propagates from the scheduling context that ran this
	// check; deliveries already made are unaffected, and the detector never
	// retries.
	for _, s := range subs {
		s.publish()
	}
	for _, l := range listeners {
		l.fn()
	}
}

// hasObserverLocked reports whether firing is worthwhile. Caller holds t.mu.
func (t *Tracker) hasObserverLocked() bool {
	return len(t.listeners) > 0 || len(t.subs) > 0
}
