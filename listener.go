package asynctracker

// Listener is the removal handle for a callback registered with
// [Tracker.AddListener]. Go functions are not comparable, so removal is by
// handle rather than by the callback value itself.
type Listener struct {
	fn      func()
	tracker *Tracker
}

// Remove unregisters the listener. No-op on a nil handle (as returned by
// AddListener for a nil callback), if already removed, or if the tracker is
// closed.
func (l *Listener) Remove() {
	if l == nil {
		return
	}
	l.tracker.RemoveListener(l)
}

// AddListener registers a zero-argument callback invoked synchronously, in
// registration order, on every settle notification.
//
// Fails with [ErrTrackerClosed] if the tracker has been closed.
func (t *Tracker) AddListener(fn func()) (*Listener, error) {
	if fn == nil {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTrackerClosed
	}

	l := &Listener{fn: fn, tracker: t}
	t.listeners = append(t.listeners, l)
	return l, nil
}

// RemoveListener unregisters a previously added listener. No-op if the
// handle is nil or not present.
func (t *Tracker) RemoveListener(l *Listener) {
	if l == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, candidate := range t.listeners {
		if candidate == l {
			// Preserve registration order for the remaining listeners.
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}
