package asynctracker

import "sync"

// Subscription is an independent receiver of settle events. Every
// subscription sees every event emitted while it is subscribed.
//
// C has a buffer of one: a settle event that arrives while a previous one is
// still unread coalesces with it, mirroring the debounce contract (a settle
// signal carries no payload, so pending signals are equivalent).
type Subscription struct {
	// C receives one payload-free event per settle notification.
	C <-chan struct{}

	c         chan struct{}
	done      chan struct{}
	tracker   *Tracker
	closeOnce sync.Once
}

// Subscribe registers a new subscription on the broadcast channel.
//
// Fails with [ErrTrackerClosed] if the tracker has been closed.
func (t *Tracker) Subscribe() (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTrackerClosed
	}

	s := &Subscription{
		c:       make(chan struct{}, 1),
		done:    make(chan struct{}),
		tracker: t,
	}
	s.C = s.c
	t.subs = append(t.subs, s)
	return s, nil
}

// Done returns a channel closed when the subscription is closed, either via
// [Subscription.Close] or because the tracker was closed. Receivers should
// select on Done alongside C; C itself is never closed, so a publish racing
// a close can never panic.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. Idempotent; pending unread events remain readable on C.
func (s *Subscription) Close() {
	s.tracker.removeSubscription(s)
	s.markClosed()
}

// publish delivers one settle event without blocking; if the subscriber has
// not consumed the previous event, the two coalesce.
func (s *Subscription) publish() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// markClosed closes the done channel exactly once.
func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() { close(s.done) })
}

// removeSubscription detaches s from the tracker's broadcast list. No-op if
// not present (e.g. already removed by Close on the tracker).
func (t *Tracker) removeSubscription(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, candidate := range t.subs {
		if candidate == s {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}
