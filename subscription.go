package querycache

import "context"

// Subscription delivers views of one query. Updates holds at most one view:
// a slow reader skips intermediate states but always sees the latest.
type Subscription struct {
	e      *Engine
	st     *queryState
	ch     chan View
	closed bool
}

// Updates is closed when the subscription or the engine is closed.
func (s *Subscription) Updates() <-chan View { return s.ch }

// Key returns the subscribed query.
func (s *Subscription) Key() QueryKey { return s.st.key.clone() }

// View returns the current view without waiting for an update.
func (s *Subscription) View() View {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.viewLocked(s.st)
}

func (s *Subscription) FetchNext(ctx context.Context) error { return s.e.FetchNext(ctx, s.st.key) }

func (s *Subscription) Refresh(ctx context.Context) error { return s.e.Refresh(ctx, s.st.key) }

func (s *Subscription) Retry(ctx context.Context) error { return s.e.Retry(ctx, s.st.key) }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.closed {
		return
	}
	delete(s.st.subs, s)
	s.st.lastUsed = s.e.now()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// pushLocked replaces any unread view with v.
func (s *Subscription) pushLocked(v View) {
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

// Subscribe registers interest in key, delivers the current view, and starts
// the first fetch if the query has never loaded. A subscribed query is never
// evicted by the idle sweep. The returned error is the first fetch's; the
// subscription is valid either way.
func (e *Engine) Subscribe(ctx context.Context, key QueryKey) (*Subscription, error) {
	e.hydrate(ctx, key)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	st := e.stateLocked(key)
	sub := &Subscription{e: e, st: st, ch: make(chan View, 1)}
	if st.subs == nil {
		st.subs = make(map[*Subscription]struct{})
	}
	st.subs[sub] = struct{}{}
	sub.pushLocked(e.viewLocked(st))
	e.mu.Unlock()

	return sub, e.fetch(ctx, key, fetchFirst)
}
