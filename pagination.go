package querycache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type fetchMode uint8

const (
	fetchFirst fetchMode = iota
	fetchNext
	fetchRefresh
	fetchRetry
)

func (m fetchMode) String() string {
	switch m {
	case fetchFirst:
		return "first"
	case fetchNext:
		return "next"
	case fetchRefresh:
		return "refresh"
	default:
		return "retry"
	}
}

// StartQuery loads the first page of key unless it is already loaded or
// loading. A parked copy is restored first when one is valid.
func (e *Engine) StartQuery(ctx context.Context, key QueryKey) error {
	e.hydrate(ctx, key)
	return e.fetch(ctx, key, fetchFirst)
}

// FetchNext loads the page after the last one. It is a no-op while a fetch
// for key is in flight or when the last page had no next cursor. After an
// error it re-requests the cursor that failed. On a stale query it starts
// over from the first page.
func (e *Engine) FetchNext(ctx context.Context, key QueryKey) error {
	return e.fetch(ctx, key, fetchNext)
}

// Refresh refetches key from the first page and replaces all pages on
// success. An in-flight fetch for key is superseded and its response
// discarded.
func (e *Engine) Refresh(ctx context.Context, key QueryKey) error {
	return e.fetch(ctx, key, fetchRefresh)
}

// Retry repeats the failed fetch of an errored query with the same cursor.
// It is a no-op unless the query is in the error state.
func (e *Engine) Retry(ctx context.Context, key QueryKey) error {
	return e.fetch(ctx, key, fetchRetry)
}

// Reset discards the cached pages of key and returns it to idle. Entities
// stay in the map. Subscribers see an empty idle view.
func (e *Engine) Reset(key QueryKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.queries[key.String()]
	if !ok {
		return
	}
	e.resetPagesLocked(st)
	st.gen++
	st.inflight = false
	st.status = StatusIdle
	st.err = nil
	st.stale = false
	e.flushLocked()
}

func (e *Engine) fetch(ctx context.Context, key QueryKey, mode fetchMode) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	st := e.stateLocked(key)
	if st.inflight {
		if mode != fetchRefresh {
			e.mu.Unlock()
			return nil
		}
		st.gen++
		st.inflight = false
	}

	reset := mode == fetchRefresh || st.stale
	var cursor *string
	if !reset {
		switch mode {
		case fetchFirst:
			if st.status != StatusIdle {
				e.mu.Unlock()
				return nil
			}
		case fetchNext:
			if len(st.pages) > 0 && !st.hasMore() {
				e.mu.Unlock()
				return nil
			}
		case fetchRetry:
			if st.status != StatusError {
				e.mu.Unlock()
				return nil
			}
		}
		cursor = st.cursor()
	}

	if reset || len(st.pages) == 0 {
		st.status = StatusLoading
	} else {
		st.status = StatusLoadingMore
	}
	st.err = nil
	st.inflight = true
	obs := st.gen
	params := st.key.clone().Params
	normalize := e.normalizerLocked(key.Kind)
	itemKind := e.itemKindLocked(key.Kind)
	e.dirty[st.ks] = struct{}{}
	e.flushLocked()
	e.mu.Unlock()

	e.log.Debug("fetch started", Fields{"query": st.ks, "mode": mode.String(), "gen": obs})
	raw, err := e.fetchPage(ctx, st, params, cursor)
	var res PageResult
	if err == nil {
		res, err = normalizePage(normalize, key.Kind, itemKind, raw)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queries[st.ks] != st || st.gen != obs {
		e.hooks.StaleResponse(st.ks, obs)
		e.log.Debug("stale response discarded", Fields{"query": st.ks, "gen": obs, "current": st.gen})
		return nil
	}
	st.inflight = false

	if err != nil {
		// pages fetched before the failure stay visible
		st.status = StatusError
		st.err = err
		e.dirty[st.ks] = struct{}{}
		e.flushLocked()
		e.log.Warn("fetch failed", Fields{"query": st.ks, "mode": mode.String(), "err": err})
		return err
	}

	for _, ent := range res.Items {
		e.mergeLocked(ent)
	}
	if reset {
		e.resetPagesLocked(st)
		st.stale = false
	}
	refs := make([]Ref, len(res.Items))
	for i, ent := range res.Items {
		refs[i] = ent.Ref()
	}
	e.appendPageLocked(st, refs, res.NextCursor)
	st.status = StatusSuccess
	st.lastUsed = e.now()
	e.flushLocked()
	return nil
}

// fetchPage runs one bounded fetch, refreshing the session on auth errors.
func (e *Engine) fetchPage(ctx context.Context, st *queryState, params map[string]string, cursor *string) (any, error) {
	var raw any
	err := e.withAuth(ctx, func(ctx context.Context) error {
		v, err := bounded(ctx, e.fetchTimeout, func(ctx context.Context) (any, error) {
			return e.src.FetchPage(ctx, st.key.Kind, params, cursor)
		})
		raw = v
		return err
	})
	if errors.Is(err, ErrTimeout) {
		e.hooks.FetchTimeout(st.ks, e.fetchTimeout)
	}
	if err != nil {
		return nil, Classify(err)
	}
	return raw, nil
}

func normalizePage(n Normalizer, kind, itemKind string, raw any) (PageResult, error) {
	res, err := n(raw)
	if err != nil {
		return PageResult{}, &Error{Kind: KindValidation, Message: "normalize " + kind + " page", Err: err}
	}
	for i := range res.Items {
		if res.Items[i].Kind == "" {
			res.Items[i].Kind = itemKind
		}
		if res.Items[i].ID == "" {
			return PageResult{}, &Error{Kind: KindValidation, Message: fmt.Sprintf("normalize %s page: item %d has no id", kind, i)}
		}
	}
	return res, nil
}

// withAuth runs fn, refreshing the session and retrying on auth failures up
// to the configured number of times.
func (e *Engine) withAuth(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	for attempt := 1; attempt <= e.authRetries && e.session != nil && isKind(err, KindAuth); attempt++ {
		if rerr := e.session.Refresh(ctx); rerr != nil {
			e.log.Warn("session refresh failed", Fields{"attempt": attempt, "err": rerr})
			return err
		}
		e.hooks.AuthRefreshed(attempt)
		err = fn(ctx)
	}
	return err
}

type boundedResult[T any] struct {
	v   T
	err error
}

// bounded waits at most d for fn, even if fn ignores ctx. A late result is
// dropped.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan boundedResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- boundedResult[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, &Error{Kind: KindTimeout, Message: fmt.Sprintf("no response after %s", d), Err: ctx.Err()}
		}
		return zero, ctx.Err()
	}
}
