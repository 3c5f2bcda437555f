package querycache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies data source failures for handling purposes.
type ErrorKind uint8

const (
	// KindNetwork is transient; the caller may retry.
	KindNetwork ErrorKind = iota + 1
	// KindValidation is surfaced to the caller and never retried by the engine.
	KindValidation
	// KindAuth triggers a bounded session refresh and retry before surfacing.
	KindAuth
	// KindNotFound evicts the entity from the cache and every list.
	KindNotFound
	// KindConflict is treated as an idempotent soft success (double toggle).
	KindConflict
	// KindTimeout is a fetch or write that exceeded the engine's bounded wait.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// kindSentinel lets errors.Is(err, ErrNotFound) match any *Error of that kind.
type kindSentinel ErrorKind

func (s kindSentinel) Error() string { return "querycache: " + ErrorKind(s).String() + " error" }

var (
	ErrNetwork    error = kindSentinel(KindNetwork)
	ErrValidation error = kindSentinel(KindValidation)
	ErrAuth       error = kindSentinel(KindAuth)
	ErrNotFound   error = kindSentinel(KindNotFound)
	ErrConflict   error = kindSentinel(KindConflict)
	ErrTimeout    error = kindSentinel(KindTimeout)
)

// Error is what data sources return (or what the engine classifies their
// errors into): {kind, message, httpStatus}.
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.HTTPStatus, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := target.(kindSentinel)
	return ok && ErrorKind(s) == e.Kind
}

// Classify returns err as an *Error. Errors already classified pass through;
// context deadlines become KindTimeout; anything else is KindNetwork so the
// caller can retry.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var ks kindSentinel
	if errors.As(err, &ks) {
		return &Error{Kind: ErrorKind(ks), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "deadline exceeded", Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// FromHTTPStatus maps a failed HTTP response to the taxonomy. Data source
// adapters built on net/http can return its result directly.
func FromHTTPStatus(status int, message string) *Error {
	var k ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		k = KindAuth
	case status == http.StatusNotFound || status == http.StatusGone:
		k = KindNotFound
	case status == http.StatusConflict:
		k = KindConflict
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		k = KindTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		k = KindNetwork
	case status >= 400:
		k = KindValidation
	default:
		k = KindNetwork
	}
	return &Error{Kind: k, Message: message, HTTPStatus: status}
}

func isKind(err error, k ErrorKind) bool {
	ce := Classify(err)
	return ce != nil && ce.Kind == k
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	ce := Classify(err)
	return ce != nil && (ce.Kind == KindNetwork || ce.Kind == KindTimeout)
}

// MutationError is returned by Mutate for every failed write. RolledBack is
// false only when there was nothing to roll back (the target was not cached,
// or it vanished and was evicted).
type MutationError struct {
	Ref        Ref
	Op         string
	RolledBack bool
	Err        error
}

func (e *MutationError) Error() string {
	state := "rolled back"
	if !e.RolledBack {
		state = "not applied"
	}
	return fmt.Sprintf("mutation %s on %s failed (%s): %v", e.Op, e.Ref, state, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
