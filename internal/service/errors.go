package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies provider and engine failures.
type ErrorKind string

const (
	// KindConfiguration covers unknown providers/kinds and invalid parameters.
	// Never retried; the Area is marked unevaluable.
	KindConfiguration ErrorKind = "configuration"
	// KindAuthorization covers expired or revoked credentials unresolvable by
	// refresh. Never retried; the owner must reconnect the provider.
	KindAuthorization ErrorKind = "authorization"
	// KindTransient covers timeouts, rate limits, and 5xx responses. Retried
	// with backoff up to a ceiling.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers provider rejections that retrying cannot fix
	// (4xx other than auth and rate limit).
	KindPermanent ErrorKind = "permanent"
	// KindInternal covers engine-local failures (queue full, store errors).
	KindInternal ErrorKind = "internal"
)

// Error is a classified provider or engine failure.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s status=%d", e.Provider, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s error", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Errorf builds a classified error with a formatted message.
func Errorf(provider string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Provider: provider,
		Kind:     kind,
		Err:      fmt.Errorf(format, args...),
	}
}

// StatusError classifies a non-2xx provider response by status code.
func StatusError(provider string, statusCode int, body string) *Error {
	kind := KindPermanent
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = KindAuthorization
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout:
		kind = KindTransient
	case statusCode >= http.StatusInternalServerError:
		kind = KindTransient
	}
	if len(body) > 256 {
		body = body[:256] + "...(truncated)"
	}
	return &Error{
		Provider:   provider,
		Kind:       kind,
		StatusCode: statusCode,
		Err:        fmt.Errorf("%s: status=%d body=%s", provider, statusCode, body),
	}
}

// KindOf extracts the classification of err. Unclassified network and deadline
// failures count as transient; anything else unknown is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindInternal
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanentForArea reports whether err should mark the Area unevaluable.
func IsPermanentForArea(err error) bool {
	kind := KindOf(err)
	return kind == KindConfiguration || kind == KindAuthorization
}
