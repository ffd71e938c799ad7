package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/geniusbot/executor/internal/domain"
)

// ErrorKind classifies a venue failure.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "TIMEOUT"
	KindRateLimited  ErrorKind = "RATE_LIMITED"
	KindRejected     ErrorKind = "REJECTED"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindUnknown      ErrorKind = "UNKNOWN"
)

// Error is a classified venue failure. errors.Is matches it against the
// domain taxonomy: Timeout and RateLimited are transient, Unauthorized is
// systemic, everything else is fatal.
type Error struct {
	Kind   ErrorKind
	Status int    // HTTP status, 0 for transport failures
	Code   int    // venue error code, 0 when absent
	Msg    string // venue message
	Err    error  // underlying transport error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("venue %s: %v", e.Kind, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("venue %s (http %d, code %d): %s", e.Kind, e.Status, e.Code, e.Msg)
	default:
		return fmt.Sprintf("venue %s (http %d): %s", e.Kind, e.Status, e.Msg)
	}
}

// Unwrap exposes the matching domain sentinel and the transport error.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout, KindRateLimited:
		return domain.ErrAdapterTransient
	case KindUnauthorized:
		return domain.ErrAdapterSystemic
	default:
		return domain.ErrAdapterFatal
	}
}

// Rejected builds a fatal rejection raised before reaching the venue.
func Rejected(format string, args ...any) *Error {
	return &Error{Kind: KindRejected, Msg: fmt.Sprintf(format, args...)}
}

// classifyTransport maps a failed round trip. The request may or may not
// have reached the venue, so it is retried under the same client id.
func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Err: err}
	}
	return &Error{Kind: KindTimeout, Err: err}
}

// classifyStatus maps an HTTP error response.
func classifyStatus(status, code int, msg string) *Error {
	e := &Error{Status: status, Code: code, Msg: msg}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		e.Kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden,
		code == -2014 || code == -2015 || code == -1022:
		e.Kind = KindUnauthorized
	case status >= 400 && status < 500:
		e.Kind = KindRejected
	default:
		e.Kind = KindUnknown
	}
	return e
}
