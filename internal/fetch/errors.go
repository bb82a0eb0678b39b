package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Failure kinds surfaced by the client. Match them with errors.Is.
var (
	// ErrTransientServer is a 5xx from the remote; retried on POST.
	ErrTransientServer = errors.New("transient server error")
	// ErrReadTimeout means the remote did not answer within the read deadline.
	ErrReadTimeout = errors.New("read timeout")
	// ErrClient is a non-retryable 4xx or a request the client refused to send.
	ErrClient = errors.New("client error")
)

// StatusError carries the failure kind together with the request it belongs to.
type StatusError struct {
	URL        string
	StatusCode int
	Kind       error
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.URL, e.Kind)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *StatusError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err is worth another POST attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientServer)
}

// Classify maps a response status and transport error onto the failure kinds.
// It returns nil for a successful exchange.
func Classify(url string, status int, err error) error {
	switch {
	case status >= http.StatusInternalServerError:
		return &StatusError{URL: url, StatusCode: status, Kind: ErrTransientServer, Err: err}
	case status >= http.StatusBadRequest:
		return &StatusError{URL: url, StatusCode: status, Kind: ErrClient, Err: err}
	case err == nil:
		return nil
	case isTimeout(err):
		return &StatusError{URL: url, Kind: ErrReadTimeout, Err: err}
	default:
		return fmt.Errorf("fetch %s: %w", url, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
