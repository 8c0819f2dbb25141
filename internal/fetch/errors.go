package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure taxonomy for outbound calls. Callers branch with errors.Is:
// Throttled and Unavailable are retried with backoff and feed the circuit
// breaker; ClientError and NotFound are surfaced immediately because they
// indicate a caller bug or an expected absence, not service degradation.
var (
	ErrThrottled   = errors.New("throttled")
	ErrUnavailable = errors.New("unavailable")
	ErrClientError = errors.New("client error")
	ErrNotFound    = errors.New("not found")
)

// StatusError carries the HTTP status behind a taxonomy sentinel.
type StatusError struct {
	Service    string
	StatusCode int
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d (%s)", e.Service, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error { return e.kind }

// classifyStatus maps an HTTP status code onto the failure taxonomy.
// A nil return means the response is usable.
func classifyStatus(service string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &StatusError{Service: service, StatusCode: code, kind: ErrThrottled}
	case code == http.StatusNotFound:
		return &StatusError{Service: service, StatusCode: code, kind: ErrNotFound}
	case code >= 500 || code == http.StatusRequestTimeout:
		return &StatusError{Service: service, StatusCode: code, kind: ErrUnavailable}
	case code >= 400:
		return &StatusError{Service: service, StatusCode: code, kind: ErrClientError}
	default:
		return &StatusError{Service: service, StatusCode: code, kind: ErrUnavailable}
	}
}

// Retryable reports whether the retry loop should spend budget on err.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
