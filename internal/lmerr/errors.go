package lmerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAuth is returned when credentials or tokens are rejected.
	ErrAuth = errors.New("lamarzocco: authentication failed")

	// ErrNotFound is returned for an unknown serial number or resource.
	ErrNotFound = errors.New("lamarzocco: not found")

	// ErrValidation is returned when a value fails a local range check.
	ErrValidation = errors.New("lamarzocco: validation failed")

	// ErrTransient is returned on server errors and timeouts.
	ErrTransient = errors.New("lamarzocco: transient failure")

	// ErrRateLimited is returned when the server answers 429.
	ErrRateLimited = errors.New("lamarzocco: rate limited")

	// ErrConnection is returned when a local or Bluetooth endpoint is unreachable.
	ErrConnection = errors.New("lamarzocco: connection failed")

	// ErrPairingModeRequired is returned when the BLE token is read outside pairing mode.
	ErrPairingModeRequired = errors.New("lamarzocco: machine not in pairing mode")

	// ErrRequestFailed is returned for any other non-success response.
	ErrRequestFailed = errors.New("lamarzocco: request failed")

	// ErrUnsupported is returned when no configured transport supports an operation.
	ErrUnsupported = errors.New("lamarzocco: operation not supported")
)

// StatusError describes a non-success HTTP response.
type StatusError struct {
	Kind       error
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%v: status %d from %s", e.Kind, e.StatusCode, e.URL)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Kind }

// RateLimitedError carries the server's retry hint. RetryAfter is zero when
// the response carried no usable Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
	URL        string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v: %s (retry after %s)", ErrRateLimited, e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("%v: %s", ErrRateLimited, e.URL)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// ValidationError reports a value outside the vendor-declared range of a field.
type ValidationError struct {
	Field  string
	Value  float64
	Min    float64
	Max    float64
	Step   float64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
	}
	if e.Step > 0 {
		return fmt.Sprintf("%v: %s=%g outside [%g, %g] step %g", ErrValidation, e.Field, e.Value, e.Min, e.Max, e.Step)
	}
	return fmt.Sprintf("%v: %s=%g outside [%g, %g]", ErrValidation, e.Field, e.Value, e.Min, e.Max)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError that is not a numeric range failure.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

const maxBodyInError = 256

// FromResponse maps an HTTP status to the taxonomy. It returns nil for 2xx.
func FromResponse(status int, header http.Header, url string, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()), URL: url}
	}

	kind := ErrRequestFailed
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status >= 500:
		kind = ErrTransient
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxBodyInError {
		text = text[:maxBodyInError] + "..."
	}
	return &StatusError{Kind: kind, StatusCode: status, URL: url, Body: text}
}

// FromTransport maps a client.Do / dial failure onto the taxonomy.
// Context cancellation is returned unchanged.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// RetryAfter extracts the retry hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether a caller-driven retry with backoff makes sense.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
