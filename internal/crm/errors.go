package crm

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned without issuing a network call while the
// breaker is open and the reset timeout has not elapsed.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("crm: circuit open, retry after %s", e.RetryAfter.Round(time.Second))
}

// HalfOpenLimitError is returned when the breaker is half-open and the probe
// budget is already consumed by concurrent calls.
type HalfOpenLimitError struct{}

func (e *HalfOpenLimitError) Error() string {
	return "crm: circuit half-open, probe limit reached"
}

// RetryExhaustedError wraps the last failure after all retry attempts are spent.
type RetryExhaustedError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	if e.LastStatus > 0 {
		return fmt.Sprintf("crm: retries exhausted after %d attempts, last status %d", e.Attempts, e.LastStatus)
	}
	return fmt.Sprintf("crm: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// ClientError is a non-retryable HTTP 4xx from the CRM.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("crm: client error %d: %s", e.Status, e.Body)
}

// NetworkError is a connection-level failure (reset, timeout, DNS).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("crm: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the CRM.
func IsNotFound(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Status == 404
}

// IsUnavailable reports whether err indicates the CRM is temporarily
// unreachable, as opposed to a caller mistake.
func IsUnavailable(err error) bool {
	var (
		open    *CircuitOpenError
		limit   *HalfOpenLimitError
		retries *RetryExhaustedError
		network *NetworkError
	)
	return errors.As(err, &open) ||
		errors.As(err, &limit) ||
		errors.As(err, &retries) ||
		errors.As(err, &network)
}
