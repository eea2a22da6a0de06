package crm

import (
	"sync"
	"time"
)

// BreakerState identifies the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker gates calls to a single downstream host. It is shared across all
// contacts because it reflects host health, not per-customer state.
type Breaker struct {
	mu sync.Mutex

	threshold    int
	resetTimeout time.Duration
	maxProbes    int
	now          func() time.Time

	state          BreakerState
	failureCount   int
	lastFailure    time.Time
	probesInFlight int
}

// BreakerStatus is a point-in-time snapshot for health reporting.
type BreakerStatus struct {
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	LastFailure  *time.Time   `json:"last_failure,omitempty"`
}

// NewBreaker creates a closed breaker. Zero or negative arguments fall back
// to threshold 5, reset timeout 60s, one half-open probe.
func NewBreaker(threshold int, resetTimeout time.Duration, maxProbes int) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	if maxProbes <= 0 {
		maxProbes = 1
	}
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		maxProbes:    maxProbes,
		now:          time.Now,
		state:        BreakerClosed,
	}
}

// Allow decides whether a call may proceed. It returns nil when the call is
// permitted, a CircuitOpenError while the breaker is open, and a
// HalfOpenLimitError when the half-open probe budget is spent. Callers that
// receive nil must report the outcome with RecordSuccess or RecordFailure
// exactly once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.resetTimeout {
			return &CircuitOpenError{RetryAfter: b.resetTimeout - elapsed}
		}
		b.state = BreakerHalfOpen
		b.probesInFlight = 1
		return nil
	case BreakerHalfOpen:
		if b.probesInFlight >= b.maxProbes {
			return &HalfOpenLimitError{}
		}
		b.probesInFlight++
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probesInFlight = 0
	}
	b.state = BreakerClosed
	b.failureCount = 0
}

// RecordFailure reports a failed call. It is called once per logical call,
// not once per retry attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	switch b.state {
	case BreakerHalfOpen:
		b.probesInFlight = 0
		b.state = BreakerOpen
	case BreakerClosed:
		if b.failureCount >= b.threshold {
			b.state = BreakerOpen
		}
	}
}

// Status returns a snapshot for health checks and metrics.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := BreakerStatus{
		State:        b.state,
		FailureCount: b.failureCount,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		status.LastFailure = &t
	}
	return status
}
