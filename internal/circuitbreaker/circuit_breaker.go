package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker tuning.
type Config struct {
	MaxRequests      uint32        // max probes allowed while half-open
	Interval         time.Duration // closed-state failure-streak reset window
	Timeout          time.Duration // open → half-open wait
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // consecutive half-open successes that close it
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns the defaults used for the LLM backend.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker guards the completion backend. Consecutive failures past
// the threshold open it; after Timeout it admits a bounded number of probes
// and closes again once enough of them succeed.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	epoch       uint64 // bumped on every transition; stale results are discarded
	failures    uint32 // consecutive failures while closed
	successes   uint32 // consecutive probe successes while half-open
	probes      uint32 // probes in flight while half-open
	openedAt    time.Time
	windowStart time.Time
}

// New creates a circuit breaker.
func New(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		config:      config,
		logger:      logger,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Execute runs fn if the breaker admits the request, recording the result.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	epoch, err := cb.admit(time.Now())
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			// fn panicked; count it as a failure before re-panicking.
			cb.record(epoch, false)
		}
	}()

	err = fn()
	done = true
	cb.record(epoch, err == nil)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit(now time.Time) (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.config.Timeout {
			return cb.epoch, ErrOpen
		}
		cb.transition(StateHalfOpen, now)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.config.MaxRequests {
			return cb.epoch, ErrTooManyRequests
		}
		cb.probes++
	case StateClosed:
		if cb.config.Interval > 0 && now.Sub(cb.windowStart) > cb.config.Interval {
			cb.failures = 0
			cb.windowStart = now
		}
	}
	return cb.epoch, nil
}

func (cb *CircuitBreaker) record(epoch uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if epoch != cb.epoch {
		// The breaker transitioned while this call was in flight.
		return
	}

	now := time.Now()
	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		if cb.probes > 0 {
			cb.probes--
		}
		if !success {
			cb.transition(StateOpen, now)
			return
		}
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.epoch++
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.windowStart = now
	}

	recordStateChange(cb.name, to)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
