// Package budget enforces one run's shared resource ceiling: tokens, cost
// and concurrent backend calls. A Budget is owned by exactly one run's
// execution strategy and never shared across runs.
package budget

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/praxislabs/concord/internal/metrics"
)

// ExceededError reports a dispatch denied by the resource ceiling. It is
// never fatal to a run: strategies defer or skip the call instead.
type ExceededError struct {
	Requested       int
	RemainingTokens int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: requested %d tokens, %d remaining",
		e.Requested, e.RemainingTokens)
}

// IsExceeded reports whether err is a budget-exhaustion error.
func IsExceeded(err error) bool {
	_, ok := err.(*ExceededError)
	return ok
}

// Limits holds the per-run ceilings.
type Limits struct {
	MaxTokens      int
	MaxCostUSD     float64
	MaxConcurrency int
	RatePerMinute  int
	CostPer1K      float64
}

// Usage is a point-in-time budget snapshot.
type Usage struct {
	UsedTokens      int     `json:"used_tokens"`
	ReservedTokens  int     `json:"reserved_tokens"`
	RemainingTokens int     `json:"remaining_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	InFlight        int     `json:"in_flight"`
}

// Budget tracks one run's spend. Reservation is atomic: two concurrent
// dispatches can never both observe non-exhausted budget and jointly
// overspend it.
type Budget struct {
	limits  Limits
	logger  *zap.Logger
	limiter *rate.Limiter
	sem     chan struct{}

	mu       sync.Mutex
	used     int
	reserved int
	costUSD  float64
	inFlight int
}

// New creates a budget for one run.
func New(limits Limits, logger *zap.Logger) *Budget {
	if limits.MaxConcurrency <= 0 {
		limits.MaxConcurrency = 4
	}
	if limits.CostPer1K <= 0 {
		limits.CostPer1K = 0.01
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if limits.RatePerMinute > 0 {
		burst := limits.RatePerMinute / 6
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(float64(limits.RatePerMinute)/60.0), burst)
	}
	return &Budget{
		limits:  limits,
		logger:  logger,
		limiter: lim,
		sem:     make(chan struct{}, limits.MaxConcurrency),
	}
}

// Limits returns the configured ceilings.
func (b *Budget) Limits() Limits { return b.limits }

// Reserve atomically sets aside estTokens ahead of a dispatch. The returned
// reservation must be committed with the actual spend or cancelled.
func (b *Budget) Reserve(estTokens int) (*Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limits.MaxTokens - b.used - b.reserved
	if estTokens > remaining {
		return nil, &ExceededError{Requested: estTokens, RemainingTokens: remaining}
	}
	if b.limits.MaxCostUSD > 0 {
		projected := b.costUSD + b.cost(b.reserved+estTokens)
		if projected > b.limits.MaxCostUSD {
			return nil, &ExceededError{Requested: estTokens, RemainingTokens: remaining}
		}
	}
	b.reserved += estTokens
	return &Reservation{budget: b, estimated: estTokens}, nil
}

// Acquire takes a concurrency slot, blocking until one frees or ctx ends.
func (b *Budget) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		b.mu.Lock()
		b.inFlight++
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a concurrency slot.
func (b *Budget) Release() {
	select {
	case <-b.sem:
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	default:
	}
}

// WaitRate blocks until the backend rate limiter admits another call.
func (b *Budget) WaitRate(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Snapshot returns current usage.
func (b *Budget) Snapshot() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Usage{
		UsedTokens:      b.used,
		ReservedTokens:  b.reserved,
		RemainingTokens: b.limits.MaxTokens - b.used - b.reserved,
		CostUSD:         b.costUSD,
		InFlight:        b.inFlight,
	}
}

func (b *Budget) cost(tokens int) float64 {
	return float64(tokens) / 1000.0 * b.limits.CostPer1K
}

// Reservation is one pending dispatch's hold on the budget.
type Reservation struct {
	budget    *Budget
	estimated int
	settled   bool
}

// Commit replaces the estimate with the actual token spend.
func (r *Reservation) Commit(actualTokens int) {
	if r == nil || r.settled {
		return
	}
	r.settled = true
	b := r.budget
	b.mu.Lock()
	b.reserved -= r.estimated
	b.used += actualTokens
	b.costUSD += b.cost(actualTokens)
	b.mu.Unlock()
	if actualTokens > 0 {
		metrics.TokensSpent.Add(float64(actualTokens))
	}
}

// Cancel releases the reservation without spending.
func (r *Reservation) Cancel() {
	if r == nil || r.settled {
		return
	}
	r.settled = true
	b := r.budget
	b.mu.Lock()
	b.reserved -= r.estimated
	b.mu.Unlock()
}
