package connectivity

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass
	BreakerOpen                         // calls rejected
	BreakerHalfOpen                     // probes allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calling a failing service for a while. Safe for
// concurrent use.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	probes      int
	openedAt    time.Time
	threshold   int
	cooldown    time.Duration
	probesToEnd int
	now         func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the consecutive failures that open the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerCooldown sets how long the breaker stays open.
func WithBreakerCooldown(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// WithBreakerProbes sets the successful half-open calls needed to close.
func WithBreakerProbes(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.probesToEnd = n }
}

// WithBreakerClock replaces time.Now.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// NewCircuitBreaker opens after 5 failures, cools down for 30s and closes
// after 2 successful probes.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{threshold: 5, cooldown: 30 * time.Second, probesToEnd: 2, now: time.Now}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tick()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != BreakerOpen
}

// Record updates the breaker with the outcome of a call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tick()

	if err == nil {
		switch cb.state {
		case BreakerHalfOpen:
			cb.probes++
			if cb.probes >= cb.probesToEnd {
				cb.state, cb.failures, cb.probes = BreakerClosed, 0, 0
			}
		case BreakerClosed:
			cb.failures = 0
		}
		return
	}

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state, cb.openedAt = BreakerOpen, cb.now()
		}
	case BreakerHalfOpen:
		cb.state, cb.openedAt, cb.probes = BreakerOpen, cb.now(), 0
	}
}

// tick moves an open breaker to half-open after the cooldown. mu held.
func (cb *CircuitBreaker) tick() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.state, cb.probes = BreakerHalfOpen, 0
	}
}

// WithCircuitBreaker guards calls with one breaker per service, created on
// first use with opts.
func WithCircuitBreaker(opts ...BreakerOption) HandlerMiddleware {
	var (
		mu       sync.Mutex
		breakers = make(map[string]*CircuitBreaker)
	)
	get := func(service string) *CircuitBreaker {
		mu.Lock()
		defer mu.Unlock()
		cb, ok := breakers[service]
		if !ok {
			cb = NewCircuitBreaker(opts...)
			breakers[service] = cb
		}
		return cb
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			service := ServiceFrom(ctx)
			cb := get(service)
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Service: service}
			}
			resp, err := next(ctx, payload)
			cb.Record(err)
			return resp, err
		}
	}
}
