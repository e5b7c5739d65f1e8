package upstream

import (
	"sync"
	"time"
)

// cbState is the circuit breaker's state machine position.
type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

// BreakerConfig controls the per-service breaker's thresholds.
type BreakerConfig struct {
	ErrorThreshold  int
	TimeWindow      time.Duration
	HalfOpenTimeout time.Duration
}

// serviceCB tracks one upstream service's breaker state.
type serviceCB struct {
	mu sync.Mutex

	state         cbState
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	halfOpenTrial bool
}

// Breaker is a per-upstream-service circuit breaker used only during join
// fan-out: it lets a failing related service fail fast without
// repeatedly retrying a doomed request, while the outer join still
// tolerates the failure. It is never consulted on the primary request
// path, which is fail-closed and always attempts the configured service.
//
// Services are registered lazily on first use; the set of upstream
// services is not known at startup.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	services map[string]*serviceCB
}

// NewBreaker builds a Breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, services: make(map[string]*serviceCB)}
}

func (b *Breaker) get(service string) *serviceCB {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.services[service]
	if !ok {
		cb = &serviceCB{windowStart: time.Now()}
		b.services[service] = cb
	}
	return cb
}

// Allow reports whether a call to service should be attempted right now.
func (b *Breaker) Allow(service string) bool {
	cb := b.get(service)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case cbClosed:
		return true
	case cbOpen:
		if time.Since(cb.openedAt) >= b.cfg.HalfOpenTimeout {
			cb.state = cbHalfOpen
			cb.halfOpenTrial = false
			return true
		}
		return false
	case cbHalfOpen:
		if cb.halfOpenTrial {
			cb.halfOpenTrial = false
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notifies the breaker that a call to service succeeded.
func (b *Breaker) RecordSuccess(service string) {
	cb := b.get(service)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = cbClosed
	cb.failures = 0
	cb.windowStart = time.Now()
}

// RecordFailure notifies the breaker that a call to service failed.
func (b *Breaker) RecordFailure(service string) {
	cb := b.get(service)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == cbHalfOpen {
		cb.state = cbOpen
		cb.openedAt = time.Now()
		return
	}

	now := time.Now()
	if now.Sub(cb.windowStart) > b.cfg.TimeWindow {
		cb.failures = 0
		cb.windowStart = now
	}
	cb.failures++

	if cb.failures >= b.cfg.ErrorThreshold {
		cb.state = cbOpen
		cb.openedAt = now
	}
}

// StateLabel returns a human-readable breaker state for metrics/logging.
func (b *Breaker) StateLabel(service string) string {
	switch b.State(service) {
	case int64(cbOpen):
		return "open"
	case int64(cbHalfOpen):
		return "half_open"
	default:
		return "closed"
	}
}

// State returns the breaker's numeric state (0=closed,1=open,2=half-open),
// matching the gauge values metrics.Registry.SetCircuitBreaker expects.
func (b *Breaker) State(service string) int64 {
	cb := b.get(service)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	return int64(cb.state)
}
