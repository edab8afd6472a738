// Package breaker implements a per-endpoint circuit breaker and a registry that creates them
// lazily, keyed by provider api_base. The state machine itself is delegated to
// github.com/sony/gobreaker; this package wires it to the gateway's admit/record call shape and
// endpoint registry.
package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// State mirrors gobreaker's three circuit states.
type State = gobreaker.State

const (
	Closed   = gobreaker.StateClosed
	HalfOpen = gobreaker.StateHalfOpen
	Open     = gobreaker.StateOpen
)

// Breaker is a single endpoint's circuit breaker, backed by a gobreaker.TwoStepCircuitBreaker so
// the admission check and the outcome record can happen on opposite sides of a provider dispatch.
type Breaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

// New creates a Breaker in the Closed state, identified by name (used in logged state
// transitions). logger may be nil.
func New(name string, failureThreshold int, resetTimeout time.Duration, logger *logrus.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"endpoint": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Info("circuit breaker state changed")
		}
	}
	return &Breaker{cb: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

// Allow reports whether a call may proceed. When allowed, done must be called exactly once with
// the outcome so the underlying state machine advances; when refused, done is nil.
func (b *Breaker) Allow() (done func(success bool), allowed bool) {
	done, err := b.cb.Allow()
	if err != nil {
		return nil, false
	}
	return done, true
}

// Status returns the breaker's current state.
func (b *Breaker) Status() State {
	return b.cb.State()
}

// Registry is a concurrent map from endpoint key (provider api_base) to Breaker, created lazily
// with double-checked locking. Breakers outlive individual requests.
type Registry struct {
	mu               sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	resetTimeout     time.Duration
	logger           *logrus.Logger
}

// NewRegistry builds a registry whose breakers share the given threshold/timeout. logger may be
// nil, in which case state transitions go unlogged.
func NewRegistry(failureThreshold int, resetTimeout time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
	}
}

// Get returns the breaker for key, creating it if this is the first mention.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = New(key, r.failureThreshold, r.resetTimeout, r.logger)
	r.breakers[key] = b
	return b
}

// Snapshot returns the current state of every known breaker, keyed by endpoint.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.Status()
	}
	return out
}
