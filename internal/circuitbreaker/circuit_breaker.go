// Package circuitbreaker stops hammering a storefront that is persistently
// failing. Each store gets its own breaker, keyed by store id.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/storemirror/internal/logging"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned without calling the remote when the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a breaker.
type Config struct {
	Name             string
	MaxFailures      int           // consecutive failures before opening
	Cooldown         time.Duration // time open before probing half-open
	HalfOpenMaxCalls int           // probes allowed while half-open
}

func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

type CircuitBreaker struct {
	name             string
	maxFailures      int
	cooldown         time.Duration
	halfOpenMaxCalls int

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenCalls    int
	openedAt         time.Time
}

func New(config *Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		cooldown:         config.Cooldown,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		state:            StateClosed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(ctx); err != nil {
		return err
	}

	err := fn()
	cb.record(ctx, err)
	return err
}

func (cb *CircuitBreaker) allow(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(ctx, StateHalfOpen)
		cb.halfOpenCalls = 1
		return nil
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return ErrCircuitOpen
		}
		cb.halfOpenCalls++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.consecutiveFails = 0
		if cb.state == StateHalfOpen {
			cb.transition(ctx, StateClosed)
		}
		return
	}

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.maxFailures {
		cb.transition(ctx, StateOpen)
		cb.openedAt = time.Now()
		cb.halfOpenCalls = 0
	}
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(ctx context.Context, next State) {
	if cb.state == next {
		return
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"breaker": cb.name,
		"from":    string(cb.state),
		"to":      string(next),
	}).Warn("Circuit breaker state change")
	cb.state = next
}

// GetState returns the current state, probing open breakers whose cooldown
// has expired is left to the next Execute call.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Manager hands out one breaker per store.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker)}
}

func (m *Manager) GetOrCreate(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := New(DefaultConfig(name))
	m.breakers[name] = cb
	return cb
}

// States returns a snapshot of every breaker's state, keyed by name.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetState()
	}
	return out
}
