// Package circuitbreaker guards the external notification providers.
// Each channel sender (email, SMS, chat) gets its own breaker so a dead
// provider fails fast instead of making every dispatch wait out the
// channel timeout.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/metrics"
)

// State is the breaker's position in its recovery cycle.
//
//	closed    -> open       after MaxFailures consecutive failures
//	open      -> half-open  once RecoveryTimeout has elapsed
//	half-open -> closed     when a trial send succeeds
//	half-open -> open       when a trial send fails
type State int

const (
	StateClosed   State = iota // sends pass through
	StateOpen                  // sends fail fast
	StateHalfOpen              // limited trial sends allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for sends rejected while the breaker is
// open. The dispatcher records it as a failed channel outcome, the same
// as any other provider error.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes one breaker.
type Config struct {
	// Name identifies the guarded provider ("email", "sms", "chat").
	Name string

	// MaxFailures is how many consecutive failures open the circuit.
	MaxFailures int

	// RecoveryTimeout is how long an open circuit waits before letting
	// a trial send through.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps in-flight trial sends while half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig opens after 5 consecutive failures and waits 30 seconds
// before trialling one send against the provider.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures against one provider and
// rejects sends outright once the provider looks dead. Every rejection
// spares a dispatch from burning its channel timeout on a provider that
// cannot answer; recovery is detected with occasional trial sends.
type CircuitBreaker struct {
	mu     sync.RWMutex
	config Config
	logger *zap.Logger

	state            State
	failureCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenInFlight int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a breaker in the closed state.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	cb := &CircuitBreaker{
		config:          cfg,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}

	logger.Info("circuit breaker armed",
		zap.String("breaker", cfg.Name),
		zap.Int("max_failures", cfg.MaxFailures),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)

	return cb
}

// Name returns the guarded provider's name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Allow reports whether a send may proceed. An open breaker whose
// recovery timeout has elapsed moves to half-open and admits the call
// as a trial send.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenInFlight = 1
			return true
		}
		cb.totalRejected++
		return false

	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests {
			cb.halfOpenInFlight++
			return true
		}
		cb.totalRejected++
		return false

	default:
		return false
	}
}

// RecordSuccess notes a successful send. A success while half-open
// means the provider recovered, so the circuit closes.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failureCount = 0

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure notes a failed send. While closed, the circuit opens at
// MaxFailures consecutive failures; while half-open, a single failure
// re-opens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.logger.Warn("provider failure threshold reached",
				zap.String("breaker", cb.config.Name),
				zap.Int("failures", cb.failureCount),
			)
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats is a point-in-time snapshot for monitoring.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats snapshots the breaker's counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	s := Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		LastStateChange: cb.lastStateChange.Format(time.RFC3339),
	}

	if !cb.lastFailureTime.IsZero() {
		s.LastFailure = cb.lastFailureTime.Format(time.RFC3339)
	}

	return s
}

// Reset forces the breaker closed. Operator override for when a
// provider is known to be healthy again.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.halfOpenInFlight = 0

	cb.logger.Info("circuit breaker manually reset",
		zap.String("breaker", cb.config.Name),
	)
}

// transitionTo changes state, logs it, and records the transition
// metric. Callers hold mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.halfOpenInFlight = 0

	metrics.RecordBreakerTransition(cb.config.Name, newState.String())
	cb.logger.Info("circuit breaker state changed",
		zap.String("breaker", cb.config.Name),
		zap.String("from", from.String()),
		zap.String("to", newState.String()),
	)
}

// String renders the breaker for log lines and debugging.
func (cb *CircuitBreaker) String() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.failureCount, cb.config.MaxFailures)
}
