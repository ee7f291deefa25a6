// Package circuit provides circuit breaker functionality for resilient oracle calls.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"conductor/pkg/logx"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the provider recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"` // Failures before opening
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"` // Half-open successes before closing
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`                     // Wait before probing half-open
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          30 * time.Second,
}

// Error is returned while the circuit rejects calls.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker defines the interface for circuit breaker implementations.
type Breaker interface {
	// Allow checks if a request should be allowed based on current state.
	Allow() bool

	// Record records the result (success/failure) of a request.
	Record(success bool)

	// GetState returns the current circuit breaker state.
	GetState() State

	// Reset manually resets the circuit breaker to closed state.
	Reset()
}

//nolint:govet // Logical field grouping preferred over memory alignment
type breaker struct {
	name            string
	config          Config
	now             func() time.Time
	logger          *logx.Logger
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// New creates a new circuit breaker. name labels its state-change log lines.
func New(name string, config Config) Breaker {
	return newBreaker(name, config, time.Now)
}

func newBreaker(name string, config Config, now func() time.Time) *breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	return &breaker{
		name:   name,
		config: config,
		now:    now,
		logger: logx.NewLogger("circuit"),
		state:  Closed,
	}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastFailureTime) >= b.config.Timeout {
			b.transition(HalfOpen)
			b.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(Closed)
	b.failureCount = 0
	b.successCount = 0
}

func (b *breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transition(Closed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
		b.successCount = 0
	}
}

// transition must be called with mu held.
func (b *breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Warn("⚡ Circuit %s: %s → %s", b.name, b.state, to)
	b.state = to
}
