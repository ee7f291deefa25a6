// Package retry provides retry logic with exponential backoff for oracle calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"conductor/pkg/agent/llmerrors"
	"conductor/pkg/agent/middleware/resilience/circuit"
)

// Config is the backoff schedule for one oracle call.
type Config struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`     // Including the initial attempt
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`   // Delay before the first retry
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`           // Cap between retries
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"` // Exponential multiplier
	Jitter        bool          `json:"jitter" yaml:"jitter"`                 // ±10% randomization
}

// DefaultConfig is used when the oracle section sets no retry values.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// transientMarkers are substrings of untyped provider errors that usually
// clear on a second try.
//
//nolint:gochecknoglobals // read-only lookup table
var transientMarkers = []string{
	"timeout", "connection", "network", "temporary",
	"rate", "429", "500", "502", "503", "504",
}

// ShouldRetry is the default error classifier for oracle calls.
func ShouldRetry(err error) bool {
	var (
		circuitErr *circuit.Error
		llmErr     *llmerrors.Error
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		// A per-call timeout fired while the turn itself is still alive.
		return true
	case errors.As(err, &circuitErr):
		// Open circuits recover on the breaker's schedule.
		return false
	case errors.As(err, &llmErr):
		return llmErr.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Policy pairs a backoff schedule with an error classifier.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a retry policy. A nil classifier uses ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 1
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the delay before the given attempt number.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
