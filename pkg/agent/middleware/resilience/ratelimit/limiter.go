// Package ratelimit provides rate limiting functionality for oracle clients.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conductor/pkg/agent/llm"
	"conductor/pkg/logx"
	"conductor/pkg/utils"
)

// BufferFactor leaves headroom for token estimation inaccuracies.
const BufferFactor = 0.9

// refillInterval splits the per-minute budget into ten refills.
const refillInterval = 6 * time.Second

// pollInterval is how often a blocked Acquire rechecks the bucket.
const pollInterval = 100 * time.Millisecond

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire atomically acquires tokens and a concurrency slot.
	// The returned release function must be called to return the slot.
	Acquire(ctx context.Context, tokens int, conversationID string) (releaseFunc func(), err error)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// Config defines rate limiting configuration for a provider.
type Config struct {
	TokensPerMinute int           `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	MaxConcurrency  int           `json:"max_concurrency" yaml:"max_concurrency"`
	MaxWait         time.Duration `json:"max_wait" yaml:"max_wait"` // Give up after this long; 0 means one minute
}

// DefaultTokenEstimator provides token estimation using tiktoken.
type DefaultTokenEstimator struct{}

// NewDefaultTokenEstimator creates a new default token estimator.
func NewDefaultTokenEstimator() TokenEstimator {
	return &DefaultTokenEstimator{}
}

// EstimatePrompt estimates prompt tokens using tiktoken-based counting.
//
//nolint:gocritic // 80 bytes is reasonable for token estimation
func (e *DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText)
}

// acquisition tracks a single concurrency slot for stale cleanup.
type acquisition struct {
	timestamp      time.Time
	conversationID string
}

// TokenBucketLimiter implements rate limiting using a token bucket
// combined with a concurrency semaphore.
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type TokenBucketLimiter struct {
	mu sync.Mutex

	provider string
	now      func() time.Time

	availableTokens int
	tokensPerRefill int
	maxCapacity     int

	activeRequests int
	maxConcurrency int
	acquisitions   []*acquisition
	releaseTimeout time.Duration
	maxWait        time.Duration

	tokenLimitHits  int64
	concurrencyHits int64
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Provider            string `json:"provider"`
	AvailableTokens     int    `json:"available_tokens"`
	MaxCapacity         int    `json:"max_capacity"`
	ActiveRequests      int    `json:"active_requests"`
	MaxConcurrency      int    `json:"max_concurrency"`
	TokenLimitHits      int64  `json:"token_limit_hits"`
	ConcurrencyHits     int64  `json:"concurrency_hits"`
	TrackedAcquisitions int    `json:"tracked_acquisitions"`
}

// NewTokenBucketLimiter creates a token bucket limiter for a provider.
// Stale slots are force-released after twice the request timeout.
func NewTokenBucketLimiter(provider string, cfg Config, requestTimeout time.Duration) *TokenBucketLimiter {
	maxCapacity := int(float64(cfg.TokensPerMinute) * BufferFactor)
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Minute
	}

	return &TokenBucketLimiter{
		provider:        provider,
		now:             time.Now,
		availableTokens: maxCapacity,
		tokensPerRefill: cfg.TokensPerMinute / 10,
		maxCapacity:     maxCapacity,
		maxConcurrency:  maxConcurrency,
		acquisitions:    make([]*acquisition, 0),
		releaseTimeout:  requestTimeout * 2,
		maxWait:         maxWait,
	}
}

// Acquire atomically acquires both tokens and a concurrency slot.
// Requests larger than the bucket capacity are clamped to it so they can
// eventually proceed instead of waiting forever.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int, conversationID string) (func(), error) {
	firstAttempt := true
	startTime := l.now()

	for {
		l.mu.Lock()

		if l.activeRequests >= l.maxConcurrency {
			l.cleanStaleAcquisitions()
		}

		need := tokens
		if need > l.maxCapacity {
			need = l.maxCapacity
		}
		hasTokens := l.availableTokens >= need
		hasSlot := l.activeRequests < l.maxConcurrency

		if hasTokens && hasSlot {
			l.availableTokens -= need
			l.activeRequests++

			acq := &acquisition{timestamp: l.now(), conversationID: conversationID}
			l.acquisitions = append(l.acquisitions, acq)

			var once sync.Once
			release := func() {
				once.Do(func() { l.release(acq) })
			}

			l.mu.Unlock()
			return release, nil
		}

		if elapsed := l.now().Sub(startTime); elapsed > l.maxWait {
			l.mu.Unlock()
			return nil, fmt.Errorf("rate limit acquisition timeout after %v "+
				"(requested %d tokens, max capacity %d, provider: %s, conversation: %s)",
				elapsed.Round(time.Millisecond), tokens, l.maxCapacity, l.provider, conversationID)
		}

		if firstAttempt {
			if !hasTokens {
				l.tokenLimitHits++
				logx.Infof("RATELIMIT: %s token limit hit, waiting for refill (need %d, have %d, conversation: %s)",
					l.provider, need, l.availableTokens, conversationID)
			}
			if !hasSlot {
				l.concurrencyHits++
				logx.Infof("RATELIMIT: %s concurrency limit hit, waiting for slot (active: %d/%d, conversation: %s)",
					l.provider, l.activeRequests, l.maxConcurrency, conversationID)
			}
			firstAttempt = false
		}

		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case <-time.After(pollInterval):
		}
	}
}

// release returns a concurrency slot. Consumed tokens are not refunded.
func (l *TokenBucketLimiter) release(acq *acquisition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.acquisitions {
		if a == acq {
			l.acquisitions = append(l.acquisitions[:i], l.acquisitions[i+1:]...)
			l.activeRequests--
			return
		}
	}
}

// cleanStaleAcquisitions force-releases slots held longer than releaseTimeout.
// Called under lock.
func (l *TokenBucketLimiter) cleanStaleAcquisitions() {
	if l.releaseTimeout <= 0 {
		return
	}
	now := l.now()
	valid := make([]*acquisition, 0, len(l.acquisitions))
	for _, acq := range l.acquisitions {
		if now.Sub(acq.timestamp) > l.releaseTimeout {
			l.activeRequests--
			logx.Warnf("RATELIMIT: Force-released stale slot after %v (provider: %s, conversation: %s)",
				l.releaseTimeout, l.provider, acq.conversationID)
			continue
		}
		valid = append(valid, acq)
	}
	l.acquisitions = valid
}

// Start refills the bucket every six seconds until ctx is cancelled.
func (l *TokenBucketLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldTokens := l.availableTokens
	l.availableTokens += l.tokensPerRefill
	if l.availableTokens > l.maxCapacity {
		l.availableTokens = l.maxCapacity
	}
	if l.availableTokens != oldTokens {
		logx.Debugf("RATELIMIT: %s bucket refilled: %d -> %d tokens (max: %d)",
			l.provider, oldTokens, l.availableTokens, l.maxCapacity)
	}
}

// GetStats returns current limiter statistics.
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		Provider:            l.provider,
		AvailableTokens:     l.availableTokens,
		MaxCapacity:         l.maxCapacity,
		ActiveRequests:      l.activeRequests,
		MaxConcurrency:      l.maxConcurrency,
		TokenLimitHits:      l.tokenLimitHits,
		ConcurrencyHits:     l.concurrencyHits,
		TrackedAcquisitions: len(l.acquisitions),
	}
}
