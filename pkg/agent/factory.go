package agent

import (
	"context"
	"fmt"

	"conductor/pkg/agent/internal/llmimpl/anthropic"
	"conductor/pkg/agent/internal/llmimpl/google"
	"conductor/pkg/agent/internal/llmimpl/ollama"
	"conductor/pkg/agent/internal/llmimpl/openaiofficial"
	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/middleware/metrics"
	"conductor/pkg/agent/middleware/resilience/circuit"
	"conductor/pkg/agent/middleware/resilience/ratelimit"
	"conductor/pkg/agent/middleware/resilience/retry"
	"conductor/pkg/agent/middleware/resilience/timeout"
	"conductor/pkg/agent/middleware/validation"
	"conductor/pkg/config"
	"conductor/pkg/logx"
)

// ClientFactory creates oracle clients with the middleware chain configured.
// One breaker and one limiter are shared by every client it builds.
type ClientFactory struct {
	cfg      config.OracleConfig
	provider string
	recorder metrics.Recorder
	breaker  circuit.Breaker
	limiter  *ratelimit.TokenBucketLimiter
	logger   *logx.Logger
}

// NewClientFactory creates a factory for the configured provider.
// A nil recorder disables metrics.
func NewClientFactory(cfg config.OracleConfig, recorder metrics.Recorder) (*ClientFactory, error) {
	provider, err := cfg.ResolvedProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", cfg.Model, err)
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	res := cfg.Resilience
	breaker := circuit.New(provider, circuit.Config{
		FailureThreshold: res.CircuitBreaker.FailureThreshold,
		SuccessThreshold: res.CircuitBreaker.SuccessThreshold,
		Timeout:          res.CircuitBreaker.Timeout.Std(),
	})
	limiter := ratelimit.NewTokenBucketLimiter(provider, ratelimit.Config{
		TokensPerMinute: res.RateLimit.TokensPerMinute,
		MaxConcurrency:  res.RateLimit.MaxConcurrency,
		MaxWait:         res.RateLimit.MaxWait.Std(),
	}, cfg.RequestTimeout.Std())

	return &ClientFactory{
		cfg:      cfg,
		provider: provider,
		recorder: recorder,
		breaker:  breaker,
		limiter:  limiter,
		logger:   logx.NewLogger("oracle"),
	}, nil
}

// Start runs the rate limiter refill loop until ctx is cancelled.
func (f *ClientFactory) Start(ctx context.Context) {
	f.limiter.Start(ctx)
}

// Provider returns the resolved provider name.
func (f *ClientFactory) Provider() string {
	return f.provider
}

// CreateClient builds the raw provider client and wraps it in the middleware chain.
// The API key comes from the secrets file or environment.
func (f *ClientFactory) CreateClient() (llm.LLMClient, error) {
	apiKey, err := config.GetAPIKey(f.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", f.provider, err)
	}

	var raw llm.LLMClient
	switch f.provider {
	case config.ProviderAnthropic:
		raw = anthropic.NewClaudeClientWithModel(apiKey, f.cfg.ModelName())
	case config.ProviderOpenAI:
		raw = openaiofficial.NewOfficialClientWithModel(apiKey, f.cfg.ModelName())
	case config.ProviderGoogle:
		raw = google.NewGeminiClientWithModel(apiKey, f.cfg.ModelName())
	case config.ProviderOllama:
		raw = ollama.NewOllamaClientWithModel(f.cfg.BaseURL, f.cfg.ModelName())
	default:
		return nil, fmt.Errorf("unsupported provider: %s", f.provider)
	}

	f.logger.Info("Created %s client for model %s", f.provider, raw.GetModelName())
	return f.Wrap(raw), nil
}

// Wrap applies the middleware chain to any client. Tests use it to run a mock
// oracle through the same resilience stack as production.
func (f *ClientFactory) Wrap(raw llm.LLMClient) llm.LLMClient {
	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.cfg.Resilience.Retry.MaxAttempts,
		InitialDelay:  f.cfg.Resilience.Retry.InitialDelay.Std(),
		MaxDelay:      f.cfg.Resilience.Retry.MaxDelay.Std(),
		BackoffFactor: f.cfg.Resilience.Retry.BackoffFactor,
		Jitter:        f.cfg.Resilience.Retry.Jitter,
	}, nil)

	return llm.Chain(raw,
		metrics.Middleware(f.recorder, metrics.DefaultUsageExtractor, f.logger),
		validation.EmptyResponseMiddleware(),
		circuit.Middleware(f.breaker),
		retry.Middleware(retryPolicy),
		ratelimit.Middleware(f.limiter, nil, f.recorder),
		timeout.Middleware(f.cfg.RequestTimeout.Std()),
	)
}

// BreakerState reports the shared circuit breaker state.
func (f *ClientFactory) BreakerState() circuit.State {
	return f.breaker.GetState()
}

// LimiterStats reports the shared rate limiter statistics.
func (f *ClientFactory) LimiterStats() ratelimit.LimiterStats {
	return f.limiter.GetStats()
}
