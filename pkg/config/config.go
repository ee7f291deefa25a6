// Package config provides configuration loading, validation, and secrets for conductor.
//
// A single Config is loaded at startup from a YAML or JSON file:
//
//	cfg, err := config.LoadConfig("conductor.yaml")
//
// Loading substitutes ${ENV_VAR} placeholders, applies CONDUCTOR_* environment
// overrides, fills defaults, and validates. Algorithm constants that users
// should not tune live in the packages that own them, not here.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"conductor/pkg/logx"
)

// Provider names used in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Orchestrator defaults.
const (
	DefaultSwitchThreshold  = 0.7
	DefaultHistoryWindow    = 5
	DefaultMaxRetryAttempts = 3
	DefaultRetryTTL         = 30 * time.Minute
	DefaultMaxRetryEntries  = 100
)

//nolint:gochecknoglobals // Package-level logger
var logger = logx.NewLogger("config")

// LogInfo logs through the config component logger.
func LogInfo(format string, args ...any) {
	logger.Info(format, args...)
}

// Duration is a time.Duration that reads "30s" style strings from YAML and JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" strings or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, parseErr := time.ParseDuration(s)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts "1m30s" strings or integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if parsed, err := time.ParseDuration(node.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(n)
	return nil
}

// ServerConfig configures the HTTP and WebSocket transport.
type ServerConfig struct {
	Addr         string   `json:"addr" yaml:"addr"`
	Username     string   `json:"username" yaml:"username"` // Basic auth user; auth is on when a project password is set
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval Duration `json:"ping_interval" yaml:"ping_interval"`
}

// CircuitBreakerConfig defines configuration for circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold"`
	Timeout          Duration `json:"timeout" yaml:"timeout"`
}

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64  `json:"backoff_factor" yaml:"backoff_factor"`
	Jitter        bool     `json:"jitter" yaml:"jitter"`
}

// RateLimitConfig bounds oracle token throughput and concurrency.
type RateLimitConfig struct {
	TokensPerMinute int      `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	MaxConcurrency  int      `json:"max_concurrency" yaml:"max_concurrency"`
	MaxWait         Duration `json:"max_wait" yaml:"max_wait"`
}

// ProviderDefaults defines default rate limits for each provider.
//
//nolint:gochecknoglobals // Intentional global for provider defaults
var ProviderDefaults = map[string]RateLimitConfig{
	ProviderAnthropic: {TokensPerMinute: 300000, MaxConcurrency: 5},
	ProviderOpenAI:    {TokensPerMinute: 150000, MaxConcurrency: 5},
	ProviderGoogle:    {TokensPerMinute: 1200000, MaxConcurrency: 5},
	ProviderOllama:    {TokensPerMinute: 1000000, MaxConcurrency: 2}, // Bounded by local GPU memory
}

// ResilienceConfig bundles the oracle middleware configuration.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
}

// OracleConfig selects and tunes the language model provider.
type OracleConfig struct {
	Provider       string           `json:"provider" yaml:"provider"` // Inferred from model when empty
	Model          string           `json:"model" yaml:"model"`
	BaseURL        string           `json:"base_url" yaml:"base_url"` // Ollama host or API proxy
	Temperature    float64          `json:"temperature" yaml:"temperature"`
	MaxTokens      int              `json:"max_tokens" yaml:"max_tokens"`
	RequestTimeout Duration         `json:"request_timeout" yaml:"request_timeout"`
	Streaming      bool             `json:"streaming" yaml:"streaming"`
	Resilience     ResilienceConfig `json:"resilience" yaml:"resilience"`
}

// OrchestratorConfig tunes conversation handling.
type OrchestratorConfig struct {
	SwitchThreshold       float64  `json:"switch_threshold" yaml:"switch_threshold"`
	HistoryWindow         int      `json:"history_window" yaml:"history_window"`
	MaxRetryAttempts      int      `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	RetryTTL              Duration `json:"retry_ttl" yaml:"retry_ttl"`
	MaxRetryEntries       int      `json:"max_retry_entries" yaml:"max_retry_entries"`
	Headless              bool     `json:"headless" yaml:"headless"`
	RejectConcurrentTurns bool     `json:"reject_concurrent_turns" yaml:"reject_concurrent_turns"`
	SweepInterval         Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// PersistenceConfig configures the SQLite store.
type PersistenceConfig struct {
	Path      string `json:"path" yaml:"path"`
	QueueSize int    `json:"queue_size" yaml:"queue_size"`
}

// EventsConfig configures the event hub and audit log.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"`
	LogDir     string `json:"log_dir" yaml:"log_dir"` // Empty disables the JSONL audit log
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	PrometheusURL string `json:"prometheus_url" yaml:"prometheus_url"`
}

// LoggingConfig configures logx.
type LoggingConfig struct {
	File         string   `json:"file" yaml:"file"`
	MaxSizeMB    int      `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups   int      `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays   int      `json:"max_age_days" yaml:"max_age_days"`
	Compress     bool     `json:"compress" yaml:"compress"`
	Debug        bool     `json:"debug" yaml:"debug"`
	DebugDomains []string `json:"debug_domains" yaml:"debug_domains"`
}

// SecretsConfig locates the encrypted secrets file.
type SecretsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Oracle       OracleConfig       `json:"oracle" yaml:"oracle"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Persistence  PersistenceConfig  `json:"persistence" yaml:"persistence"`
	Events       EventsConfig       `json:"events" yaml:"events"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	Secrets      SecretsConfig      `json:"secrets" yaml:"secrets"`
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infers providers from model names so new models work without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider infers the API provider for a model name.
func GetModelProvider(modelName string) (string, error) {
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no provider pattern match", modelName)
}

// ResolvedProvider returns the configured provider, or the one inferred from the model.
func (o *OracleConfig) ResolvedProvider() (string, error) {
	if o.Provider != "" {
		return o.Provider, nil
	}
	return GetModelProvider(o.Model)
}

// ModelName strips an explicit "ollama:" prefix.
func (o *OracleConfig) ModelName() string {
	return strings.TrimPrefix(o.Model, "ollama:")
}
