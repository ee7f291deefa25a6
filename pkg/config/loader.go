package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. CONDUCTOR_ORACLE_MODEL.
const EnvPrefix = "CONDUCTOR_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

//nolint:gochecknoglobals // Reflection target for Duration fields
var durationType = reflect.TypeOf(Duration(0))

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads and validates configuration from a YAML or JSON file.
// Files ending in .json are parsed as JSON; everything else as YAML.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(configPath))
	if err != nil {
		return nil, err
	}
	LogInfo("Loaded configuration from %s (model: %s)", configPath, cfg.Oracle.Model)
	return cfg, nil
}

// Parse decodes configuration bytes. ext selects the format (".json" or YAML otherwise).
func Parse(data []byte, ext string) (*Config, error) {
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal([]byte(dataStr), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		jsonTag := t.Field(i).Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		envKey := prefix + strings.ToUpper(strings.Split(jsonTag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(envValue); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := strconv.Atoi(envValue); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envValue, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	default:
	}
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(5 * time.Minute)
	}
	if cfg.Server.PingInterval == 0 {
		cfg.Server.PingInterval = Duration(30 * time.Second)
	}

	o := &cfg.Oracle
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5"
	}
	if o.Temperature == 0 {
		o.Temperature = 0.3
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 4096
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = Duration(3 * time.Minute)
	}
	if o.BaseURL == "" {
		if provider, _ := o.ResolvedProvider(); provider == ProviderOllama {
			o.BaseURL = "http://localhost:11434"
		}
	}

	r := &o.Resilience
	if r.CircuitBreaker.FailureThreshold == 0 {
		r.CircuitBreaker.FailureThreshold = 5
	}
	if r.CircuitBreaker.SuccessThreshold == 0 {
		r.CircuitBreaker.SuccessThreshold = 3
	}
	if r.CircuitBreaker.Timeout == 0 {
		r.CircuitBreaker.Timeout = Duration(30 * time.Second)
	}
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = 3
		r.Retry.Jitter = true
	}
	if r.Retry.InitialDelay == 0 {
		r.Retry.InitialDelay = Duration(100 * time.Millisecond)
	}
	if r.Retry.MaxDelay == 0 {
		r.Retry.MaxDelay = Duration(10 * time.Second)
	}
	if r.Retry.BackoffFactor == 0 {
		r.Retry.BackoffFactor = 2.0
	}
	if r.RateLimit.TokensPerMinute == 0 || r.RateLimit.MaxConcurrency == 0 {
		provider, _ := o.ResolvedProvider()
		limits, ok := ProviderDefaults[provider]
		if !ok {
			limits = ProviderDefaults[ProviderAnthropic]
		}
		if r.RateLimit.TokensPerMinute == 0 {
			r.RateLimit.TokensPerMinute = limits.TokensPerMinute
		}
		if r.RateLimit.MaxConcurrency == 0 {
			r.RateLimit.MaxConcurrency = limits.MaxConcurrency
		}
	}
	if r.RateLimit.MaxWait == 0 {
		r.RateLimit.MaxWait = Duration(time.Minute)
	}

	orch := &cfg.Orchestrator
	if orch.SwitchThreshold == 0 {
		orch.SwitchThreshold = DefaultSwitchThreshold
	}
	if orch.HistoryWindow == 0 {
		orch.HistoryWindow = DefaultHistoryWindow
	}
	if orch.MaxRetryAttempts == 0 {
		orch.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if orch.RetryTTL == 0 {
		orch.RetryTTL = Duration(DefaultRetryTTL)
	}
	if orch.MaxRetryEntries == 0 {
		orch.MaxRetryEntries = DefaultMaxRetryEntries
	}
	if orch.SweepInterval == 0 {
		orch.SweepInterval = Duration(5 * time.Minute)
	}

	if cfg.Persistence.Path == "" && !orch.Headless {
		cfg.Persistence.Path = "conductor.db"
	}
	if cfg.Persistence.QueueSize == 0 {
		cfg.Persistence.QueueSize = 256
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 64
	}

	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 14
	}

	if cfg.Secrets.Dir == "" {
		cfg.Secrets.Dir = ".conductor"
	}
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string

	provider, err := c.Oracle.ResolvedProvider()
	switch {
	case err != nil:
		problems = append(problems, err.Error())
	case provider != ProviderAnthropic && provider != ProviderOpenAI &&
		provider != ProviderGoogle && provider != ProviderOllama:
		problems = append(problems, fmt.Sprintf("oracle.provider %q is not supported", provider))
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		problems = append(problems, fmt.Sprintf("oracle.temperature %.2f outside [0, 2]", c.Oracle.Temperature))
	}
	if c.Oracle.MaxTokens < 0 {
		problems = append(problems, "oracle.max_tokens must be positive")
	}
	if c.Oracle.Resilience.Retry.BackoffFactor < 1 {
		problems = append(problems, "oracle.resilience.retry.backoff_factor must be >= 1")
	}
	if c.Orchestrator.SwitchThreshold < 0 || c.Orchestrator.SwitchThreshold > 1 {
		problems = append(problems, fmt.Sprintf("orchestrator.switch_threshold %.2f outside [0, 1]", c.Orchestrator.SwitchThreshold))
	}
	if c.Orchestrator.HistoryWindow < 0 {
		problems = append(problems, "orchestrator.history_window must be positive")
	}
	if c.Orchestrator.MaxRetryAttempts < 0 {
		problems = append(problems, "orchestrator.max_retry_attempts must be positive")
	}
	if !c.Orchestrator.Headless && c.Persistence.Path == "" {
		problems = append(problems, "persistence.path is required unless orchestrator.headless is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
