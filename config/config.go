// Package config provides layered configuration loading for draftmesh.
//
// Values are resolved in this order, later sources winning:
//
//  1. Hardcoded defaults (Default)
//  2. An optional YAML file
//  3. Environment variables with the DRAFTMESH_ prefix
//
// Environment variables map onto the YAML keys by splitting on the first
// underscore after the prefix:
//
//	DRAFTMESH_SERVER_ADDR             -> server.addr
//	DRAFTMESH_ENGINE_MAX_ATTEMPTS     -> engine.max_attempts
//	DRAFTMESH_PROVIDERS_OPENAI_API_KEY -> providers.openai_api_key
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/draftmesh/agent"
	"github.com/hupe1980/draftmesh/credit"
	"github.com/hupe1980/draftmesh/engine"
	"github.com/hupe1980/draftmesh/logging"
	"github.com/hupe1980/draftmesh/stream"
)

// Config holds the complete draftmesh configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Engine    EngineConfig    `koanf:"engine"`
	Providers ProvidersConfig `koanf:"providers"`
	Credits   CreditsConfig   `koanf:"credits"`
	Logging   LoggingConfig   `koanf:"logging"`
	NATS      NATSConfig      `koanf:"nats"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// EngineConfig holds the session engine tuning.
type EngineConfig struct {
	// MaxAttempts is the total number of provider calls per turn, the first
	// one included. 1 disables retries.
	MaxAttempts            int           `koanf:"max_attempts"`
	BackoffBase            time.Duration `koanf:"backoff_base"`
	BackoffMax             time.Duration `koanf:"backoff_max"`
	BackoffMultiplier      float64       `koanf:"backoff_multiplier"`
	CreditWarningThreshold float64       `koanf:"credit_warning_threshold"`
	DefaultMaxRounds       int           `koanf:"default_max_rounds"`
	MaxRoundsLimit         int           `koanf:"max_rounds_limit"`
	MaxAgents              int           `koanf:"max_agents"`
	FinalWriterPass        bool          `koanf:"final_writer_pass"`
	CheckBalance           bool          `koanf:"check_balance"`
	Temperature            float64       `koanf:"temperature"`
	MaxTokens              int           `koanf:"max_tokens"`
}

// ProvidersConfig holds vendor credentials and gateway limits. Keys are flat
// so that every value can be set from a single environment variable.
type ProvidersConfig struct {
	OpenAIAPIKey     string  `koanf:"openai_api_key"`
	OpenAIBaseURL    string  `koanf:"openai_base_url"`
	AnthropicAPIKey  string  `koanf:"anthropic_api_key"`
	AnthropicBaseURL string  `koanf:"anthropic_base_url"`
	GoogleAPIKey     string  `koanf:"google_api_key"`
	PerplexityAPIKey string  `koanf:"perplexity_api_key"`
	EnableMock       bool    `koanf:"enable_mock"`
	RateLimit        float64 `koanf:"rate_limit"`
	Burst            int     `koanf:"burst"`
}

// CreditsConfig holds the in-process credits service settings.
type CreditsConfig struct {
	DefaultTier    string            `koanf:"default_tier"`
	DefaultBalance int               `koanf:"default_balance"`
	Multipliers    []ModelMultiplier `koanf:"multipliers"`
}

// ModelMultiplier overrides the credit multiplier of one model. Model names
// contain dots, so overrides are a list rather than a map keyed by name.
type ModelMultiplier struct {
	Model      string  `koanf:"model"`
	Multiplier float64 `koanf:"multiplier"`
}

// LoggingConfig selects the logging backend.
type LoggingConfig struct {
	Backend string `koanf:"backend"`
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
}

// NATSConfig enables publishing session events to NATS when URL is set.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Default returns the production defaults.
func Default() Config {
	retry := agent.DefaultRetryConfig()
	eng := engine.DefaultConfig

	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ShutdownTimeout:   10 * time.Second,
			HeartbeatInterval: 15 * time.Second,
		},
		Engine: EngineConfig{
			MaxAttempts:            retry.MaxAttempts(),
			BackoffBase:            retry.InitialBackoff,
			BackoffMax:             retry.MaxBackoff,
			BackoffMultiplier:      retry.BackoffMultiplier,
			CreditWarningThreshold: eng.CreditWarningThreshold,
			DefaultMaxRounds:       eng.DefaultMaxRounds,
			MaxRoundsLimit:         eng.MaxRoundsLimit,
			MaxAgents:              eng.MaxAgents,
			FinalWriterPass:        eng.FinalWriterPass,
			CheckBalance:           eng.CheckBalance,
			Temperature:            eng.Temperature,
			MaxTokens:              eng.MaxTokens,
		},
		Providers: ProvidersConfig{
			Burst: 1,
		},
		Credits: CreditsConfig{
			DefaultTier: credit.DefaultTier,
		},
		Logging: LoggingConfig{
			Backend: "zap",
			Level:   "info",
			Format:  "json",
		},
		NATS: NATSConfig{
			SubjectPrefix: stream.DefaultSubjectPrefix,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address must not be empty")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Server.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	e := c.Engine

	if e.MaxAttempts < 1 {
		return fmt.Errorf("invalid max attempts: %d (must be >= 1)", e.MaxAttempts)
	}

	if e.BackoffBase <= 0 || e.BackoffMax < e.BackoffBase {
		return fmt.Errorf("invalid backoff: base %s, max %s", e.BackoffBase, e.BackoffMax)
	}

	if e.BackoffMultiplier < 1 {
		return fmt.Errorf("invalid backoff multiplier: %g (must be >= 1)", e.BackoffMultiplier)
	}

	if e.CreditWarningThreshold <= 0 || e.CreditWarningThreshold > 1 {
		return fmt.Errorf("invalid credit warning threshold: %g (must be in (0, 1])", e.CreditWarningThreshold)
	}

	if e.MaxRoundsLimit < 1 {
		return fmt.Errorf("invalid max rounds limit: %d", e.MaxRoundsLimit)
	}

	if e.DefaultMaxRounds < 1 || e.DefaultMaxRounds > e.MaxRoundsLimit {
		return fmt.Errorf("invalid default max rounds: %d (must be 1-%d)", e.DefaultMaxRounds, e.MaxRoundsLimit)
	}

	if e.MaxAgents < 1 {
		return fmt.Errorf("invalid max agents: %d", e.MaxAgents)
	}

	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("invalid temperature: %g (must be 0-2)", e.Temperature)
	}

	if e.MaxTokens < 1 {
		return fmt.Errorf("invalid max tokens: %d", e.MaxTokens)
	}

	if c.Providers.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %g", c.Providers.RateLimit)
	}

	if c.Credits.DefaultBalance < 0 {
		return fmt.Errorf("invalid default balance: %d", c.Credits.DefaultBalance)
	}

	for _, m := range c.Credits.Multipliers {
		if m.Model == "" || m.Multiplier <= 0 {
			return fmt.Errorf("invalid multiplier for model %q: %g", m.Model, m.Multiplier)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	switch c.Logging.Backend {
	case "slog", "zap":
	default:
		return fmt.Errorf("invalid logging backend %q (must be slog or zap)", c.Logging.Backend)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path %q", c.Metrics.Path)
	}

	return nil
}

// Retry returns the retry policy of the engine section.
func (e EngineConfig) Retry() agent.RetryConfig {
	retries := e.MaxAttempts - 1
	if retries == 0 {
		retries = -1 // zero would select the default
	}

	return agent.RetryConfig{
		MaxRetries:        retries,
		InitialBackoff:    e.BackoffBase,
		MaxBackoff:        e.BackoffMax,
		BackoffMultiplier: e.BackoffMultiplier,
	}
}

// EngineOptions returns the engine configuration.
func (e EngineConfig) EngineOptions() engine.Config {
	return engine.Config{
		DefaultMaxRounds:       e.DefaultMaxRounds,
		MaxRoundsLimit:         e.MaxRoundsLimit,
		MaxAgents:              e.MaxAgents,
		FinalWriterPass:        e.FinalWriterPass,
		CreditWarningThreshold: e.CreditWarningThreshold,
		CheckBalance:           e.CheckBalance,
		Retry:                  e.Retry(),
		Temperature:            e.Temperature,
		MaxTokens:              e.MaxTokens,
	}
}

// NewLogger builds the configured logger writing to stderr.
func (l LoggingConfig) NewLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Config{
		Backend: l.Backend,
		Level:   level,
		Format:  l.Format,
		Output:  os.Stderr,
	})
}

// Pricing returns the default pricing table with the configured overrides.
func (c CreditsConfig) Pricing() *credit.Pricing {
	overrides := make(map[string]float64, len(c.Multipliers))
	for _, m := range c.Multipliers {
		overrides[m.Model] = m.Multiplier
	}

	return credit.NewPricing(overrides)
}

// NewService creates the in-process credits service. A positive
// DefaultBalance overrides the tier allocation of new accounts.
func (c CreditsConfig) NewService(pricing *credit.Pricing, finalPass bool) *credit.InMemoryService {
	svc := credit.NewInMemoryService(c.DefaultTier, credit.NewEstimator(pricing, finalPass))

	if c.DefaultBalance > 0 {
		svc.SetDefaultBalance(c.DefaultBalance)
	}

	return svc
}
