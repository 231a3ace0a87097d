package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Compose  ComposeConfig  `yaml:"compose" mapstructure:"compose"`
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the snapshot store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EnrichConfig configures contact enrichment.
type EnrichConfig struct {
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	FlushEvery     int    `yaml:"flush_every" mapstructure:"flush_every"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	WaterfallFile  string `yaml:"waterfall_file" mapstructure:"waterfall_file"`
	DeriveDomains  bool   `yaml:"derive_domains" mapstructure:"derive_domains"`
	ConnectorAgent APIKey `yaml:"connector_agent" mapstructure:"connector_agent"`
	Anymail        APIKey `yaml:"anymail" mapstructure:"anymail"`
	Apollo         APIKey `yaml:"apollo" mapstructure:"apollo"`
	// Rates overrides the per-call USD price of a provider, keyed by name.
	Rates map[string]float64 `yaml:"rates" mapstructure:"rates"`
}

// APIKey is a provider credential with an optional base URL override.
type APIKey struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ComposeConfig configures intro composition.
type ComposeConfig struct {
	Generative        bool            `yaml:"generative" mapstructure:"generative"`
	Concurrency       int             `yaml:"concurrency" mapstructure:"concurrency"`
	FallbackThreshold float64         `yaml:"fallback_threshold" mapstructure:"fallback_threshold"`
	Anthropic         AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini            GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds the fallback credential used when Anthropic blocks a prompt.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// DispatchConfig configures campaign delivery.
type DispatchConfig struct {
	Provider    string         `yaml:"provider" mapstructure:"provider"`
	MaxInFlight int            `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	Retry       RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Instantly   CampaignConfig `yaml:"instantly" mapstructure:"instantly"`
	Plusvibe    CampaignConfig `yaml:"plusvibe" mapstructure:"plusvibe"`
}

// CampaignConfig holds one sender's credential and per-side campaign IDs.
type CampaignConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	WorkspaceID      string `yaml:"workspace_id" mapstructure:"workspace_id"`
	DemandCampaignID string `yaml:"demand_campaign_id" mapstructure:"demand_campaign_id"`
	SupplyCampaignID string `yaml:"supply_campaign_id" mapstructure:"supply_campaign_id"`
}

// RetryConfig tunes the dispatch rate-limit retry policy.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("enrich.concurrency", 5)
	v.SetDefault("enrich.flush_every", 5)
	v.SetDefault("enrich.timeout_secs", 20)
	v.SetDefault("enrich.derive_domains", true)
	v.SetDefault("enrich.connector_agent.base_url", "https://api.connector-agent.com/v1")
	v.SetDefault("enrich.anymail.base_url", "https://api.anymailfinder.com/v5.0")
	v.SetDefault("enrich.apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("compose.concurrency", 5)
	v.SetDefault("compose.fallback_threshold", 0.2)
	v.SetDefault("compose.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("compose.anthropic.max_tokens", 600)
	v.SetDefault("compose.gemini.model", "gemini-2.5-flash")
	v.SetDefault("dispatch.provider", "instantly")
	v.SetDefault("dispatch.max_in_flight", 5)
	v.SetDefault("dispatch.retry.max_attempts", 9)
	v.SetDefault("dispatch.retry.initial_backoff_ms", 2000)
	v.SetDefault("dispatch.retry.max_backoff_ms", 60000)
	v.SetDefault("dispatch.instantly.base_url", "https://api.instantly.ai/api/v2")
	v.SetDefault("dispatch.plusvibe.base_url", "https://api.plusvibe.ai/api/v1")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal,
	// so credentials and flags are registered with zero values.
	for _, key := range []string{
		"enrich.waterfall_file",
		"enrich.connector_agent.key",
		"enrich.anymail.key",
		"enrich.apollo.key",
		"compose.anthropic.key",
		"compose.gemini.key",
		"dispatch.instantly.key",
		"dispatch.instantly.workspace_id",
		"dispatch.instantly.demand_campaign_id",
		"dispatch.instantly.supply_campaign_id",
		"dispatch.plusvibe.key",
		"dispatch.plusvibe.workspace_id",
		"dispatch.plusvibe.demand_campaign_id",
		"dispatch.plusvibe.supply_campaign_id",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("compose.generative", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command mode needs are present.
// Supported modes are "run" (full pipeline) and "serve" (status API).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "run":
		if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 50 {
			errs = append(errs, "enrich.concurrency must be between 1 and 50")
		}
		if c.Enrich.FlushEvery < 1 {
			errs = append(errs, "enrich.flush_every must be > 0")
		}
		if c.Compose.Concurrency < 1 || c.Compose.Concurrency > 50 {
			errs = append(errs, "compose.concurrency must be between 1 and 50")
		}
		if c.Compose.FallbackThreshold < 0 || c.Compose.FallbackThreshold > 1 {
			errs = append(errs, "compose.fallback_threshold must be between 0 and 1")
		}
		switch c.Dispatch.Provider {
		case "instantly", "plusvibe":
		default:
			errs = append(errs, fmt.Sprintf("dispatch.provider %q is not supported", c.Dispatch.Provider))
		}
		if c.Dispatch.MaxInFlight < 1 {
			errs = append(errs, "dispatch.max_in_flight must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GenerativeEnabled reports whether the run should compose with the
// generative provider: it has to be switched on and credentialed.
func (c *Config) GenerativeEnabled() bool {
	return c.Compose.Generative && c.Compose.Anthropic.Key != ""
}

// Campaign returns the settings of the configured dispatch provider.
func (c *Config) Campaign() CampaignConfig {
	if c.Dispatch.Provider == "plusvibe" {
		return c.Dispatch.Plusvibe
	}
	return c.Dispatch.Instantly
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
