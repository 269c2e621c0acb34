// Package config loads service configuration from a yaml file, environment
// variables, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/careforge/trialscreen/internal/screening"
)

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ScreeningConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ConfidenceSamples   int           `mapstructure:"confidence_samples"`
	LLMTimeout          time.Duration `mapstructure:"llm_timeout"`
	MaxContextQueries   int           `mapstructure:"max_context_queries"`
	ContextTopK         int           `mapstructure:"context_top_k"`
}

type RetrievalConfig struct {
	BaseURL    string  `mapstructure:"base_url"`
	APIKey     string  `mapstructure:"api_key"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	CacheSize  int     `mapstructure:"cache_size"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Screening ScreeningConfig `mapstructure:"screening"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Load reads config.yaml from the given paths (working directory when none
// are given), applies TRIALSCREEN_* environment overrides, and fills in
// defaults. A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("TRIALSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ScreeningOptions converts the screening section into the pipeline's
// config type.
func (c *Config) ScreeningOptions() screening.Config {
	return screening.Config{
		ConfidenceThreshold: c.Screening.ConfidenceThreshold,
		ConfidenceSamples:   c.Screening.ConfidenceSamples,
		LLMTimeout:          c.Screening.LLMTimeout,
		MaxContextQueries:   c.Screening.MaxContextQueries,
		ContextTopK:         c.Screening.ContextTopK,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("screening.confidence_threshold", 0.80)
	v.SetDefault("screening.confidence_samples", 5)
	v.SetDefault("screening.llm_timeout", "60s")
	v.SetDefault("screening.max_context_queries", 5)
	v.SetDefault("screening.context_top_k", 3)

	v.SetDefault("retrieval.base_url", "")
	v.SetDefault("retrieval.api_key", "")
	v.SetDefault("retrieval.rate_per_sec", 10)
	v.SetDefault("retrieval.cache_size", 256)

	v.SetDefault("database.path", "trialscreen.db")

	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Screening.ConfidenceThreshold <= 0 || c.Screening.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: %v", c.Screening.ConfidenceThreshold)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
