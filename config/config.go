package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/relaydesk/graphgate/graph"
	"github.com/relaydesk/graphgate/logger"
)

// Config is the configuration for the graphgate CLI and any service
// embedding the library. Everything is optional; zero values fall back
// to the library defaults.
type Config struct {
	LogLevel           string `hcl:"log_level,optional" mapstructure:"log_level"`
	LogFormat          string `hcl:"log_format,optional" mapstructure:"log_format"`
	LogFile            string `hcl:"log_file,optional" mapstructure:"log_file"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional" mapstructure:"log_rotate_megabytes"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional" mapstructure:"log_rotate_max_files"`

	Retry *RetryBlock `hcl:"retry,block" mapstructure:"retry"`
	API   *APIBlock   `hcl:"api,block" mapstructure:"api"`
}

// RetryBlock tunes the retry engine.
type RetryBlock struct {
	MaxRetries            int     `hcl:"max_retries,optional" mapstructure:"max_retries"`
	AttemptTimeoutSeconds int     `hcl:"attempt_timeout_seconds,optional" mapstructure:"attempt_timeout_seconds"`
	BackoffMultiplier     float64 `hcl:"backoff_multiplier,optional" mapstructure:"backoff_multiplier"`
	MaxBackoffSeconds     int     `hcl:"max_backoff_seconds,optional" mapstructure:"max_backoff_seconds"`
}

// APIBlock tunes the clients built by the factory.
type APIBlock struct {
	Version           string   `hcl:"version,optional" mapstructure:"version"`
	BaseURL           string   `hcl:"base_url,optional" mapstructure:"base_url"`
	TimeoutSeconds    int      `hcl:"timeout_seconds,optional" mapstructure:"timeout_seconds"`
	RequestsPerSecond float64  `hcl:"requests_per_second,optional" mapstructure:"requests_per_second"`
	Scopes            []string `hcl:"scopes,optional" mapstructure:"scopes"`
}

// DefaultConfig returns a config that resolves entirely to library
// defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "standard",
	}
}

// LoadConfig parses an HCL configuration file.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()
	if err := hclsimple.DecodeFile(configFile, nil, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configFile, err)
	}
	return config, nil
}

// ApplyOverrides merges loosely-typed key/value overrides (flag values,
// environment-derived maps) over the loaded config. String values are
// coerced to the target field types.
func (c *Config) ApplyOverrides(overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("failed to apply config overrides: %w", err)
	}
	return nil
}

// LoggerConfig converts the logging settings to a logger.Config.
func (c *Config) LoggerConfig() *logger.Config {
	cfg := logger.DefaultConfig()
	if c.LogLevel != "" {
		cfg.Level = logger.ParseLogLevel(c.LogLevel)
	}
	if c.LogFormat == "json" {
		cfg.Format = logger.JSONFormat
	}
	if c.LogFile != "" {
		cfg.FileConfig = &logger.FileConfig{
			Filename:   c.LogFile,
			MaxSize:    c.LogRotateMegabytes,
			MaxBackups: c.LogRotateMaxFiles,
		}
	}
	return cfg
}

// RetryOptions converts the retry block to engine options. A nil block
// yields the zero value, which the engine fills with its defaults.
func (c *Config) RetryOptions() graph.RetryOptions {
	if c.Retry == nil {
		return graph.RetryOptions{}
	}
	return graph.RetryOptions{
		MaxRetries:        c.Retry.MaxRetries,
		Timeout:           time.Duration(c.Retry.AttemptTimeoutSeconds) * time.Second,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
		MaxBackoff:        time.Duration(c.Retry.MaxBackoffSeconds) * time.Second,
	}
}

// ClientOptions converts the api block to factory defaults.
func (c *Config) ClientOptions() graph.ClientOptions {
	opts := graph.ClientOptions{Retry: c.RetryOptions()}
	if c.API == nil {
		return opts
	}
	opts.Version = c.API.Version
	opts.BaseURL = c.API.BaseURL
	opts.Timeout = time.Duration(c.API.TimeoutSeconds) * time.Second
	opts.RequestsPerSecond = c.API.RequestsPerSecond
	opts.Scopes = c.API.Scopes
	return opts
}
