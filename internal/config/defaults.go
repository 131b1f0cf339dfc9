package config

import (
	"fmt"
	"time"
)

// Config is the full docuport configuration.
type Config struct {
	// OutputDir is the root for all pipeline output. Empty means ~/.docuport.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Workers  WorkersConfig  `mapstructure:"workers" yaml:"workers"`
	Routing  RoutingConfig  `mapstructure:"routing" yaml:"routing"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback"`
	Vision   VisionConfig   `mapstructure:"vision" yaml:"vision"`
}

// WorkersConfig bounds the two concurrency levels independently.
type WorkersConfig struct {
	// Documents is the max number of documents processed in parallel.
	Documents int `mapstructure:"documents" yaml:"documents"`

	// Sections is the max number of section extractions in flight across
	// ALL documents (the section pool is shared process-wide).
	Sections int `mapstructure:"sections" yaml:"sections"`
}

// RoutingConfig holds confidence routing thresholds.
type RoutingConfig struct {
	ConfidenceThreshold    float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold" yaml:"low_confidence_threshold"`

	// FailureCeiling is the max tolerable fraction of failed sections before
	// the document is rejected outright.
	FailureCeiling float64 `mapstructure:"failure_ceiling" yaml:"failure_ceiling"`
}

// RetryConfig holds the gateway's call policy.
type RetryConfig struct {
	MaxAttempts    uint          `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// FallbackConfig controls rule-based sectioning when detection fails.
type FallbackConfig struct {
	// ChunkPages is the page count per fallback section.
	ChunkPages int `mapstructure:"chunk_pages" yaml:"chunk_pages"`
}

// VisionConfig selects and configures the vision backend.
type VisionConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // "openai" or "mock"
	Model    string `mapstructure:"model" yaml:"model"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "",
		LogLevel:  "info",
		Workers: WorkersConfig{
			Documents: 3,
			Sections:  5,
		},
		Routing: RoutingConfig{
			ConfidenceThreshold:    0.85,
			LowConfidenceThreshold: 0.70,
			FailureCeiling:         1.0,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      2 * time.Second,
			MaxDelay:       30 * time.Second,
			RequestTimeout: 120 * time.Second,
		},
		Fallback: FallbackConfig{
			ChunkPages: 5,
		},
		Vision: VisionConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			APIKey:   "${OPENAI_API_KEY}",
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Workers.Documents < 1 {
		return fmt.Errorf("workers.documents must be at least 1, got %d", c.Workers.Documents)
	}
	if c.Workers.Sections < 1 {
		return fmt.Errorf("workers.sections must be at least 1, got %d", c.Workers.Sections)
	}
	if c.Routing.ConfidenceThreshold <= 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("routing.confidence_threshold must be in (0, 1], got %g", c.Routing.ConfidenceThreshold)
	}
	if c.Routing.FailureCeiling <= 0 || c.Routing.FailureCeiling > 1 {
		return fmt.Errorf("routing.failure_ceiling must be in (0, 1], got %g", c.Routing.FailureCeiling)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Fallback.ChunkPages < 1 {
		return fmt.Errorf("fallback.chunk_pages must be at least 1, got %d", c.Fallback.ChunkPages)
	}
	return nil
}
