// Package config provides configuration loading for ideationd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults underneath. All sections are validated
// on load.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete ideationd configuration.
type Config struct {
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Capability CapabilityConfig `koanf:"capability"`
	Notify     NotifyConfig     `koanf:"notify"`
	Report     ReportConfig     `koanf:"report"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	// Threshold is the pass bar for the combined score (1-10).
	Threshold float64 `koanf:"threshold"`

	// EliminationBar is the Phase 1 bar. Zero means "use Threshold".
	// Some deployments pin it at 6.0 independently of the pass threshold.
	EliminationBar float64 `koanf:"elimination_bar"`

	// Policy selects elimination behavior: "early" skips the solution
	// phase for eliminated sessions, "full" runs every phase and only
	// branches at reporting time.
	Policy string `koanf:"policy"`

	// Topology selects the stage graph: "two_phase" fans research
	// stages out concurrently, "sequential" runs every stage in a
	// single dependency chain with all stages critical.
	Topology string `koanf:"topology"`

	// StageTimeout bounds a single external capability call.
	StageTimeout Duration `koanf:"stage_timeout"`

	// VisibilityTimeout bounds waiting for store records to become
	// queryable across the eventual-consistency window.
	VisibilityTimeout Duration `koanf:"visibility_timeout"`

	// ProblemOnly skips Phase 2 unconditionally.
	ProblemOnly bool `koanf:"problem_only"`
}

// StoreConfig holds context store settings.
type StoreConfig struct {
	// Provider is "chromem" (embedded) or "qdrant" (remote).
	Provider string `koanf:"provider"`

	// Path is the chromem persistence directory. Empty means in-memory.
	Path string `koanf:"path"`

	// URL is the Qdrant server URL (qdrant provider only).
	URL string `koanf:"url"`

	// Collection is the collection name for session records.
	Collection string `koanf:"collection"`

	// MaxRetries bounds write/query retry attempts.
	MaxRetries int `koanf:"max_retries"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX) or "api" (OpenAI-compatible).
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// CapabilityConfig holds reasoning capability settings.
type CapabilityConfig struct {
	// BaseURL is an OpenAI-compatible chat completion endpoint.
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`

	// Temperature for generation. Stage analysis wants low variance.
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`

	// RequestsPerMinute rate-limits capability invocations.
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	// NATSURL enables the NATS notifier when set. Empty disables
	// notifications (noop notifier).
	NATSURL string `koanf:"nats_url"`

	// SubjectPrefix prefixes all published subjects.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ReportConfig holds report sink settings.
type ReportConfig struct {
	// OutputDir is where report artifacts are written.
	OutputDir string `koanf:"output_dir"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OTLP trace export settings. Disabled by
// default; most installs have no collector listening.
type TelemetryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Insecure       bool   `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `koanf:"sample_rate"`

	// ShutdownTimeout bounds the final span flush.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns a configuration with production defaults.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Threshold:         5.0,
			Policy:            "early",
			Topology:          "two_phase",
			StageTimeout:      Duration(5 * time.Minute),
			VisibilityTimeout: Duration(60 * time.Second),
		},
		Store: StoreConfig{
			Provider:   "chromem",
			Path:       "~/.local/share/ideationd/store",
			Collection: "ideation_records",
			MaxRetries: 3,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "BAAI/bge-small-en-v1.5",
		},
		Capability: CapabilityConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Temperature:       0.1,
			MaxTokens:         4096,
			RequestsPerMinute: 30,
		},
		Notify: NotifyConfig{
			SubjectPrefix: "ideation",
		},
		Report: ReportConfig{
			OutputDir: "reports",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			ServiceName:     "ideationd",
			ServiceVersion:  "0.1.0",
			Insecure:        true,
			SampleRate:      1.0,
			ShutdownTimeout: Duration(5 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Pipeline.Threshold < 1 || c.Pipeline.Threshold > 10 {
		return fmt.Errorf("%w: pipeline.threshold must be in [1,10], got %v", ErrInvalidConfig, c.Pipeline.Threshold)
	}
	if c.Pipeline.EliminationBar != 0 && (c.Pipeline.EliminationBar < 1 || c.Pipeline.EliminationBar > 10) {
		return fmt.Errorf("%w: pipeline.elimination_bar must be in [1,10], got %v", ErrInvalidConfig, c.Pipeline.EliminationBar)
	}
	if c.Pipeline.Policy != "early" && c.Pipeline.Policy != "full" {
		return fmt.Errorf("%w: pipeline.policy must be 'early' or 'full', got %q", ErrInvalidConfig, c.Pipeline.Policy)
	}
	if c.Pipeline.Topology != "two_phase" && c.Pipeline.Topology != "sequential" {
		return fmt.Errorf("%w: pipeline.topology must be 'two_phase' or 'sequential', got %q", ErrInvalidConfig, c.Pipeline.Topology)
	}
	if c.Pipeline.StageTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: pipeline.stage_timeout must be positive", ErrInvalidConfig)
	}
	if c.Store.Provider != "chromem" && c.Store.Provider != "qdrant" {
		return fmt.Errorf("%w: store.provider must be 'chromem' or 'qdrant', got %q", ErrInvalidConfig, c.Store.Provider)
	}
	if c.Store.Provider == "qdrant" && c.Store.URL == "" {
		return fmt.Errorf("%w: store.url required for qdrant provider", ErrInvalidConfig)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("%w: store.collection required", ErrInvalidConfig)
	}
	if c.Store.MaxRetries < 1 {
		return fmt.Errorf("%w: store.max_retries must be >= 1", ErrInvalidConfig)
	}
	if c.Embeddings.Provider != "fastembed" && c.Embeddings.Provider != "api" {
		return fmt.Errorf("%w: embeddings.provider must be 'fastembed' or 'api', got %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Capability.BaseURL == "" {
		return fmt.Errorf("%w: capability.base_url required", ErrInvalidConfig)
	}
	if c.Capability.Model == "" {
		return fmt.Errorf("%w: capability.model required", ErrInvalidConfig)
	}
	if c.Capability.RequestsPerMinute < 1 {
		return fmt.Errorf("%w: capability.requests_per_minute must be >= 1", ErrInvalidConfig)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("%w: telemetry.endpoint required when telemetry is enabled", ErrInvalidConfig)
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("%w: telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", ErrInvalidConfig, c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("%w: telemetry.sample_rate must be in [0,1], got %v", ErrInvalidConfig, c.Telemetry.SampleRate)
		}
	}
	return nil
}

// EliminationThreshold returns the Phase 1 bar, falling back to the pass
// threshold when no independent bar is configured.
func (c *PipelineConfig) EliminationThreshold() float64 {
	if c.EliminationBar != 0 {
		return c.EliminationBar
	}
	return c.Threshold
}
