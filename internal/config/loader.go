package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix is the prefix for environment variable overrides.
	envPrefix = "IDEATION_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (IDEATION_PIPELINE_THRESHOLD, ...)
//  2. YAML config file (configPath; skipped when empty or missing)
//  3. Defaults from Default()
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and treating the first underscore as the section
// separator:
//
//	IDEATION_PIPELINE_THRESHOLD   -> pipeline.threshold
//	IDEATION_STORE_MAX_RETRIES    -> store.max_retries
//	IDEATION_CAPABILITY_BASE_URL  -> capability.base_url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("%w: config file exceeds %d bytes", ErrInvalidConfig, maxConfigFileSize)
			}
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// transformEnvKey maps IDEATION_SECTION_FIELD_NAME to section.field_name.
// Sections are single words, so only the first underscore becomes a dot.
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}
