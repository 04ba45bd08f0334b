package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "PATCHSMITH_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load builds the effective configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (PATCHSMITH_BUDGET_MAX_TOKENS, PATCHSMITH_AGENTS_API_KEY, ...)
//  2. YAML config file at configPath, if one exists
//  3. Built-in defaults
//
// The config file must be owner-readable only (0600 or 0400) and under 1MB;
// weaker permissions are rejected because the file may carry API tokens.
//
// Environment variables map onto YAML keys by stripping the PATCHSMITH_
// prefix, lowercasing, and splitting on the first underscore:
//
//	PATCHSMITH_BUDGET_MAX_TOKENS  -> budget.max_tokens
//	PATCHSMITH_AGENTS_API_KEY     -> agents.api_key
//	PATCHSMITH_OUTPUT             -> output
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and validate through the file descriptor to avoid
			// a TOCTOU race between check and read.
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// PATCHSMITH_BUDGET_MAX_TOKENS -> budget.max_tokens
		// Split on the first underscore only: section, then field name
		// with its own underscores intact.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults so unset keys keep their built-in values.
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfigFileProperties checks permissions and size on an
// already-opened file descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
