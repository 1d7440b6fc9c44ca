// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates QMB configuration from YAML and
// supports hot-reloading guard policy while the process runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianQMB/pkg/logging"
	"github.com/AleutianAI/AleutianQMB/services/builder/guard"
)

// Config is the full QMB configuration tree.
type Config struct {
	// DataDir is the root directory for sessions, logs, and audit
	// files. A leading ~ expands to the user's home directory.
	DataDir string `yaml:"data_dir" validate:"required"`

	// LogLevel sets the process log level.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Session   SessionConfig   `yaml:"session"`
	Guard     GuardConfig     `yaml:"guard"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SessionConfig controls session retention.
type SessionConfig struct {
	// MaxAgeDays is the retention horizon used by cleanup. Zero
	// disables age-based cleanup.
	MaxAgeDays int `yaml:"max_age_days" validate:"gte=0"`
}

// GuardConfig controls request validation and rate limiting.
type GuardConfig struct {
	MaxRequests      int `yaml:"max_requests" validate:"gt=0"`
	WindowMinutes    int `yaml:"window_minutes" validate:"gt=0"`
	FailureThreshold int `yaml:"failure_threshold" validate:"gt=0"`
	BlockMinutes     int `yaml:"block_minutes" validate:"gt=0"`

	// ExtraBlockedPatterns are regex patterns rejected in addition to
	// the built-in off-domain set.
	ExtraBlockedPatterns []string `yaml:"extra_blocked_patterns"`
}

// TelemetryConfig controls the per-session operational log buffer.
type TelemetryConfig struct {
	FlushThreshold int `yaml:"flush_threshold" validate:"gt=0"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		DataDir:  "~/.qmb",
		LogLevel: "info",
		Session: SessionConfig{
			MaxAgeDays: 30,
		},
		Guard: GuardConfig{
			MaxRequests:      10,
			WindowMinutes:    60,
			FailureThreshold: 3,
			BlockMinutes:     10,
		},
		Telemetry: TelemetryConfig{
			FlushThreshold: 100,
		},
	}
}

// Load reads the YAML file at path, layering it over DefaultConfig and
// validating the result. A missing file yields the defaults without
// error; a present but invalid file is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate applies struct-tag validation to the whole tree.
func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// Limits converts the guard section to runtime rate-limit settings.
func (g GuardConfig) Limits() guard.Limits {
	return guard.Limits{
		Capacity:         g.MaxRequests,
		Window:           time.Duration(g.WindowMinutes) * time.Minute,
		FailureThreshold: g.FailureThreshold,
		BlockDuration:    time.Duration(g.BlockMinutes) * time.Minute,
	}
}

// LoggingLevel maps the configured level string to a logging.Level.
func (c Config) LoggingLevel() logging.Level {
	switch c.LogLevel {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// ExpandedDataDir resolves a leading ~ in DataDir.
func (c Config) ExpandedDataDir() string {
	if len(c.DataDir) > 0 && c.DataDir[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, c.DataDir[1:])
		}
	}
	return c.DataDir
}
