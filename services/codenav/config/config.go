// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the codenav server configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, CODENAV_*
// environment variables. The merged result is validated before use.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full server configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Tree    TreeConfig    `yaml:"tree"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port to listen on.
	// Env: CODENAV_PORT (default: 8080)
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// Debug enables gin debug mode.
	Debug bool `yaml:"debug"`
}

// BackendConfig configures the analysis backend client.
type BackendConfig struct {
	// BaseURL of the analysis backend.
	// Env: CODENAV_BACKEND_URL (default: http://127.0.0.1:8000)
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Timeout bounds each backend request.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	// RatePerSecond caps outbound requests. Zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`

	// Burst is the limiter bucket size.
	Burst int `yaml:"burst" validate:"min=0"`
}

// CacheConfig configures the per-session dependency cache.
type CacheConfig struct {
	FetchTimeout        time.Duration `yaml:"fetch_timeout" validate:"min=0"`
	PrefetchConcurrency int           `yaml:"prefetch_concurrency" validate:"min=0,max=64"`
}

// TreeConfig configures file tree loading.
type TreeConfig struct {
	// Hidden holds gitignore-style patterns removed from the tree.
	Hidden []string `yaml:"hidden"`
}

// SessionConfig configures session lifetime.
type SessionConfig struct {
	// IdleTTL disposes sessions unused for this long. Zero disables reaping.
	// Env: CODENAV_SESSION_IDLE_TTL (default: 30m)
	IdleTTL time.Duration `yaml:"idle_ttl" validate:"min=0"`

	// ReapInterval is how often idle sessions are looked for.
	ReapInterval time.Duration `yaml:"reap_interval" validate:"min=0"`

	// MaxSessions caps concurrently open sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions" validate:"min=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Env: CODENAV_LOG_LEVEL (default: info)
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is text or json.
	Format string `yaml:"format" validate:"oneof=text json"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	// Env: CODENAV_TRACING_EXPORTER (default: none)
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultPort        = 8080
	DefaultBackendURL  = "http://127.0.0.1:8000"
	DefaultConfigPath  = "codenav.yaml"
	DefaultMaxSessions = 64
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Backend: BackendConfig{
			BaseURL:       DefaultBackendURL,
			Timeout:       30 * time.Second,
			RatePerSecond: 20,
			Burst:         10,
		},
		Cache: CacheConfig{
			FetchTimeout:        15 * time.Second,
			PrefetchConcurrency: 4,
		},
		Tree: TreeConfig{
			Hidden: []string{".*", "__pycache__/", "node_modules/"},
		},
		Session: SessionConfig{
			IdleTTL:      30 * time.Minute,
			ReapInterval: time.Minute,
			MaxSessions:  DefaultMaxSessions,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{Exporter: "none"},
	}
}

// =============================================================================
// Loading
// =============================================================================

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration.
//
// Description:
//
//	Starts from Default, overlays the YAML file at path when it exists, then
//	applies CODENAV_* environment overrides and validates the result. A
//	missing file is not an error; a malformed one is.
//
// Inputs:
//
//	path - YAML file path. Empty skips the file.
//
// Outputs:
//
//	*Config - Validated configuration.
//	error - Read, parse or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envInt("CODENAV_PORT", cfg.Server.Port)
	cfg.Server.Debug = envBool("CODENAV_DEBUG", cfg.Server.Debug)
	cfg.Backend.BaseURL = envString("CODENAV_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Log.Level = strings.ToLower(envString("CODENAV_LOG_LEVEL", cfg.Log.Level))
	cfg.Tracing.Exporter = strings.ToLower(envString("CODENAV_TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Session.IdleTTL = envDuration("CODENAV_SESSION_IDLE_TTL", cfg.Session.IdleTTL)
}

// envString reads a string environment variable with a default value.
func envString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// envBool reads a boolean environment variable with a default value.
func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// envDuration reads a Go duration environment variable with a default value.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

// =============================================================================
// Logging
// =============================================================================

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalid, name)
	}
	return lvl, nil
}

// NewLogger builds the process logger. The level is read from level so it
// can be changed at runtime.
func NewLogger(cfg LogConfig, level *slog.LevelVar, w io.Writer) *slog.Logger {
	if lvl, err := ParseLevel(cfg.Level); err == nil {
		level.Set(lvl)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
