// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	// Listen is the HTTP listen address of the control surface.
	Listen string `yaml:"listen"`
	// RelayBase is the base URL of the stream relay (no trailing slash).
	RelayBase string `yaml:"relayBase"`
	// ProviderBases maps a provider name to its metadata edge base URL.
	// Providers without a base are disabled.
	ProviderBases map[string]string `yaml:"providers"`
	// EnvelopeSecret opens encrypted {"data": ...} metadata responses.
	EnvelopeSecret string `yaml:"envelopeSecret"`

	// RetryBudget bounds transparent per-episode playback retries.
	RetryBudget int `yaml:"retryBudget"`
	// BufferAhead bounds how far ahead of playback segments are fetched.
	BufferAhead time.Duration `yaml:"bufferAhead"`
	// WarmupPollBudget bounds relay warm-up probe attempts per episode.
	WarmupPollBudget int `yaml:"warmupPollBudget"`
	// SubtitleLanguage is the UI language subtitles default to.
	SubtitleLanguage string `yaml:"subtitleLanguage"`

	// UpstreamRPS rate-limits all metadata calls combined.
	UpstreamRPS float64 `yaml:"upstreamRPS"`
	// BreakerThreshold and BreakerReset configure the per-provider breaker.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`

	LogLevel string `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:           ":8080",
		RelayBase:        "http://127.0.0.1:8088",
		ProviderBases:    map[string]string{},
		RetryBudget:      2,
		BufferAhead:      10 * time.Second,
		WarmupPollBudget: 2,
		SubtitleLanguage: "id",
		UpstreamRPS:      10,
		BreakerThreshold: 3,
		BreakerReset:     30 * time.Second,
		LogLevel:         "info",
	}
}

// Load resolves the configuration. A non-empty path must point at a YAML
// file; the file overrides defaults and the environment overrides the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if isYAMLUnknownFieldError(err) {
			return fmt.Errorf("%w: %s: %v", ErrUnknownConfigField, path, err)
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Listen = ParseString("DRACINBOX_LISTEN", c.Listen)
	c.RelayBase = ParseString("DRACINBOX_RELAY_BASE", c.RelayBase)
	c.EnvelopeSecret = ParseString("DRACINBOX_ENVELOPE_SECRET", c.EnvelopeSecret)

	if c.ProviderBases == nil {
		c.ProviderBases = map[string]string{}
	}
	for _, p := range canonical.Providers() {
		key := "DRACINBOX_API_BASE_" + strings.ToUpper(string(p))
		if v := ParseString(key, c.ProviderBases[string(p)]); v != "" {
			c.ProviderBases[string(p)] = v
		}
	}

	c.RetryBudget = ParseInt("DRACINBOX_RETRY_BUDGET", c.RetryBudget)
	c.BufferAhead = ParseDuration("DRACINBOX_BUFFER_AHEAD", c.BufferAhead)
	c.WarmupPollBudget = ParseInt("DRACINBOX_WARMUP_POLL_BUDGET", c.WarmupPollBudget)
	c.SubtitleLanguage = ParseString("DRACINBOX_SUBTITLE_LANGUAGE", c.SubtitleLanguage)
	c.UpstreamRPS = ParseFloat("DRACINBOX_UPSTREAM_RPS", c.UpstreamRPS)
	c.BreakerThreshold = ParseInt("DRACINBOX_BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerReset = ParseDuration("DRACINBOX_BREAKER_RESET", c.BreakerReset)
	c.LogLevel = ParseString("DRACINBOX_LOG_LEVEL", c.LogLevel)
}

// Validate checks the resolved configuration for operator mistakes.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return &ValidationError{Field: "listen", Reason: "must not be empty"}
	}
	if c.RelayBase == "" {
		return &ValidationError{Field: "relayBase", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(c.RelayBase, "http://") && !strings.HasPrefix(c.RelayBase, "https://") {
		return &ValidationError{Field: "relayBase", Reason: "must be an http(s) URL"}
	}
	for name, base := range c.ProviderBases {
		if _, err := canonical.ParseProvider(name); err != nil {
			return &ValidationError{Field: "providers." + name, Reason: "unknown provider"}
		}
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return &ValidationError{Field: "providers." + name, Reason: "must be an http(s) URL"}
		}
	}
	if c.RetryBudget < 0 {
		return &ValidationError{Field: "retryBudget", Reason: "must be >= 0"}
	}
	if c.BufferAhead <= 0 {
		return &ValidationError{Field: "bufferAhead", Reason: "must be > 0"}
	}
	if c.WarmupPollBudget <= 0 {
		return &ValidationError{Field: "warmupPollBudget", Reason: "must be > 0"}
	}
	if c.SubtitleLanguage == "" {
		return &ValidationError{Field: "subtitleLanguage", Reason: "must not be empty"}
	}
	if c.UpstreamRPS <= 0 {
		return &ValidationError{Field: "upstreamRPS", Reason: "must be > 0"}
	}
	if c.BreakerThreshold <= 0 {
		return &ValidationError{Field: "breakerThreshold", Reason: "must be > 0"}
	}
	if c.BreakerReset <= 0 {
		return &ValidationError{Field: "breakerReset", Reason: "must be > 0"}
	}
	return nil
}

// Bases converts the configured provider bases to the canonical key type.
func (c *Config) Bases() map[canonical.Provider]string {
	out := make(map[canonical.Provider]string, len(c.ProviderBases))
	for name, base := range c.ProviderBases {
		if p, err := canonical.ParseProvider(name); err == nil {
			out[p] = base
		}
	}
	return out
}

func isYAMLUnknownFieldError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "field") && strings.Contains(msg, "not found")
}
