// Package config handles loading, validating, and writing the top-level
// Sentinel configuration from ~/.sentinel/config.yaml — the settings an
// embedder needs to stand up a Facade (storage root, policy bundle
// location, event-stream severity, the optional live-feed listener).
//
// Governance semantics themselves — rules, presets, enforce/dry-run —
// live in the policy bundle (internal/policy), not here: this file only
// wires the storage root and ambient knobs together.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Sentinel configuration.
// Loaded from ~/.sentinel/config.yaml, with sensible defaults for fields
// that are not explicitly set.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	EventLog  EventLogConfig  `yaml:"eventLog"`
	LiveFeed  LiveFeedConfig  `yaml:"liveFeed"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// StorageConfig defines the root directory that holds every Sentinel
// file: audit/, sessions/, data/rate-limits.db, witnesses.jsonl,
// events.jsonl. Default: ~/.sentinel/extensions/web4-governance/.
type StorageConfig struct {
	Root       string `yaml:"root"`
	PolicyFile string `yaml:"policyFile"`
}

// EventLogConfig controls the EventStream side channel.
type EventLogConfig struct {
	MinSeverity string `yaml:"minSeverity"`
}

// LiveFeedConfig controls the optional WebSocket broadcast of event
// stream records to connected operator tooling. Disabled by default —
// embedders opt in explicitly.
type LiveFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// RateLimitConfig points at the durable sliding-window store.
type RateLimitConfig struct {
	DBPath string `yaml:"dbPath"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal on first run
			// before `sentinelctl` writes one out.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header, overwriting any existing file at path. Used by
// `sentinelctl init`.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# Sentinel governance configuration
#
# storage:
#   root:       Directory holding audit/, sessions/, data/, witnesses.jsonl, events.jsonl
#   policyFile: Path to the policy bundle YAML (preset + custom rules)
#
# eventLog:
#   minSeverity: debug | info | warn | alert | error — events below this are dropped
#
# liveFeed:
#   enabled: serve a WebSocket broadcast of the event stream for operator tooling
#   host/port: bind address for the live-feed listener
#
# rateLimit:
#   dbPath: SQLite file backing the durable sliding-window rate limiter

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:       "~/.sentinel/extensions/web4-governance",
			PolicyFile: "policy.yaml",
		},
		EventLog: EventLogConfig{
			MinSeverity: "info",
		},
		LiveFeed: LiveFeedConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    3101,
		},
		RateLimit: RateLimitConfig{
			DBPath: "data/rate-limits.db",
		},
	}
}

var validSeverities = map[string]bool{
	"debug": true, "info": true, "warn": true, "alert": true, "error": true,
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if cfg.Storage.PolicyFile == "" {
		return fmt.Errorf("storage.policyFile must not be empty")
	}
	if !validSeverities[cfg.EventLog.MinSeverity] {
		return fmt.Errorf("eventLog.minSeverity %q is not one of debug|info|warn|alert|error", cfg.EventLog.MinSeverity)
	}
	if cfg.LiveFeed.Enabled {
		if cfg.LiveFeed.Port < 1 || cfg.LiveFeed.Port > 65535 {
			return fmt.Errorf("liveFeed.port %d out of range (1-65535)", cfg.LiveFeed.Port)
		}
		if cfg.LiveFeed.Host == "" {
			return fmt.Errorf("liveFeed.host must not be empty when liveFeed.enabled is true")
		}
	}
	if cfg.RateLimit.DBPath == "" {
		return fmt.Errorf("rateLimit.dbPath must not be empty")
	}
	return nil
}
