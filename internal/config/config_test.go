package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if cfg.Storage.Root != "~/.sentinel/extensions/web4-governance" {
		t.Errorf("default storage root: got %q", cfg.Storage.Root)
	}
	if cfg.Storage.PolicyFile != "policy.yaml" {
		t.Errorf("default policy file: got %q", cfg.Storage.PolicyFile)
	}
	if cfg.EventLog.MinSeverity != "info" {
		t.Errorf("default min severity: expected info, got %q", cfg.EventLog.MinSeverity)
	}
	if cfg.LiveFeed.Enabled {
		t.Error("default live feed: expected disabled")
	}
	if cfg.LiveFeed.Port != 3101 {
		t.Errorf("default live feed port: expected 3101, got %d", cfg.LiveFeed.Port)
	}
	if cfg.RateLimit.DBPath != "data/rate-limits.db" {
		t.Errorf("default rate limit db path: got %q", cfg.RateLimit.DBPath)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
storage:
  root: "/var/lib/sentinel"
  policyFile: "strict-policy.yaml"
eventLog:
  minSeverity: "warn"
liveFeed:
  enabled: true
  host: "0.0.0.0"
  port: 9090
rateLimit:
  dbPath: "/var/lib/sentinel/ratelimits.db"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Root != "/var/lib/sentinel" {
		t.Errorf("storage root: got %q", cfg.Storage.Root)
	}
	if cfg.Storage.PolicyFile != "strict-policy.yaml" {
		t.Errorf("policy file: got %q", cfg.Storage.PolicyFile)
	}
	if cfg.EventLog.MinSeverity != "warn" {
		t.Errorf("min severity: got %q", cfg.EventLog.MinSeverity)
	}
	if !cfg.LiveFeed.Enabled {
		t.Error("live feed enabled: expected true")
	}
	if cfg.LiveFeed.Host != "0.0.0.0" || cfg.LiveFeed.Port != 9090 {
		t.Errorf("live feed: got host=%q port=%d", cfg.LiveFeed.Host, cfg.LiveFeed.Port)
	}
	if cfg.RateLimit.DBPath != "/var/lib/sentinel/ratelimits.db" {
		t.Errorf("rate limit db path: got %q", cfg.RateLimit.DBPath)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
eventLog:
  minSeverity: "debug"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	// Overridden field.
	if cfg.EventLog.MinSeverity != "debug" {
		t.Errorf("min severity: expected debug, got %q", cfg.EventLog.MinSeverity)
	}
	// Untouched fields retain defaults.
	if cfg.Storage.Root != "~/.sentinel/extensions/web4-governance" {
		t.Errorf("storage root should be default, got %q", cfg.Storage.Root)
	}
	if cfg.RateLimit.DBPath != "data/rate-limits.db" {
		t.Errorf("rate limit db path should be default, got %q", cfg.RateLimit.DBPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid defaults",
			cfg:     *applyDefaults(),
			wantErr: false,
		},
		{
			name: "empty storage root",
			cfg: Config{
				Storage:   StorageConfig{Root: "", PolicyFile: "policy.yaml"},
				EventLog:  EventLogConfig{MinSeverity: "info"},
				RateLimit: RateLimitConfig{DBPath: "db"},
			},
			wantErr: true,
		},
		{
			name: "empty policy file",
			cfg: Config{
				Storage:   StorageConfig{Root: "/x", PolicyFile: ""},
				EventLog:  EventLogConfig{MinSeverity: "info"},
				RateLimit: RateLimitConfig{DBPath: "db"},
			},
			wantErr: true,
		},
		{
			name: "unknown severity",
			cfg: Config{
				Storage:   StorageConfig{Root: "/x", PolicyFile: "policy.yaml"},
				EventLog:  EventLogConfig{MinSeverity: "critical"},
				RateLimit: RateLimitConfig{DBPath: "db"},
			},
			wantErr: true,
		},
		{
			name: "live feed enabled, bad port",
			cfg: Config{
				Storage:   StorageConfig{Root: "/x", PolicyFile: "policy.yaml"},
				EventLog:  EventLogConfig{MinSeverity: "info"},
				LiveFeed:  LiveFeedConfig{Enabled: true, Host: "127.0.0.1", Port: 0},
				RateLimit: RateLimitConfig{DBPath: "db"},
			},
			wantErr: true,
		},
		{
			name: "live feed enabled, empty host",
			cfg: Config{
				Storage:   StorageConfig{Root: "/x", PolicyFile: "policy.yaml"},
				EventLog:  EventLogConfig{MinSeverity: "info"},
				LiveFeed:  LiveFeedConfig{Enabled: true, Host: "", Port: 9090},
				RateLimit: RateLimitConfig{DBPath: "db"},
			},
			wantErr: true,
		},
		{
			name: "live feed disabled ignores port/host",
			cfg: Config{
				Storage:   StorageConfig{Root: "/x", PolicyFile: "policy.yaml"},
				EventLog:  EventLogConfig{MinSeverity: "info"},
				LiveFeed:  LiveFeedConfig{Enabled: false, Host: "", Port: 0},
				RateLimit: RateLimitConfig{DBPath: "db"},
			},
			wantErr: false,
		},
		{
			name: "empty rate limit db path",
			cfg: Config{
				Storage:   StorageConfig{Root: "/x", PolicyFile: "policy.yaml"},
				EventLog:  EventLogConfig{MinSeverity: "info"},
				RateLimit: RateLimitConfig{DBPath: ""},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}

	if cfg.Storage.PolicyFile != "policy.yaml" {
		t.Errorf("roundtrip policy file: got %q", cfg.Storage.PolicyFile)
	}
	if cfg.EventLog.MinSeverity != "info" {
		t.Errorf("roundtrip min severity: got %q", cfg.EventLog.MinSeverity)
	}
	if cfg.RateLimit.DBPath != "data/rate-limits.db" {
		t.Errorf("roundtrip rate limit db path: got %q", cfg.RateLimit.DBPath)
	}
}
