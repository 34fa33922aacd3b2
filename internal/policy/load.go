package policy

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opengovern/sentinel/internal/ratelimit"
)

// LoadConfig reads and parses a PolicyConfig bundle from path. A missing
// file is not an error — it returns the permissive preset, matching the
// "fail open for local embedding, fail loud on a malformed file" stance
// the rest of the ambient config stack takes.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{Preset: "permissive"}, nil
		}
		return Config{}, fmt.Errorf("reading policy config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigInvalidError{Reason: fmt.Sprintf("parsing policy config %s: %v", path, err)}
	}

	return cfg, nil
}

// WriteDefaultConfig writes a default policy bundle (the safety preset,
// with no custom rules) to path.
func WriteDefaultConfig(path string) error {
	cfg := Config{Preset: "safety"}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshaling default policy config: %w", err)
	}

	header := "# Sentinel policy bundle\n# preset: permissive | safety | strict | audit-only\n# custom rules listed under \"rules\" are appended after the preset's own.\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// NewFromFile loads a PolicyConfig from path and constructs an Engine
// from it in one step.
func NewFromFile(path string, limiter *ratelimit.Limiter, log *zap.Logger) (*Engine, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, limiter, log)
}
