package policy

import (
	"encoding/json"
	"fmt"

	"github.com/opengovern/sentinel/internal/hashutil"
)

// entityVersion is bumped whenever the shape of Config changes in a way
// that would change its hash for equivalent semantic content (e.g. a
// new field with a meaningful zero value). It has no relation to the
// policy bundle's own version — it versions the Engine's hashing
// contract itself.
const entityVersion = "1"

// EntityID computes the policy-entity identifier for a resolved config:
// policy:<name>:<version>:<sha256-hex>, content-addressed over the
// whole resolved config. The preset name is part of both the name
// segment and the hashed content, so a preset bundle and the same rules
// written out by hand get different ids.
func EntityID(cfg Config) (string, error) {
	hash, err := ConfigHash(cfg)
	if err != nil {
		return "", err
	}
	name := cfg.Preset
	if name == "" {
		name = "custom"
	}
	return fmt.Sprintf("policy:%s:%s:%s", name, entityVersion, hash), nil
}

// ConfigHash returns the full SHA-256 hex digest of cfg's canonical JSON
// encoding. Used both for the policy-entity id and the witnessing
// ledger's configHash field.
func ConfigHash(cfg Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("hashing policy config: %w", err)
	}
	return hashutil.Full(data), nil
}
