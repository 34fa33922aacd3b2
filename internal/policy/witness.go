package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WitnessRecord is one line of witnesses.jsonl: a receipt that a given
// policy bundle, identified by content hash, was loaded (or reloaded)
// at a point in time. Auditors correlate a policy entity id (set in
// each R6 request's rules.policyEntityId and kept in the session state
// file; audit records do not carry it) against this ledger to find when
// that rule set was loaded.
type WitnessRecord struct {
	PolicyEntityID string    `json:"policyEntityId"`
	LoadedAt       time.Time `json:"loadedAt"`
	ConfigHash     string    `json:"configHash"`
}

// WitnessLedger appends WitnessRecords to an append-only JSONL file.
// Unlike the AuditChain, the ledger carries no hash chain of its own —
// it's a receipt log, not a tamper-evident record of tool-call
// decisions.
type WitnessLedger struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// NewWitnessLedger returns a ledger that appends to path. Nothing is
// opened here; each Witness call opens the file, creating it if
// necessary.
func NewWitnessLedger(path string, log *zap.Logger) *WitnessLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &WitnessLedger{path: path, log: log}
}

// Witness records that entityID (with the given content hash) was
// loaded at the current time.
func (w *WitnessLedger) Witness(entityID, configHash string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := WitnessRecord{
		PolicyEntityID: entityID,
		LoadedAt:       time.Now().UTC(),
		ConfigHash:     configHash,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling witness record: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening witness ledger %s: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing witness record: %w", err)
	}
	return f.Sync()
}

// WitnessEngine is a convenience wrapper that witnesses an Engine's
// currently loaded config.
func (w *WitnessLedger) WitnessEngine(e *Engine) error {
	hash, err := ConfigHash(e.Config())
	if err != nil {
		return err
	}
	return w.Witness(e.EntityID(), hash)
}
