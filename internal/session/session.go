// Package session stores the per-session state a governance core needs
// across calls: the session's signing keypair, its position in the
// audit chain, and running per-tool/per-category counters.
//
// One State lives on disk as a single JSON file, overwritten on every
// update (last-write-wins, single-writer-per-session — concurrent
// processes sharing a sessionId are an unsupported configuration).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/signer"
)

// State is one session's persisted state. Field order matches what's
// written to disk.
type State struct {
	SessionID      string           `json:"sessionId"`
	StartedAt      time.Time        `json:"startedAt"`
	ActionIndex    uint64           `json:"actionIndex"`
	LastR6ID       string           `json:"lastR6Id,omitempty"`
	ToolCounts     map[string]int64 `json:"toolCounts"`
	CategoryCounts map[string]int64 `json:"categoryCounts"`
	PolicyEntityID string           `json:"policyEntityId,omitempty"`
	Signing        signer.KeyPair   `json:"signing"`
}

// Store manages one open session's State, guarding concurrent access
// within this process and persisting every update to sessionId's JSON
// file.
type Store struct {
	mu    sync.Mutex
	path  string
	state State
	log   *zap.Logger
}

// Open loads sessionId's state file from dir, creating a fresh state
// with a freshly generated signing keypair if the file doesn't exist —
// this is "session starts on first tool call in a new sessionId".
func Open(dir, sessionID string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory %s: %w", dir, err)
	}

	s := &Store{
		path: filepath.Join(dir, sessionID+".json"),
		log:  log,
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading session state %s: %w", s.path, err)
		}
		kp, err := signer.Generate()
		if err != nil {
			return nil, fmt.Errorf("generating session signing keypair: %w", err)
		}
		s.state = State{
			SessionID:      sessionID,
			StartedAt:      time.Now().UTC(),
			ToolCounts:     map[string]int64{},
			CategoryCounts: map[string]int64{},
			Signing:        kp,
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		log.Info("session started", zap.String("sessionId", sessionID), zap.String("keyId", kp.KeyID))
		return s, nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing session state %s: %w", s.path, err)
	}
	if st.ToolCounts == nil {
		st.ToolCounts = map[string]int64{}
	}
	if st.CategoryCounts == nil {
		st.CategoryCounts = map[string]int64{}
	}
	s.state = st
	return s, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyState()
}

func (s *Store) copyState() State {
	st := s.state
	st.ToolCounts = make(map[string]int64, len(s.state.ToolCounts))
	for k, v := range s.state.ToolCounts {
		st.ToolCounts[k] = v
	}
	st.CategoryCounts = make(map[string]int64, len(s.state.CategoryCounts))
	for k, v := range s.state.CategoryCounts {
		st.CategoryCounts[k] = v
	}
	return st
}

// NextActionIndex returns the actionIndex to use for the call currently
// in flight, without mutating state — a pre-call read.
func (s *Store) NextActionIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActionIndex
}

// LastR6ID returns the previous R6 request id, empty for the session's
// first call.
func (s *Store) LastR6ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastR6ID
}

// SigningKeyPair returns the session's Ed25519 keypair.
func (s *Store) SigningKeyPair() signer.KeyPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Signing
}

// SetPolicyEntityID records which policy bundle is currently active for
// this session and persists the change.
func (s *Store) SetPolicyEntityID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PolicyEntityID = id
	return s.save()
}

// PolicyEntityID returns the currently recorded policy bundle id.
func (s *Store) PolicyEntityID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PolicyEntityID
}

// Advance is the post-call state update: increments actionIndex, records
// the just-built R6 id as lastR6Id, bumps the tool/category counters,
// and persists — step 6 of the governance facade's post-call sequence.
func (s *Store) Advance(r6ID, tool, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ActionIndex++
	s.state.LastR6ID = r6ID
	s.state.ToolCounts[tool]++
	s.state.CategoryCounts[category]++

	return s.save()
}

// save writes the current state to disk, overwriting the previous
// content in full — last-write-wins, no partial updates.
func (s *Store) save() error {
	data, err := json.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing session state %s: %w", s.path, err)
	}
	return nil
}
