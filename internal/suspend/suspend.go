// Package suspend implements the operator emergency stop: a session
// placed on the suspension list is denied every tool call regardless of
// what the policy engine would otherwise decide.
package suspend

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"os"
)

// Entry records why and when a session was suspended.
type Entry struct {
	SessionID   string    `yaml:"sessionId"`
	SuspendedAt time.Time `yaml:"suspendedAt"`
	Reason      string    `yaml:"reason"`
	By          string    `yaml:"by"`
}

// List manages the set of suspended sessions, persisting to a YAML file
// (suspended.yaml, a sibling of witnesses.jsonl in the storage root) and
// maintaining an in-memory set for O(1) lookups on the governance
// facade's pre-call hot path.
//
// Thread-safe — IsSuspended is called on every pre-call from whatever
// goroutine the host drives that session on, while Suspend/Resume/Reload
// mutate state.
type List struct {
	mu        sync.RWMutex
	suspended map[string]Entry
	entries   []Entry
	path      string
	log       *zap.Logger
}

// Open loads the suspension list from path. A missing file means no
// session is suspended, not an error.
func Open(path string, log *zap.Logger) (*List, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &List{
		suspended: make(map[string]Entry),
		path:      path,
		log:       log,
	}
	if err := l.loadFromFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// IsSuspended reports whether sessionID is currently on the suspension
// list.
func (l *List) IsSuspended(sessionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.suspended[sessionID]
	return ok
}

// Reason returns the recorded suspension reason, if sessionID is
// suspended.
func (l *List) Reason(sessionID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.suspended[sessionID]
	return e.Reason, ok
}

// Suspend adds sessionID to the list and persists it. A no-op if already
// suspended.
func (l *List) Suspend(sessionID, reason, by string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.suspended[sessionID]; exists {
		return nil
	}

	e := Entry{
		SessionID:   sessionID,
		SuspendedAt: time.Now().UTC(),
		Reason:      reason,
		By:          by,
	}
	l.suspended[sessionID] = e
	l.entries = append(l.entries, e)

	l.log.Warn("session suspended", zap.String("sessionId", sessionID), zap.String("reason", reason), zap.String("by", by))
	return l.saveToFile()
}

// Resume removes sessionID from the list and persists the change. A
// no-op if not suspended.
func (l *List) Resume(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.suspended[sessionID]; !exists {
		return nil
	}
	delete(l.suspended, sessionID)

	filtered := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.SessionID != sessionID {
			filtered = append(filtered, e)
		}
	}
	l.entries = filtered

	l.log.Info("session resumed", zap.String("sessionId", sessionID))
	return l.saveToFile()
}

// List returns every currently suspended entry.
func (l *List) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reload re-reads the suspension file from disk. Called by a file
// watcher when another process (e.g. the CLI) edits the file directly.
func (l *List) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.suspended = make(map[string]Entry)
	l.entries = nil
	if err := l.loadFromFile(); err != nil {
		return err
	}
	l.log.Info("suspension list reloaded", zap.Int("suspended", len(l.suspended)))
	return nil
}

func (l *List) loadFromFile() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading suspension list %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing suspension list %s: %w", l.path, err)
	}

	l.entries = entries
	for _, e := range entries {
		l.suspended[e.SessionID] = e
	}
	return nil
}

func (l *List) saveToFile() error {
	if len(l.entries) == 0 {
		return os.WriteFile(l.path, []byte(""), 0o644)
	}
	data, err := yaml.Marshal(l.entries)
	if err != nil {
		return fmt.Errorf("marshaling suspension list: %w", err)
	}
	return os.WriteFile(l.path, data, 0o644)
}
