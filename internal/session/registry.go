package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opengovern/sentinel/internal/suspend"
)

// Summary is the read-only view of a session's state surfaced to
// operator tooling (sentinelctl session list), augmented with its
// current suspension status.
type Summary struct {
	SessionID       string           `json:"sessionId"`
	StartedAt       string           `json:"startedAt"`
	ActionIndex     uint64           `json:"actionIndex"`
	LastR6ID        string           `json:"lastR6Id,omitempty"`
	ToolCounts      map[string]int64 `json:"toolCounts"`
	CategoryCounts  map[string]int64 `json:"categoryCounts"`
	PolicyEntityID  string           `json:"policyEntityId,omitempty"`
	Suspended       bool             `json:"suspended"`
	SuspendedReason string           `json:"suspendedReason,omitempty"`
}

// Registry lists and inspects sessions by scanning the sessions
// directory directly — unlike a separate stats file kept in sync on
// every call, the per-session State files under dir are already the
// source of truth, so the registry reads them on demand rather than
// maintaining a second copy.
type Registry struct {
	dir       string
	suspended *suspend.List
}

// NewRegistry opens a Registry over the sessions directory dir. susp
// may be nil, in which case every session reports Suspended: false.
func NewRegistry(dir string, susp *suspend.List) *Registry {
	return &Registry{dir: dir, suspended: susp}
}

// List returns a Summary for every known session, ordered by
// sessionId for stable output.
func (r *Registry) List() ([]Summary, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions directory %s: %w", r.dir, err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(e.Name(), ".json")
		sm, err := r.Get(sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Get returns the Summary for a single sessionId. Returns an error if
// no state file exists for it.
func (r *Registry) Get(sessionID string) (Summary, error) {
	path := filepath.Join(r.dir, sessionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("reading session state %s: %w", path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return Summary{}, fmt.Errorf("parsing session state %s: %w", path, err)
	}

	sm := Summary{
		SessionID:      st.SessionID,
		StartedAt:      st.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		ActionIndex:    st.ActionIndex,
		LastR6ID:       st.LastR6ID,
		ToolCounts:     st.ToolCounts,
		CategoryCounts: st.CategoryCounts,
		PolicyEntityID: st.PolicyEntityID,
	}

	if r.suspended != nil {
		if reason, ok := r.suspended.Reason(sessionID); ok {
			sm.Suspended = true
			sm.SuspendedReason = reason
		}
	}

	return sm, nil
}
