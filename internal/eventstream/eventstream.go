// Package eventstream implements the append-only JSONL side channel the
// governance core emits operational events to, orthogonal to the audit
// log: policy decisions, rate-limit hits, session lifecycle, errors.
// Unlike the audit log it carries no hash chain or signature — it's an
// observability feed, not a tamper-evident record.
package eventstream

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity orders event importance; minSeverity filters which events get
// written. Order: debug < info < warn < alert < error.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityAlert Severity = "alert"
	SeverityError Severity = "error"
)

var severityRank = map[Severity]int{
	SeverityDebug: 0,
	SeverityInfo:  1,
	SeverityWarn:  2,
	SeverityAlert: 3,
	SeverityError: 4,
}

// EventType enumerates the event kinds the governance core emits.
type EventType string

const (
	EventSessionStart      EventType = "session_start"
	EventSessionEnd        EventType = "session_end"
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventPolicyDecision    EventType = "policy_decision"
	EventPolicyViolation   EventType = "policy_violation"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventAuditRecord       EventType = "audit_record"
	EventAuditAlert        EventType = "audit_alert"
	EventSystemError       EventType = "system_error"
)

// Event is one line of the event stream. Optional fields are omitted
// from the JSON encoding when zero-valued — encoding/json's omitempty
// covers every field type used here, so no null or empty values reach
// the file.
type Event struct {
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Severity    Severity       `json:"severity"`
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId,omitempty"`
	AgentID     string         `json:"agentId,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Target      string         `json:"target,omitempty"`
	Category    string         `json:"category,omitempty"`
	Decision    string         `json:"decision,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	RuleID      string         `json:"ruleId,omitempty"`
	DurationMs  int64          `json:"durationMs,omitempty"`
	Count       int            `json:"count,omitempty"`
	TrustBefore float64        `json:"trustBefore,omitempty"`
	TrustAfter  float64        `json:"trustAfter,omitempty"`
	TrustDelta  float64        `json:"trustDelta,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorType   string         `json:"errorType,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// maxFileSize triggers rotation: before each write, if the file is
// already at or past this size, the current file is renamed to
// "<path>.1" (replacing any existing backup) and a fresh file started.
const maxFileSize = 100 * 1024 * 1024

// Callback is an in-process subscriber notified of every event that
// passes the severity filter. A panicking callback must never take down
// the stream — Emit recovers and logs instead.
type Callback func(Event)

// Stream is an append-only, severity-filtered, size-rotated JSONL
// writer. One Stream per storage root; multiple sessions may write to
// it concurrently.
type Stream struct {
	mu          sync.Mutex
	path        string
	minSeverity Severity
	file        *os.File
	callbacks   []Callback
	log         *zap.Logger
}

// Option configures a Stream at construction.
type Option func(*Stream)

// WithMinSeverity sets the minimum severity that gets written. Defaults
// to SeverityInfo (debug events are dropped unless explicitly opted
// into).
func WithMinSeverity(s Severity) Option {
	return func(st *Stream) { st.minSeverity = s }
}

// WithLogger attaches a structured logger for the stream's own
// diagnostics (rotation failures, callback panics).
func WithLogger(log *zap.Logger) Option {
	return func(st *Stream) {
		if log != nil {
			st.log = log
		}
	}
}

// Open opens (or creates) the event stream file at path.
func Open(path string, opts ...Option) (*Stream, error) {
	st := &Stream{
		path:        path,
		minSeverity: SeverityInfo,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(st)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event stream %s: %w", path, err)
	}
	st.file = f
	return st, nil
}

// Close releases the underlying file handle.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// OnEvent registers an in-process callback fired for every event that
// passes the severity filter, after the write to disk. Registration
// takes the stream's mutex, so it is safe alongside concurrent Emit; an
// Emit already in progress notifies only the callbacks registered
// before it took its snapshot.
func (s *Stream) OnEvent(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Emit writes ev if its severity passes the filter, rotating the file
// first if it's grown past maxFileSize. A zero Timestamp is filled in
// with now; a zero ID gets a fresh UUID. Rotation and write failures are
// logged, never returned — the event stream is best-effort and must
// never block or fail a tool call.
func (s *Stream) Emit(ev Event) {
	if severityRank[ev.Severity] < severityRank[s.minSeverity] {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.rotateIfNeeded()
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("event marshal failed", zap.Error(err))
		s.mu.Unlock()
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		s.log.Warn("event stream write failed", zap.Error(err))
	}
	callbacks := append([]Callback(nil), s.callbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		s.dispatch(cb, ev)
	}
}

// dispatch calls cb, recovering from any panic so one broken callback
// can never propagate into Emit's caller.
func (s *Stream) dispatch(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("event stream callback panicked", zap.Any("recover", r))
		}
	}()
	cb(ev)
}

// rotateIfNeeded renames the current file to "<path>.1" and opens a
// fresh file, if the current file is at or past maxFileSize. Best
// effort: any failure here is logged and the stream keeps writing to
// whatever file handle it already has — losing a rotation is preferable
// to blocking.
func (s *Stream) rotateIfNeeded() {
	info, err := s.file.Stat()
	if err != nil || info.Size() < maxFileSize {
		return
	}

	backupPath := s.path + ".1"
	if err := s.file.Close(); err != nil {
		s.log.Warn("event stream rotation: closing current file failed", zap.Error(err))
		return
	}

	os.Remove(backupPath)
	if err := os.Rename(s.path, backupPath); err != nil {
		s.log.Warn("event stream rotation: rename failed", zap.Error(err))
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.log.Error("event stream rotation: reopening file failed", zap.Error(err))
		return
	}
	s.file = f
}
