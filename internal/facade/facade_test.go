package facade

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opengovern/sentinel/internal/audit"
	"github.com/opengovern/sentinel/internal/eventstream"
	"github.com/opengovern/sentinel/internal/policy"
	"github.com/opengovern/sentinel/internal/ratelimit"
	"github.com/opengovern/sentinel/internal/suspend"
)

func newTestFacade(t *testing.T, preset string) (*Facade, *eventstream.Stream) {
	t.Helper()
	dir := t.TempDir()

	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte("preset: "+preset+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.NewInMemory()
	store, err := policy.NewStore(policyPath, limiter, nil, nil)
	if err != nil {
		t.Fatalf("policy.NewStore: %v", err)
	}

	streamPath := filepath.Join(dir, "events.jsonl")
	stream, err := eventstream.Open(streamPath, eventstream.WithMinSeverity(eventstream.SeverityDebug))
	if err != nil {
		t.Fatalf("eventstream.Open: %v", err)
	}
	t.Cleanup(func() { stream.Close() })

	susp, err := suspend.Open(filepath.Join(dir, "suspended.yaml"), nil)
	if err != nil {
		t.Fatalf("suspend.Open: %v", err)
	}

	f, err := New(Config{
		Root: dir, Policy: store, Limiter: limiter, Stream: stream, Suspended: susp,
		WatchDisabled: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, stream
}

func collectEvents(t *testing.T, stream *eventstream.Stream) *[]eventstream.Event {
	t.Helper()
	events := &[]eventstream.Event{}
	stream.OnEvent(func(ev eventstream.Event) {
		*events = append(*events, ev)
	})
	return events
}

// Scenario 1: a destructive Bash command is blocked under the safety preset.
func TestFacade_DestructiveCommandBlockedUnderSafety(t *testing.T) {
	f, _ := newTestFacade(t, "safety")

	verdict, err := f.PreCall("sess-1", "agent-1", "Bash", map[string]any{"command": "rm -rf /important"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionDeny || !verdict.Enforced {
		t.Fatalf("verdict = %+v, want enforced deny", verdict)
	}
	if verdict.RuleID != "deny-destructive-commands" {
		t.Errorf("RuleID = %q, want deny-destructive-commands", verdict.RuleID)
	}

	if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusBlocked}); err != nil {
		t.Fatal(err)
	}

	recs, err := f.LastN("sess-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Result.Status != audit.StatusBlocked {
		t.Fatalf("records = %+v, want exactly one blocked record", recs)
	}
}

// Scenario 2: reading a credential file escalates category and triggers an
// audit alert plus the deny-secret-files rule under safety.
func TestFacade_CredentialReadEscalatesAndDenies(t *testing.T) {
	f, stream := newTestFacade(t, "safety")
	events := collectEvents(t, stream)

	verdict, err := f.PreCall("sess-1", "agent-1", "Read", map[string]any{"file_path": "/home/user/project/.env"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionDeny {
		t.Fatalf("verdict = %+v, want deny", verdict)
	}
	if verdict.RuleID != "deny-secret-files" {
		t.Errorf("RuleID = %q, want deny-secret-files", verdict.RuleID)
	}

	var sawAlert bool
	for _, ev := range *events {
		if ev.Type == eventstream.EventAuditAlert && ev.Category == "credential_access" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Error("expected an audit_alert event for the escalated credential_access category")
	}
}

// Scenario 3: a denied call under enforce=false surfaces allow at the gate,
// while the event stream still carries the true deny decision and matched
// rule id, and the audit record keeps the outcome the host reported.
func TestFacade_DryRunSurfacesAllowButRecordsDeny(t *testing.T) {
	f, stream := newTestFacade(t, "audit-only")
	events := collectEvents(t, stream)

	verdict, err := f.PreCall("sess-1", "agent-1", "Bash", map[string]any{"command": "rm -rf /important"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionAllow {
		t.Fatalf("gate decision = %q, want allow under a dry-run preset", verdict.Decision)
	}
	if verdict.Enforced {
		t.Error("Enforced = true, want false under audit-only")
	}

	var sawDenyDecisionEvent bool
	for _, ev := range *events {
		if ev.Type == eventstream.EventPolicyDecision && ev.Decision == "deny" && ev.RuleID == "deny-destructive-commands" {
			sawDenyDecisionEvent = true
		}
	}
	if !sawDenyDecisionEvent {
		t.Error("expected a policy_decision event carrying the true deny decision and ruleId")
	}

	if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err != nil {
		t.Fatal(err)
	}
	recs, err := f.LastN("sess-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one audit record, got %d", len(recs))
	}
	// Not enforced, so the call was never actually blocked: the outcome
	// status passed to PostCall is preserved rather than overridden to
	// "blocked".
	if recs[0].Result.Status != audit.StatusSuccess {
		t.Errorf("Result.Status = %q, want success (the dry-run deny must not change the recorded outcome)", recs[0].Result.Status)
	}
}

// Scenario 4: a 10-call session verifies clean end to end.
func TestFacade_VerifyTenCallsCleanChain(t *testing.T) {
	f, _ := newTestFacade(t, "permissive")

	for i := 0; i < 10; i++ {
		if _, err := f.PreCall("sess-1", "agent-1", "Read", map[string]any{"file_path": "/tmp/file.txt"}); err != nil {
			t.Fatal(err)
		}
		if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := f.Verify("sess-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("Valid = false, errors = %v", result.Errors)
	}
	if result.RecordCount != 10 {
		t.Errorf("RecordCount = %d, want 10", result.RecordCount)
	}
	if result.SignatureStats.Signed != 10 {
		t.Errorf("SignatureStats.Signed = %d, want 10", result.SignatureStats.Signed)
	}
}

// Scenario 5: tampering with a record's target is detected by Verify.
func TestFacade_TamperDetection(t *testing.T) {
	f, _ := newTestFacade(t, "permissive")

	for i := 0; i < 5; i++ {
		if _, err := f.PreCall("sess-1", "agent-1", "Read", map[string]any{"file_path": "/tmp/file.txt"}); err != nil {
			t.Fatal(err)
		}
		if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err != nil {
			t.Fatal(err)
		}
	}

	logPath := filepath.Join(f.root, "audit", "sess-1.jsonl")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := make([]byte, len(data))
	copy(tampered, data)
	for i, b := range tampered {
		if b == '/' {
			tampered[i] = '!'
			break
		}
	}
	if err := os.WriteFile(logPath, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	// Force a fresh chain read rather than reusing the in-process entry,
	// which would still hold the untampered prevHash in memory.
	f2, _ := newTestFacade(t, "permissive")
	f2.root = f.root

	result, err := f2.Verify("sess-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("Valid = true, want false after tampering with the first record")
	}
}

// Scenario 6: a sliding-window rate limit admits the first N calls and
// denies the next, then admits again once the window elapses.
func TestFacade_RateLimitBoundary(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	cfgYAML := `
defaultPolicy: allow
enforce: true
rules:
  - id: throttle-bash
    name: throttle bash
    priority: 1
    decision: deny
    match:
      tools: ["Bash"]
      rateLimit:
        maxCount: 3
        windowMs: 50
`
	if err := os.WriteFile(policyPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.NewInMemory()
	store, err := policy.NewStore(policyPath, limiter, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := eventstream.Open(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	susp, err := suspend.Open(filepath.Join(dir, "suspended.yaml"), nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := New(Config{Root: dir, Policy: store, Limiter: limiter, Stream: stream, Suspended: susp, WatchDisabled: true})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	events := collectEvents(t, stream)

	for i := 0; i < 3; i++ {
		verdict, err := f.PreCall("sess-1", "agent-1", "Bash", map[string]any{"command": "ls"})
		if err != nil {
			t.Fatal(err)
		}
		if verdict.Decision != policy.DecisionAllow {
			t.Fatalf("call %d: decision = %q, want allow within budget", i, verdict.Decision)
		}
		if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err != nil {
			t.Fatal(err)
		}
	}

	verdict, err := f.PreCall("sess-1", "agent-1", "Bash", map[string]any{"command": "ls"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionDeny {
		t.Fatalf("4th call: decision = %q, want deny once the window is exceeded", verdict.Decision)
	}
	var sawRateEvent bool
	for _, ev := range *events {
		if ev.Type == eventstream.EventRateLimitExceeded && ev.RuleID == "throttle-bash" {
			sawRateEvent = true
		}
	}
	if !sawRateEvent {
		t.Error("expected a rate_limit_exceeded event once the throttle rule fired")
	}
	if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusBlocked}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(70 * time.Millisecond)

	verdict, err = f.PreCall("sess-1", "agent-1", "Bash", map[string]any{"command": "ls"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionAllow {
		t.Fatalf("5th call after window elapsed: decision = %q, want allow", verdict.Decision)
	}
}

// PostCall without a preceding PreCall is a protocol violation.
func TestFacade_PostCallWithoutPreCallErrors(t *testing.T) {
	f, _ := newTestFacade(t, "permissive")

	if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err == nil {
		t.Error("expected an error calling PostCall with no pending PreCall")
	}
}

// A suspended session is denied regardless of what policy would otherwise
// decide.
func TestFacade_SuspendedSessionAlwaysDenied(t *testing.T) {
	f, _ := newTestFacade(t, "permissive")

	if err := f.suspended.Suspend("sess-1", "manual hold", "operator"); err != nil {
		t.Fatal(err)
	}

	verdict, err := f.PreCall("sess-1", "agent-1", "Read", map[string]any{"file_path": "/tmp/ok.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionDeny || !verdict.Enforced {
		t.Fatalf("verdict = %+v, want enforced deny for a suspended session", verdict)
	}
	if verdict.RuleID != "session-suspended" {
		t.Errorf("RuleID = %q, want session-suspended", verdict.RuleID)
	}
}

// Ending a session emits session_end and releases the in-process entry;
// a later call reopens the session and continues the same chain.
func TestFacade_EndSessionEmitsLifecycleEvent(t *testing.T) {
	f, stream := newTestFacade(t, "permissive")
	events := collectEvents(t, stream)

	if _, err := f.PreCall("sess-1", "agent-1", "Read", map[string]any{"file_path": "/tmp/a.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err != nil {
		t.Fatal(err)
	}
	if err := f.EndSession("sess-1"); err != nil {
		t.Fatal(err)
	}

	var sawEnd bool
	for _, ev := range *events {
		if ev.Type == eventstream.EventSessionEnd && ev.SessionID == "sess-1" {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Error("expected a session_end event after EndSession")
	}

	if _, err := f.PreCall("sess-1", "agent-1", "Read", map[string]any{"file_path": "/tmp/b.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := f.PostCall("sess-1", "agent-1", Outcome{Status: audit.StatusSuccess}); err != nil {
		t.Fatal(err)
	}
	recs, err := f.LastN("sess-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected the reopened session to continue the same chain, got %d records", len(recs))
	}
	if recs[1].Provenance.ActionIndex != 1 {
		t.Errorf("actionIndex after reopen = %d, want 1", recs[1].Provenance.ActionIndex)
	}
}

// An explicit enforce:false layered over the safety preset yields a dry
// run at the gate, same as the audit-only preset.
func TestFacade_EnforceFalseOverridesSafetyPreset(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte("preset: safety\nenforce: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.NewInMemory()
	store, err := policy.NewStore(policyPath, limiter, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := eventstream.Open(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	susp, err := suspend.Open(filepath.Join(dir, "suspended.yaml"), nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := New(Config{Root: dir, Policy: store, Limiter: limiter, Stream: stream, Suspended: susp, WatchDisabled: true})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	verdict, err := f.PreCall("sess-1", "agent-1", "Bash", map[string]any{"command": "rm -rf /important"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Decision != policy.DecisionAllow || verdict.Enforced {
		t.Fatalf("verdict = %+v, want unenforced allow under safety with enforce:false", verdict)
	}
}
