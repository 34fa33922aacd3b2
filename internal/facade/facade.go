// Package facade wires together every governance component behind the
// two entry points an agent host actually calls: PreCall before a tool
// runs, PostCall after it finishes (or was blocked). It also exposes the
// small query surface (Verify, Filter, LastN) operator tooling needs.
package facade

import (
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/audit"
	"github.com/opengovern/sentinel/internal/classify"
	"github.com/opengovern/sentinel/internal/eventstream"
	"github.com/opengovern/sentinel/internal/policy"
	"github.com/opengovern/sentinel/internal/r6"
	"github.com/opengovern/sentinel/internal/ratelimit"
	"github.com/opengovern/sentinel/internal/session"
	"github.com/opengovern/sentinel/internal/suspend"
)

// Verdict is what PreCall returns to the agent host.
type Verdict struct {
	Decision policy.Decision
	Enforced bool
	Reason   string
	RuleID   string
}

// Outcome describes what actually happened after a tool call ran (or
// was skipped because PreCall denied it), for PostCall to fold into the
// audit record.
type Outcome struct {
	Status       audit.ResultStatus
	OutputHash   string
	ErrorMessage string
	DurationMs   int64
}

// pending holds everything stashed between a session's PreCall and its
// matching PostCall. The host drives each session strictly sequentially
// (pre, post, pre, ...), so one slot per session entry is sufficient.
type pending struct {
	tool   string
	params map[string]any
	eval   policy.Evaluation
	cls    classify.Result
}

type sessionEntry struct {
	mu      sync.Mutex
	store   *session.Store
	chain   *audit.Chain
	pending *pending
}

// Facade is the governance core's public surface: one Facade per
// storage root, shared across every session it serves.
type Facade struct {
	root      string
	policy    *policy.Store
	limiter   *ratelimit.Limiter
	stream    *eventstream.Stream
	suspended *suspend.List
	watcher   *policy.Watcher
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// Config bundles the already-constructed shared components a Facade
// needs. Callers build these once (policy store, rate limiter, event
// stream, suspension list) and hand them to New.
//
// PolicyFileName and SuspendFileName name the files, relative to Root,
// that a background watcher reloads the policy store and suspension
// list from whenever another process (the CLI, an operator editing the
// bundle by hand) changes them on disk. Both default if left empty;
// pass WatchDisabled to skip starting a watcher entirely (tests that
// don't care about hot reload, or hosts managing their own reload).
type Config struct {
	Root            string
	Policy          *policy.Store
	Limiter         *ratelimit.Limiter
	Stream          *eventstream.Stream
	Suspended       *suspend.List
	PolicyFileName  string
	SuspendFileName string
	WatchDisabled   bool
	Log             *zap.Logger
}

// New constructs a Facade from already-open shared components.
func New(cfg Config) (*Facade, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("facade: Root is required")
	}
	if cfg.Policy == nil || cfg.Limiter == nil || cfg.Stream == nil || cfg.Suspended == nil {
		return nil, fmt.Errorf("facade: Policy, Limiter, Stream, and Suspended are all required")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	f := &Facade{
		root:      cfg.Root,
		policy:    cfg.Policy,
		limiter:   cfg.Limiter,
		stream:    cfg.Stream,
		suspended: cfg.Suspended,
		log:       log,
		sessions:  make(map[string]*sessionEntry),
	}

	if !cfg.WatchDisabled {
		policyFileName := cfg.PolicyFileName
		if policyFileName == "" {
			policyFileName = "policy.yaml"
		}
		suspendFileName := cfg.SuspendFileName
		if suspendFileName == "" {
			suspendFileName = "suspended.yaml"
		}
		w, err := policy.NewWatcher(cfg.Root, policy.WatchTargets{
			PolicyFileName: policyFileName,
			OnPolicyChange: func() {
				if err := f.policy.Reload(); err != nil {
					f.log.Error("policy reload failed", zap.Error(err))
				}
			},
			SuspendFileName: suspendFileName,
			OnSuspendChange: func() {
				if err := f.suspended.Reload(); err != nil {
					f.log.Error("suspension list reload failed", zap.Error(err))
				}
			},
		}, log)
		if err != nil {
			return nil, fmt.Errorf("starting storage root watcher: %w", err)
		}
		f.watcher = w
	}

	return f, nil
}

// Close stops the Facade's background file watcher, if one was started.
// Safe to call on a Facade built with WatchDisabled.
func (f *Facade) Close() error {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Close()
}

func (f *Facade) entry(sessionID string) (*sessionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.sessions[sessionID]; ok {
		return e, nil
	}

	store, err := session.Open(filepath.Join(f.root, "sessions"), sessionID, f.log)
	if err != nil {
		return nil, fmt.Errorf("opening session %s: %w", sessionID, err)
	}

	kp := store.SigningKeyPair()
	priv, err := kp.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("decoding session %s signing key: %w", sessionID, err)
	}

	chain, err := audit.Open(filepath.Join(f.root, "audit"), sessionID, audit.WithSigner(priv, kp.KeyID), audit.WithLogger(f.log))
	if err != nil {
		return nil, fmt.Errorf("opening audit chain for session %s: %w", sessionID, err)
	}

	isNew := store.NextActionIndex() == 0 && store.LastR6ID() == ""
	e := &sessionEntry{store: store, chain: chain}
	f.sessions[sessionID] = e

	if isNew {
		f.stream.Emit(eventstream.Event{Type: eventstream.EventSessionStart, Severity: eventstream.SeverityInfo, SessionID: sessionID})
	}
	return e, nil
}

// PreCall classifies the call, checks session suspension, evaluates
// policy, emits the corresponding events, and returns the verdict the
// host should act on. It stashes everything PostCall will need.
func (f *Facade) PreCall(sessionID, agentID, tool string, params map[string]any) (Verdict, error) {
	e, err := f.entry(sessionID)
	if err != nil {
		return Verdict{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cls := classify.Classify(tool, params)

	f.stream.Emit(eventstream.Event{
		Type: eventstream.EventToolCall, Severity: eventstream.SeverityDebug,
		SessionID: sessionID, AgentID: agentID, Tool: tool,
		Target: cls.Targets.Primary, Category: string(cls.Category),
	})

	if cls.Escalated || cls.MemoryAlert {
		sev := eventstream.SeverityWarn
		if cls.Escalated {
			sev = eventstream.SeverityAlert
		}
		f.stream.Emit(eventstream.Event{
			Type: eventstream.EventAuditAlert, Severity: sev,
			SessionID: sessionID, AgentID: agentID, Tool: tool,
			Target: cls.Targets.Primary, Category: string(cls.Category),
			Reason: alertReason(cls),
		})
	}

	if f.suspended.IsSuspended(sessionID) {
		reason, _ := f.suspended.Reason(sessionID)
		eval := policy.Evaluation{Decision: policy.DecisionDeny, Enforced: true, Reason: reason, Constraints: []string{"ruleId=session-suspended"}}
		e.pending = &pending{tool: tool, params: params, eval: eval, cls: cls}
		f.emitDecision(sessionID, agentID, tool, cls, eval, "session-suspended")
		return Verdict{Decision: policy.DecisionDeny, Enforced: true, Reason: reason, RuleID: "session-suspended"}, nil
	}

	engine := f.policy.Engine()
	eval, err := engine.Evaluate(policy.EvalInput{
		Tool: tool, Category: cls.Category, Target: cls.Targets.Primary,
		Targets: cls.Targets.Secondary, Params: params, Now: time.Now(),
	})
	if err != nil {
		f.stream.Emit(eventstream.Event{Type: eventstream.EventSystemError, Severity: eventstream.SeverityError, SessionID: sessionID, Error: err.Error(), ErrorType: "policy_evaluate"})
		return Verdict{}, fmt.Errorf("evaluating policy for session %s: %w", sessionID, err)
	}

	ruleID := ""
	if eval.MatchedRule != nil {
		ruleID = eval.MatchedRule.ID
	}
	e.pending = &pending{tool: tool, params: params, eval: eval, cls: cls}
	f.emitDecision(sessionID, agentID, tool, cls, eval, ruleID)

	if eval.RateKey != "" {
		f.stream.Emit(eventstream.Event{
			Type: eventstream.EventRateLimitExceeded, Severity: eventstream.SeverityWarn,
			SessionID: sessionID, AgentID: agentID, Tool: tool,
			Category: string(cls.Category), RuleID: ruleID,
			Reason:   "sliding-window rate limit exceeded",
			Metadata: map[string]any{"rateKey": eval.RateKey},
		})
	}

	if err := e.store.SetPolicyEntityID(engine.EntityID()); err != nil {
		f.log.Warn("failed to persist policy entity id", zap.String("sessionId", sessionID), zap.Error(err))
	}

	// A deny decision under enforce=false is a dry run: the event stream
	// carries the real decision and ruleId, and the R6 request built in
	// PostCall carries the ruleId in its constraints (the audit record
	// itself stores only the call's outcome), but the gate returns allow.
	gate := eval.Decision
	if gate == policy.DecisionDeny && !eval.Enforced {
		gate = policy.DecisionAllow
	}

	return Verdict{Decision: gate, Enforced: eval.Enforced, Reason: eval.Reason, RuleID: ruleID}, nil
}

func (f *Facade) emitDecision(sessionID, agentID, tool string, cls classify.Result, eval policy.Evaluation, ruleID string) {
	sev := eventstream.SeverityInfo
	switch eval.Decision {
	case policy.DecisionWarn:
		sev = eventstream.SeverityWarn
	case policy.DecisionDeny:
		sev = eventstream.SeverityAlert
	}
	f.stream.Emit(eventstream.Event{
		Type: eventstream.EventPolicyDecision, Severity: sev,
		SessionID: sessionID, AgentID: agentID, Tool: tool,
		Target: cls.Targets.Primary, Category: string(cls.Category),
		Decision: string(eval.Decision), Reason: eval.Reason, RuleID: ruleID,
	})
	if eval.Decision == policy.DecisionDeny && eval.Enforced {
		f.stream.Emit(eventstream.Event{
			Type: eventstream.EventPolicyViolation, Severity: eventstream.SeverityAlert,
			SessionID: sessionID, AgentID: agentID, Tool: tool,
			Target: cls.Targets.Primary, Category: string(cls.Category), RuleID: ruleID, Reason: eval.Reason,
		})
	}
}

// PostCall records exactly one audit record for the call PreCall most
// recently evaluated for sessionID, advances session state, and emits
// the closing event. Calling PostCall without a preceding PreCall for
// the same session is a protocol violation and returns an error rather
// than fabricating a record.
func (f *Facade) PostCall(sessionID, agentID string, outcome Outcome) error {
	e, err := f.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil {
		return fmt.Errorf("facade: PostCall called for session %s with no pending PreCall", sessionID)
	}
	p := e.pending
	e.pending = nil

	actionIndex := e.store.NextActionIndex()
	req, err := r6.New(r6.BuildParams{
		SessionID: sessionID, AgentID: agentID, ActionIndex: actionIndex,
		PreviousR6ID: e.store.LastR6ID(), ToolName: p.tool, Params: p.params,
		Category: p.cls.Category, Target: p.cls.Targets.Primary, Targets: p.cls.Targets.Secondary,
		PolicyEntityID: e.store.PolicyEntityID(), Constraints: p.eval.Constraints,
	})
	if err != nil {
		return fmt.Errorf("building r6 request for session %s: %w", sessionID, err)
	}

	result := audit.Result{Status: outcome.Status, OutputHash: outcome.OutputHash, ErrorMessage: outcome.ErrorMessage, DurationMs: outcome.DurationMs}
	if p.eval.Decision == policy.DecisionDeny && p.eval.Enforced {
		result = audit.Result{Status: audit.StatusBlocked}
	}

	rec, err := e.chain.Record(audit.RecordInput{
		R6RequestID: req.ID, ActionIndex: actionIndex, Tool: req.Request.ToolName,
		Category: string(req.Request.Category), Target: req.Request.Target, Targets: req.Request.Targets,
		Result: result,
	})
	if err != nil {
		f.stream.Emit(eventstream.Event{Type: eventstream.EventSystemError, Severity: eventstream.SeverityError, SessionID: sessionID, Error: err.Error(), ErrorType: "audit_record"})
		return fmt.Errorf("recording audit entry for session %s: %w", sessionID, err)
	}

	for _, key := range p.eval.RateKeysChecked {
		if err := f.limiter.Record(key); err != nil {
			f.log.Warn("rate limiter record failed", zap.String("sessionId", sessionID), zap.String("key", key), zap.Error(err))
		}
	}

	if err := e.store.Advance(req.ID, req.Request.ToolName, string(req.Request.Category)); err != nil {
		f.log.Warn("failed to advance session state", zap.String("sessionId", sessionID), zap.Error(err))
	}

	f.stream.Emit(eventstream.Event{
		Type: eventstream.EventToolResult, Severity: eventstream.SeverityDebug,
		SessionID: sessionID, AgentID: agentID, Tool: rec.Tool,
		Target: rec.Target, Category: rec.Category,
		DurationMs: rec.Result.DurationMs,
		Metadata:   map[string]any{"status": string(rec.Result.Status)},
	})

	evType := eventstream.EventAuditRecord
	sev := eventstream.SeverityInfo
	if rec.Result.Status == audit.StatusBlocked {
		evType = eventstream.EventAuditAlert
		sev = eventstream.SeverityAlert
	}
	f.stream.Emit(eventstream.Event{
		Type: evType, Severity: sev, SessionID: sessionID, AgentID: agentID,
		Tool: rec.Tool, Target: rec.Target, Category: rec.Category,
		DurationMs: rec.Result.DurationMs,
	})
	return nil
}

// EndSession releases a session's in-process resources and emits a
// session_end event. Sessions also end implicitly — a host that simply
// stops calling never has to invoke this — so it exists for hosts that
// do know when a session is over and want the lifecycle on the stream.
func (f *Facade) EndSession(sessionID string) error {
	f.mu.Lock()
	e, ok := f.sessions[sessionID]
	if ok {
		delete(f.sessions, sessionID)
	}
	f.mu.Unlock()

	if !ok {
		return nil
	}

	f.stream.Emit(eventstream.Event{
		Type: eventstream.EventSessionEnd, Severity: eventstream.SeverityInfo,
		SessionID: sessionID,
	})
	return e.chain.Close()
}

// Verify walks a session's audit chain end to end, checking hash
// linkage and, where a public key is supplied, every signature.
func (f *Facade) Verify(sessionID string, publicKeys map[string]ed25519.PublicKey) (audit.VerifyResult, error) {
	e, err := f.entry(sessionID)
	if err != nil {
		return audit.VerifyResult{}, err
	}
	lookup := func(keyID string) (ed25519.PublicKey, bool) {
		pub, ok := publicKeys[keyID]
		return pub, ok
	}
	return e.chain.Verify(lookup)
}

// Filter returns a session's audit records matching criteria.
func (f *Facade) Filter(sessionID string, criteria audit.FilterCriteria) ([]audit.Record, error) {
	e, err := f.entry(sessionID)
	if err != nil {
		return nil, err
	}
	return e.chain.Filter(criteria)
}

// LastN returns the N most recent audit records for a session.
func (f *Facade) LastN(sessionID string, n int) ([]audit.Record, error) {
	return f.Filter(sessionID, audit.FilterCriteria{Limit: n})
}

func alertReason(cls classify.Result) string {
	if cls.Escalated {
		return "target matches a credential-bearing path pattern"
	}
	return "target touches agent memory"
}
