package policy

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/ratelimit"
)

// Engine evaluates tool calls against a loaded Config. It is immutable
// once constructed — a config reload builds a new Engine and swaps it in
// (see Store in store.go), rather than mutating rules in place.
type Engine struct {
	config  Config
	rules   []compiledRule
	limiter *ratelimit.Limiter
	log     *zap.Logger

	entityID string
}

// New validates and compiles every rule in cfg — one invalid pattern
// fails the whole config, there is no partially-loaded engine — and
// returns an Engine ready to evaluate calls. limiter may be nil if no
// rule in cfg carries a rate-limit clause; Evaluate will fail loudly if
// a rate-limited rule is reached without one.
func New(cfg Config, limiter *ratelimit.Limiter, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	resolved, err := ResolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	if err := ValidateConfigSchema(resolved); err != nil {
		return nil, err
	}

	compiled := make([]compiledRule, 0, len(resolved.Rules))
	for _, r := range resolved.Rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, &ConfigInvalidError{Reason: err.Error()}
		}
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority < compiled[j].rule.Priority
	})

	entityID, err := EntityID(resolved)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:   resolved,
		rules:    compiled,
		limiter:  limiter,
		log:      log,
		entityID: entityID,
	}, nil
}

// EntityID returns the policy-entity identifier for this engine's
// loaded config: policy:<name>:<version>:<sha256-hex>.
func (e *Engine) EntityID() string {
	return e.entityID
}

// Config returns the resolved config this engine was built from (preset
// rules expanded, custom rules appended).
func (e *Engine) Config() Config {
	return e.config
}

// Evaluate walks the rules in ascending priority (ties broken by
// insertion order, preserved by sort.SliceStable above), checking each
// as static match -> time window -> rate limit; the first full match
// wins.
func (e *Engine) Evaluate(in EvalInput) (Evaluation, error) {
	var rateKeysChecked []string

	for i := range e.rules {
		cr := &e.rules[i]

		if !matchesStatic(cr, in) {
			continue
		}
		if !matchesTimeWindow(cr.rule.Match.TimeWindow, in.Now) {
			continue
		}

		rateKey := ""
		if rl := cr.rule.Match.RateLimit; rl != nil {
			key := RateKey(&cr.rule, in)
			if e.limiter == nil {
				return Evaluation{}, fmt.Errorf("rule %q has a rateLimit clause but no limiter is configured", cr.rule.ID)
			}
			res, err := e.limiter.Check(key, rl.MaxCount, rl.WindowMs)
			if err != nil {
				return Evaluation{}, fmt.Errorf("rule %q: checking rate limit: %w", cr.rule.ID, err)
			}
			// The rate-limit clause fires only once the threshold is
			// exceeded — it does not match while the call is still
			// within budget. A call the clause admits is listed for the
			// Facade to record post-call; the call that trips it is not.
			if res.Allowed {
				rateKeysChecked = append(rateKeysChecked, key)
				continue
			}
			rateKey = key
		}

		eval := e.buildEvaluation(&cr.rule, rateKey)
		eval.RateKeysChecked = rateKeysChecked
		return eval, nil
	}

	return Evaluation{
		Decision:        e.config.DefaultPolicy,
		MatchedRule:     nil,
		Enforced:        e.enforced(e.config.DefaultPolicy),
		Constraints:     nil,
		RateKeysChecked: rateKeysChecked,
	}, nil
}

func (e *Engine) buildEvaluation(r *Rule, rateKey string) Evaluation {
	constraints := []string{"ruleId=" + r.ID}
	if rateKey != "" {
		constraints = append(constraints, "rateKey="+rateKey)
	}
	if r.Match.TimeWindow != nil && r.Match.TimeWindow.AllowedHours != [2]int{} {
		constraints = append(constraints, fmt.Sprintf("window=[%02d,%02d]", r.Match.TimeWindow.AllowedHours[0], r.Match.TimeWindow.AllowedHours[1]))
	}

	rule := *r
	return Evaluation{
		Decision:    r.Decision,
		MatchedRule: &rule,
		Enforced:    e.enforced(r.Decision),
		Reason:      r.Reason,
		Constraints: constraints,
		RateKey:     rateKey,
	}
}

// enforced implements `enforced = config.enforce || decision != deny` —
// a deny decision under enforce=false is logged but the gate still
// returns allow, producing a dry run.
func (e *Engine) enforced(d Decision) bool {
	return e.config.Enforced() || d != DecisionDeny
}

// RateKey builds the canonical rate-limit key for a rule
// (ratelimit:<ruleId>:tool|category|global:…). A rule scoped to specific tools or
// categories gets a tool-/category-qualified key derived from the
// call's actual tool/category; a rule with no such scoping shares one
// global key across every call that reaches it.
func RateKey(r *Rule, in EvalInput) string {
	switch {
	case len(r.Match.Tools) > 0:
		return fmt.Sprintf("ratelimit:%s:tool:%s", r.ID, in.Tool)
	case len(r.Match.Categories) > 0:
		return fmt.Sprintf("ratelimit:%s:category:%s", r.ID, in.Category)
	default:
		return fmt.Sprintf("ratelimit:%s:global", r.ID)
	}
}
