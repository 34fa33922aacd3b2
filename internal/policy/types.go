// Package policy implements the rule engine that decides, for each tool
// call, whether it is allowed, warned about, or denied — and whether
// that decision is actually enforced or only logged (dry-run).
package policy

import (
	"time"

	"github.com/opengovern/sentinel/internal/classify"
)

// Decision is the verdict a rule or the default policy assigns to a
// tool call.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionDeny  Decision = "deny"
)

// RateLimitMatch describes the rate-limit clause of a rule's match
// criteria: the clause matches only once the sliding window already
// holds maxCount entries for the derived rate key.
type RateLimitMatch struct {
	MaxCount int   `yaml:"maxCount" json:"maxCount"`
	WindowMs int64 `yaml:"windowMs" json:"windowMs"`
}

// TimeWindowMatch describes the time-window clause of a rule's match
// criteria.
type TimeWindowMatch struct {
	// AllowedHours is [start, end) in the rule's timezone; end is exclusive.
	// A window where start > end wraps past midnight.
	AllowedHours [2]int `yaml:"allowedHours,omitempty" json:"allowedHours,omitempty"`
	// AllowedDays uses 0=Sunday .. 6=Saturday.
	AllowedDays []int `yaml:"allowedDays,omitempty" json:"allowedDays,omitempty"`
	// Timezone is an IANA location name; empty means the system timezone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Match holds a rule's match criteria. Every field present in Match is
// AND-combined; an empty Match matches everything. Values within a list
// field (Tools, Categories, TargetPatterns) are OR-combined.
type Match struct {
	Tools                  []string            `yaml:"tools,omitempty" json:"tools,omitempty"`
	Categories             []classify.Category `yaml:"categories,omitempty" json:"categories,omitempty"`
	TargetPatterns         []string            `yaml:"targetPatterns,omitempty" json:"targetPatterns,omitempty"`
	TargetPatternsAreRegex bool                `yaml:"targetPatternsAreRegex,omitempty" json:"targetPatternsAreRegex,omitempty"`
	RateLimit              *RateLimitMatch     `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	TimeWindow             *TimeWindowMatch    `yaml:"timeWindow,omitempty" json:"timeWindow,omitempty"`
}

// Rule is a single, immutable policy rule loaded as part of a bundle.
type Rule struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Priority int      `yaml:"priority" json:"priority"`
	Decision Decision `yaml:"decision" json:"decision"`
	Reason   string   `yaml:"reason,omitempty" json:"reason,omitempty"`
	Match    Match    `yaml:"match" json:"match"`
}

// Config is the full policy bundle: a default decision for unmatched
// calls, whether deny decisions are actually enforced or only logged,
// and the ordered rule list (preset rules first, then any custom rules
// appended after).
//
// Enforce is a pointer so an explicit `enforce: false` in a bundle is
// distinguishable from the field being absent — a preset supplies its
// own enforcement default, and only an explicit setting overrides it.
type Config struct {
	DefaultPolicy Decision `yaml:"defaultPolicy" json:"defaultPolicy"`
	Enforce       *bool    `yaml:"enforce,omitempty" json:"enforce,omitempty"`
	Preset        string   `yaml:"preset,omitempty" json:"preset,omitempty"`
	Rules         []Rule   `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Bool returns a pointer to v, for building Config literals.
func Bool(v bool) *bool { return &v }

// Enforced reports whether deny decisions are enforced under this
// config. An unset Enforce means not enforced.
func (c Config) Enforced() bool {
	return c.Enforce != nil && *c.Enforce
}

// Evaluation is the outcome of PolicyEngine.Evaluate.
type Evaluation struct {
	Decision    Decision
	MatchedRule *Rule
	Enforced    bool
	Reason      string
	Constraints []string
	// RateKey is set when the matched rule itself carries a rate-limit
	// clause that has already been exceeded.
	RateKey string
	// RateKeysChecked lists every rate key whose clause admitted this
	// call (its window still held fewer than maxCount entries),
	// regardless of which rule ultimately matched — the Facade records
	// usage against each of these post-call. The key of a clause that
	// the call trips is not listed, so a call the limit turns away does
	// not count against that window.
	RateKeysChecked []string
}

// EvalInput bundles the call context passed to Evaluate.
type EvalInput struct {
	Tool     string
	Category classify.Category
	Target   string
	Targets  []string
	Params   map[string]any
	Now      time.Time
}
