package policy

import (
	"testing"

	"github.com/opengovern/sentinel/internal/classify"
	"github.com/opengovern/sentinel/internal/ratelimit"
)

func TestPreset_KnownNames(t *testing.T) {
	for _, name := range []string{"permissive", "safety", "strict", "audit-only"} {
		if _, ok := Preset(name); !ok {
			t.Errorf("Preset(%q) returned ok=false, want a known preset", name)
		}
	}
}

func TestPreset_UnknownNameNotOK(t *testing.T) {
	if _, ok := Preset("nonexistent"); ok {
		t.Error("Preset(\"nonexistent\") returned ok=true, want false")
	}
}

func TestPreset_PermissiveAllowsEverythingUnenforced(t *testing.T) {
	cfg, _ := Preset("permissive")
	if cfg.DefaultPolicy != DecisionAllow {
		t.Errorf("DefaultPolicy = %q, want allow", cfg.DefaultPolicy)
	}
	if cfg.Enforced() {
		t.Error("permissive preset should not enforce")
	}
	if len(cfg.Rules) != 0 {
		t.Errorf("permissive preset should carry no rules, got %d", len(cfg.Rules))
	}
}

func TestPreset_SafetyBlocksDestructiveBash(t *testing.T) {
	cfg, _ := Preset("safety")
	e, err := New(cfg, ratelimit.NewInMemory(), nil)
	if err != nil {
		t.Fatal(err)
	}

	eval, err := e.Evaluate(EvalInput{Tool: "Bash", Category: classify.CategoryCommand, Target: "rm -rf /important"})
	if err != nil {
		t.Fatal(err)
	}
	if eval.Decision != DecisionDeny || !eval.Enforced {
		t.Errorf("eval = %+v, want enforced deny", eval)
	}
	if eval.MatchedRule == nil || eval.MatchedRule.ID != "deny-destructive-commands" {
		t.Errorf("matched rule = %+v, want deny-destructive-commands", eval.MatchedRule)
	}
}

func TestPreset_SafetyDeniesCredentialAccess(t *testing.T) {
	cfg, _ := Preset("safety")
	e, err := New(cfg, ratelimit.NewInMemory(), nil)
	if err != nil {
		t.Fatal(err)
	}

	eval, err := e.Evaluate(EvalInput{Tool: "Read", Category: classify.CategoryCredentialAccess, Target: "/home/user/.env"})
	if err != nil {
		t.Fatal(err)
	}
	if eval.Decision != DecisionDeny {
		t.Errorf("Decision = %q, want deny", eval.Decision)
	}
	if eval.MatchedRule == nil || eval.MatchedRule.ID != "deny-secret-files" {
		t.Errorf("matched rule = %+v, want deny-secret-files", eval.MatchedRule)
	}
}

func TestPreset_StrictDeniesByDefault(t *testing.T) {
	cfg, _ := Preset("strict")
	e, err := New(cfg, ratelimit.NewInMemory(), nil)
	if err != nil {
		t.Fatal(err)
	}

	eval, err := e.Evaluate(EvalInput{Tool: "Bash", Category: classify.CategoryCommand})
	if err != nil {
		t.Fatal(err)
	}
	if eval.Decision != DecisionDeny {
		t.Errorf("Decision = %q, want deny for an unlisted tool under strict", eval.Decision)
	}

	eval, err = e.Evaluate(EvalInput{Tool: "Read", Category: classify.CategoryFileRead})
	if err != nil {
		t.Fatal(err)
	}
	if eval.Decision != DecisionAllow {
		t.Errorf("Decision = %q, want allow for Read under strict's allow-read-tools rule", eval.Decision)
	}
}

func TestPreset_AuditOnlyMatchesSafetyRulesButNeverEnforces(t *testing.T) {
	cfg, _ := Preset("audit-only")
	e, err := New(cfg, ratelimit.NewInMemory(), nil)
	if err != nil {
		t.Fatal(err)
	}

	eval, err := e.Evaluate(EvalInput{Tool: "Bash", Category: classify.CategoryCommand, Target: "rm -rf /important"})
	if err != nil {
		t.Fatal(err)
	}
	if eval.Decision != DecisionDeny {
		t.Errorf("Decision = %q, want the true matched decision deny", eval.Decision)
	}
	if eval.Enforced {
		t.Error("audit-only preset must never enforce a deny")
	}
}

func TestResolveConfig_AppendsCustomRulesAfterPreset(t *testing.T) {
	cfg := Config{
		Preset: "safety",
		Rules: []Rule{
			{ID: "custom-rule", Priority: 0, Decision: DecisionDeny, Match: Match{Tools: []string{"DangerousTool"}}},
		},
	}
	resolved, err := ResolveConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved.Rules) != 6 {
		t.Fatalf("expected 5 safety rules + 1 custom rule = 6, got %d", len(resolved.Rules))
	}
	if resolved.Rules[len(resolved.Rules)-1].ID != "custom-rule" {
		t.Errorf("custom rule was not appended last: %+v", resolved.Rules[len(resolved.Rules)-1])
	}
}

func TestResolveConfig_DefaultPolicyOverride(t *testing.T) {
	cfg := Config{Preset: "safety", DefaultPolicy: DecisionDeny}
	resolved, err := ResolveConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.DefaultPolicy != DecisionDeny {
		t.Errorf("DefaultPolicy = %q, want explicit override deny over safety's own allow default", resolved.DefaultPolicy)
	}
}

func TestResolveConfig_ExplicitEnforceOverridesPreset(t *testing.T) {
	resolved, err := ResolveConfig(Config{Preset: "safety", Enforce: Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Enforced() {
		t.Error("explicit enforce:false must override safety's own enforce:true, yielding a dry run")
	}

	resolved, err = ResolveConfig(Config{Preset: "safety"})
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Enforced() {
		t.Error("with enforce unset, safety's own enforce:true must apply")
	}
}

func TestResolveConfig_UnknownPreset(t *testing.T) {
	_, err := ResolveConfig(Config{Preset: "nonexistent"})
	if err == nil {
		t.Fatal("expected an error for an unknown preset")
	}
	if _, ok := err.(*ConfigInvalidError); !ok {
		t.Errorf("error type = %T, want *ConfigInvalidError", err)
	}
}
