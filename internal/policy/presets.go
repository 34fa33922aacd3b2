package policy

import "github.com/opengovern/sentinel/internal/classify"

// destructiveCommandPattern matches "rm " followed by any flags (the
// stricter of the two documented readings): bare "rm <path>" with no
// flags does NOT match here and is instead caught by
// bareRemovePattern/warn-file-delete. mkfs.* is always destructive
// regardless of flags.
const destructiveCommandPattern = `(^|[;&|]\s*)rm\s+-\S+|(^|[;&|]\s*)mkfs\.\S+`

// bareRemovePattern matches a plain "rm <path>" invocation with no
// leading dash flags — the softer warn-only case.
const bareRemovePattern = `(^|[;&|]\s*)rm\s+[^-\s][^\s]*`

// credentialTargetGlobs mirrors classify's credential patterns, expressed
// as globs for rules that match on targetPatterns rather than calling
// into the classifier directly.
var credentialTargetGlobs = []string{
	"**/.env", "**/.env.*",
	"**/credentials.*", "**/secret.*", "**/secrets.*",
	"**/.aws/credentials",
	"**/.ssh/id_*", "**/.ssh/known_hosts",
	"**/.netrc", "**/.pgpass", "**/.npmrc", "**/.pypirc",
	"**/token*.json", "**/auth*.json", "**/apikey*",
}

// memoryTargetGlobs mirrors the file-name forms of classify's memory-path
// patterns (MEMORY.md, memory.md, memory/*.md); the host-specific
// .moltbot/.clawdbot/.openclaw memory subtrees are not included.
var memoryTargetGlobs = []string{
	"**/MEMORY.md", "**/memory.md", "**/memory/*.md",
}

// Preset returns the rule set and default policy for a named preset
// bundle. Custom rules from the loaded Config are concatenated after
// whatever this returns.
func Preset(name string) (Config, bool) {
	switch name {
	case "permissive":
		return Config{DefaultPolicy: DecisionAllow, Enforce: Bool(false)}, true
	case "safety":
		return Config{DefaultPolicy: DecisionAllow, Enforce: Bool(true), Rules: safetyRules()}, true
	case "strict":
		return Config{DefaultPolicy: DecisionDeny, Enforce: Bool(true), Rules: strictRules()}, true
	case "audit-only":
		return Config{DefaultPolicy: DecisionAllow, Enforce: Bool(false), Rules: safetyRules()}, true
	default:
		return Config{}, false
	}
}

func safetyRules() []Rule {
	return []Rule{
		{
			ID:       "deny-destructive-commands",
			Name:     "Deny destructive shell commands",
			Priority: 1,
			Decision: DecisionDeny,
			Reason:   "command invokes rm with flags or mkfs, both irreversible",
			Match: Match{
				Tools:                  []string{"Bash"},
				TargetPatterns:         []string{destructiveCommandPattern},
				TargetPatternsAreRegex: true,
			},
		},
		{
			ID:       "warn-file-delete",
			Name:     "Warn on bare file removal",
			Priority: 2,
			Decision: DecisionWarn,
			Reason:   "command removes a file without flags",
			Match: Match{
				Tools:                  []string{"Bash"},
				TargetPatterns:         []string{bareRemovePattern},
				TargetPatternsAreRegex: true,
			},
		},
		{
			ID:       "deny-secret-files",
			Name:     "Deny access to credential-bearing files",
			Priority: 5,
			Decision: DecisionDeny,
			Reason:   "target looks like a credential file",
			Match: Match{
				Categories:     []classify.Category{classify.CategoryCredentialAccess},
				TargetPatterns: credentialTargetGlobs,
			},
		},
		{
			ID:       "warn-memory-write",
			Name:     "Warn on memory file writes",
			Priority: 10,
			Decision: DecisionWarn,
			Reason:   "target looks like agent memory storage",
			Match: Match{
				Categories:     []classify.Category{classify.CategoryFileWrite},
				TargetPatterns: memoryTargetGlobs,
			},
		},
		{
			ID:       "warn-network",
			Name:     "Warn on network access",
			Priority: 20,
			Decision: DecisionWarn,
			Reason:   "call reaches the network",
			Match: Match{
				Categories: []classify.Category{classify.CategoryNetwork},
			},
		},
	}
}

func strictRules() []Rule {
	return []Rule{
		{
			ID:       "allow-read-tools",
			Name:     "Allow read-only tools",
			Priority: 1,
			Decision: DecisionAllow,
			Reason:   "tool is read-only",
			Match: Match{
				Tools: []string{"Read", "Glob", "Grep", "TodoWrite"},
			},
		},
	}
}

// ResolveConfig expands cfg.Preset (if set) and appends cfg.Rules after
// the preset's own rules. A cfg with no Preset is returned unchanged
// (besides a defensive copy).
func ResolveConfig(cfg Config) (Config, error) {
	if cfg.Preset == "" {
		return cfg, nil
	}

	base, ok := Preset(cfg.Preset)
	if !ok {
		return Config{}, &ConfigInvalidError{Reason: "unknown preset " + cfg.Preset}
	}

	resolved := Config{
		DefaultPolicy: base.DefaultPolicy,
		Enforce:       base.Enforce,
		Preset:        cfg.Preset,
		Rules:         append(append([]Rule{}, base.Rules...), cfg.Rules...),
	}

	// Explicit settings in cfg override the preset's defaults, matching
	// how config.Load layers overrides onto defaults elsewhere. An
	// explicit enforce:false over the safety preset yields a dry run.
	if cfg.DefaultPolicy != "" {
		resolved.DefaultPolicy = cfg.DefaultPolicy
	}
	if cfg.Enforce != nil {
		resolved.Enforce = cfg.Enforce
	}
	return resolved, nil
}
