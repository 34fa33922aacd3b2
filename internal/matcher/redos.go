package matcher

import (
	"fmt"
	"regexp"
)

// MaxPatternLength is the hard ceiling on a raw regex pattern's length.
// Patterns beyond this are rejected outright, independent of shape.
const MaxPatternLength = 500

// nestedQuantifier catches a quantified group that itself contains an
// unbounded quantifier — "(...*)+", "(...+)+", "(...+)*", "(...+){m,n}" —
// the classic catastrophic-backtracking shape.
var nestedQuantifier = regexp.MustCompile(`\([^()]*[+*][^()]*\)[+*]|\([^()]*\+[^()]*\)\{\d*,?\d*\}`)

// overlappingAlternationWildcard catches "(.*|...)+" / "(.+|...)+" —
// a quantified alternation where one branch is itself unbounded.
var overlappingAlternationWildcard = regexp.MustCompile(`\([^()]*\.[+*][^()]*\|[^()]*\)[+*]|\([^()]*\|[^()]*\.[+*][^()]*\)[+*]`)

// chainedQuantifier catches "{m,n}{...}" — two bounded-repeat groups back
// to back, which multiplies rather than bounds worst-case backtracking.
var chainedQuantifier = regexp.MustCompile(`\{\d*,?\d*\}\{\d*,?\d*\}`)

// ValidateRegexPattern rejects regex-mode target patterns shaped to cause
// catastrophic backtracking, oversized patterns, and anything that simply
// fails to compile. It is called once at policy-bundle load time so a
// hostile or careless rule never reaches per-call evaluation.
func ValidateRegexPattern(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("pattern exceeds %d characters (got %d)", MaxPatternLength, len(pattern))
	}
	if nestedQuantifier.MatchString(pattern) {
		return fmt.Errorf("pattern %q has a nested quantifier shaped for catastrophic backtracking", pattern)
	}
	if overlappingAlternationWildcard.MatchString(pattern) {
		return fmt.Errorf("pattern %q has an overlapping wildcard alternation shaped for catastrophic backtracking", pattern)
	}
	if chainedQuantifier.MatchString(pattern) {
		return fmt.Errorf("pattern %q chains two quantifiers back to back", pattern)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("pattern %q does not compile: %w", pattern, err)
	}
	return nil
}
