package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opengovern/sentinel/internal/classify"
	"github.com/opengovern/sentinel/internal/matcher"
)

// compiledRule pairs a Rule with its pre-compiled target-pattern
// matchers, so Evaluate never compiles a regex or glob per call.
type compiledRule struct {
	rule     Rule
	patterns []matcher.Pattern
}

// compileRule validates and compiles a rule's target patterns. Regex-mode
// patterns are first run through matcher.ValidateRegexPattern so a
// ReDoS-shaped pattern never reaches evaluation; glob-mode patterns
// compile through matcher.CompileGlob, which treats '/' as a segment
// boundary.
func compileRule(r Rule) (compiledRule, error) {
	cr := compiledRule{rule: r}

	for _, p := range r.Match.TargetPatterns {
		if r.Match.TargetPatternsAreRegex {
			if err := matcher.ValidateRegexPattern(p); err != nil {
				return compiledRule{}, fmt.Errorf("rule %q: %w", r.ID, err)
			}
			re, err := regexp.Compile(p)
			if err != nil {
				return compiledRule{}, fmt.Errorf("rule %q: compiling target pattern %q: %w", r.ID, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		} else {
			g, err := matcher.CompileGlob(p)
			if err != nil {
				return compiledRule{}, fmt.Errorf("rule %q: compiling target glob %q: %w", r.ID, p, err)
			}
			cr.patterns = append(cr.patterns, g)
		}
	}

	return cr, nil
}

// matchesStatic checks the tool/category/target-pattern clauses of a
// rule against the call. Each clause that is present must match (AND);
// absent clauses never constrain the result. Within a clause, any
// matching value is sufficient (OR).
func matchesStatic(cr *compiledRule, in EvalInput) bool {
	m := cr.rule.Match

	if len(m.Tools) > 0 && !containsFold(m.Tools, in.Tool) {
		return false
	}

	if len(m.Categories) > 0 && !containsCategory(m.Categories, in.Category) {
		return false
	}

	if len(cr.patterns) > 0 {
		if !matchesAnyPattern(cr.patterns, in.Target) && !matchesAnyTargetList(cr.patterns, in.Targets) {
			return false
		}
	}

	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func containsCategory(list []classify.Category, c classify.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func matchesAnyPattern(patterns []matcher.Pattern, target string) bool {
	if target == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(target) {
			return true
		}
	}
	return false
}

func matchesAnyTargetList(patterns []matcher.Pattern, targets []string) bool {
	for _, t := range targets {
		if matchesAnyPattern(patterns, t) {
			return true
		}
	}
	return false
}

// matchesTimeWindow checks the optional time-window clause. A rule with
// no TimeWindow always passes this check.
func matchesTimeWindow(tw *TimeWindowMatch, now time.Time) bool {
	if tw == nil {
		return true
	}

	loc := time.Local
	if tw.Timezone != "" {
		l, err := time.LoadLocation(tw.Timezone)
		if err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if tw.AllowedHours != [2]int{} {
		if !hourInWindow(local.Hour(), tw.AllowedHours[0], tw.AllowedHours[1]) {
			return false
		}
	}

	if len(tw.AllowedDays) > 0 {
		day := int(local.Weekday())
		found := false
		for _, d := range tw.AllowedDays {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// hourInWindow reports whether hour falls in [start, end) with end
// exclusive, wrapping past midnight when start > end.
func hourInWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	// Wraps midnight, e.g. [22, 6): allowed is hour>=22 or hour<6.
	return hour >= start || hour < end
}
