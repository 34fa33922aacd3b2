package matcher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Pattern matches a target string against a compiled rule pattern.
// *regexp.Regexp already satisfies this (it has MatchString), so a
// caller holding a mix of literal-regex and glob-mode patterns can treat
// them uniformly as a slice of Pattern.
type Pattern interface {
	MatchString(s string) bool
}

type globPattern struct{ g glob.Glob }

func (p globPattern) MatchString(s string) bool { return p.g.Match(s) }

// CompileGlob compiles pattern into a Pattern using '/' as the path
// separator: "*" stays within one path segment, "**" crosses segment
// boundaries. This is the semantics policy.Match.TargetPatterns and the
// preset credential-path globs rely on.
func CompileGlob(pattern string) (Pattern, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
	}
	return globPattern{g: g}, nil
}
