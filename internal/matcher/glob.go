// Package matcher converts target-pattern strings (glob or regex) into
// compiled matchers, and rejects regex patterns shaped to cause
// catastrophic backtracking before they ever reach regexp.Compile.
//
// Glob syntax: '?' matches one non-'/' character, '*' matches a run of
// non-'/' characters, '**' matches a run of any characters including '/'
// (and optionally absorbs one trailing '/'). Everything else is a literal;
// regex metacharacters are escaped before being spliced into the anchored
// regex.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// GlobToRegex compiles a glob pattern into an anchored regular expression.
// The result matches a full string, never a substring — globToRegex("*.go")
// does not match "main.go.bak".
func GlobToRegex(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					// "**/" absorbs zero or more whole path segments.
					b.WriteString("(?:.*/)?")
					i++
				} else {
					// Bare "**" absorbs any run, including '/'.
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '^', '$', '{', '}', '(', ')', '|', '[', ']', '\\':
			b.WriteString("\\")
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
	}
	return re, nil
}

// MatchGlob reports whether s matches the glob pattern p as a full string.
func MatchGlob(pattern, s string) (bool, error) {
	re, err := GlobToRegex(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}
