package classify

import (
	"regexp"
	"sort"
	"strings"
)

// primaryKeys lists the well-known parameter keys checked for the primary
// target, in priority order. The first key present in params wins.
var primaryKeys = []string{"file_path", "path", "pattern", "command", "url"}

// maxPrimaryLen truncates long values (mainly shell commands) so a single
// tool call can't blow up the audit record or event stream line.
const maxPrimaryLen = 80

// directPathKeys are parameter keys inspected directly for secondary
// target candidates, beyond whichever one became the primary target.
var directPathKeys = []string{"file_path", "path", "pattern", "url", "glob"}

var (
	absPathRE = regexp.MustCompile(`(^|\s)(/[^\s;|&<>'"]+)`)
	// Anchored to a word start so "/notes.txt" inside "~/notes.txt"
	// isn't extracted a second time without its home prefix.
	relPathRE  = regexp.MustCompile(`(^|\s)(\.{0,2}/[^\s;|&<>'"]+\.[A-Za-z0-9]+)`)
	homePathRE = regexp.MustCompile(`(~/[^\s;|&<>'"]+)`)
	quotedRE   = regexp.MustCompile("[\"'`]([/~][^\"'`]+)[\"'`]")
)

var excludedAbsPrefixes = []string{"/dev/", "/proc/", "/sys/"}

// GetString returns the string value of params[key], or "" if absent or
// not a string. Tool parameter bags are untyped; callers never assume a
// schema.
func GetString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// Targets holds the primary and (optional) secondary targets extracted
// from a tool call's parameters.
type Targets struct {
	Primary   string
	Secondary []string
}

// ExtractTargets computes the primary and secondary targets for a tool
// call. toolName drives which params get the extra command/prompt parsing
// (Bash.command, Task.prompt); every other tool only contributes its
// direct path-like parameters.
func ExtractTargets(toolName string, params map[string]any) Targets {
	primary := extractPrimary(params)

	secondary := map[string]struct{}{}
	for _, key := range directPathKeys {
		if v := GetString(params, key); v != "" {
			secondary[v] = struct{}{}
		}
	}

	if toolName == "Bash" {
		for _, p := range extractPathsFromText(GetString(params, "command"), false) {
			secondary[p] = struct{}{}
		}
	}
	if toolName == "Task" {
		for _, p := range extractPathsFromText(GetString(params, "prompt"), true) {
			secondary[p] = struct{}{}
		}
	}

	list := make([]string, 0, len(secondary))
	for p := range secondary {
		list = append(list, p)
	}
	// Stable order: the secondary list feeds hashed, signed audit
	// records, so map iteration order must not leak into them.
	sort.Strings(list)

	// Only report secondary targets if they add information beyond the
	// primary target alone.
	if len(list) == 0 {
		return Targets{Primary: primary}
	}
	if len(list) == 1 && list[0] == primary {
		return Targets{Primary: primary}
	}
	return Targets{Primary: primary, Secondary: list}
}

func extractPrimary(params map[string]any) string {
	for _, key := range primaryKeys {
		v := GetString(params, key)
		if v == "" {
			continue
		}
		if key == "command" && len(v) > maxPrimaryLen {
			return v[:maxPrimaryLen] + "…"
		}
		return v
	}
	return ""
}

func extractPathsFromText(text string, quoted bool) []string {
	if text == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string

	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, m := range absPathRE.FindAllStringSubmatch(text, -1) {
		p := m[2]
		if hasExcludedPrefix(p) {
			continue
		}
		add(p)
	}
	for _, m := range relPathRE.FindAllStringSubmatch(text, -1) {
		add(m[2])
	}
	for _, m := range homePathRE.FindAllString(text, -1) {
		add(m)
	}
	if quoted {
		for _, m := range quotedRE.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	return out
}

func hasExcludedPrefix(p string) bool {
	for _, prefix := range excludedAbsPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
