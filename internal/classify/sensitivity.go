package classify

import "regexp"

// credentialPatterns recognizes credential-bearing paths. Matching is
// case-insensitive and against the full target string (not just the
// basename), so "/home/u/.env" and "C:\\proj\\.env.local" both hit.
var credentialPatterns = compileAll([]string{
	`(?i)(^|[/\\])\.env(\.\S*)?$`,
	`(?i)(^|[/\\])(credentials|secrets?)\.[^/\\]+$`,
	`(?i)(^|[/\\])\.aws[/\\]credentials$`,
	`(?i)(^|[/\\])\.ssh[/\\]id_[^/\\]+$`,
	`(?i)(^|[/\\])\.ssh[/\\]known_hosts$`,
	`(?i)(^|[/\\])\.netrc$`,
	`(?i)(^|[/\\])\.pgpass$`,
	`(?i)(^|[/\\])\.npmrc$`,
	`(?i)(^|[/\\])\.pypirc$`,
	`(?i)(^|[/\\])(token|auth)[^/\\]*\.json$`,
	`(?i)(^|[/\\])apikey[^/\\]*$`,
})

// memoryPatterns recognize agent-memory paths. These never escalate the
// category — they only drive a sensitivity alert event.
var memoryPatterns = compileAll([]string{
	`(?i)(^|[/\\])MEMORY\.md$`,
	`(?i)(^|[/\\])memory\.md$`,
	`(?i)(^|[/\\])memory[/\\][^/\\]*\.md$`,
	`(?i)\.moltbot[/\\].*memory`,
	`(?i)\.clawdbot[/\\].*memory`,
	`(?i)\.openclaw[/\\].*memory`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// IsCredentialPath reports whether target looks like a credential-bearing
// path (a .env file, an SSH private key, a cloud credentials file, etc).
func IsCredentialPath(target string) bool {
	return anyMatch(credentialPatterns, target)
}

// IsMemoryPath reports whether target looks like agent-memory storage
// (MEMORY.md, a memory/ directory, or a known host's memory subtree).
func IsMemoryPath(target string) bool {
	return anyMatch(memoryPatterns, target)
}

func anyMatch(patterns []*regexp.Regexp, target string) bool {
	if target == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}
