package classify

import (
	"reflect"
	"sort"
	"testing"
)

func TestClassifyCredentialEscalation(t *testing.T) {
	res := Classify("Read", map[string]any{"file_path": "/home/u/.env"})
	if res.Category != CategoryCredentialAccess {
		t.Errorf("category = %v, want %v", res.Category, CategoryCredentialAccess)
	}
	if !res.Escalated {
		t.Error("expected Escalated = true")
	}
}

func TestClassifyOrdinaryFileRead(t *testing.T) {
	res := Classify("Read", map[string]any{"file_path": "/src/main.c"})
	if res.Category != CategoryFileRead {
		t.Errorf("category = %v, want %v", res.Category, CategoryFileRead)
	}
	if res.Escalated {
		t.Error("expected Escalated = false")
	}
}

func TestClassifyUnknownTool(t *testing.T) {
	res := Classify("SomeMCPTool", map[string]any{})
	if res.Category != CategoryUnknown {
		t.Errorf("category = %v, want %v", res.Category, CategoryUnknown)
	}
}

func TestClassifyMemoryAlertDoesNotEscalate(t *testing.T) {
	res := Classify("Read", map[string]any{"file_path": "/home/u/MEMORY.md"})
	if res.Category != CategoryFileRead {
		t.Errorf("category = %v, want %v", res.Category, CategoryFileRead)
	}
	if !res.MemoryAlert {
		t.Error("expected MemoryAlert = true")
	}
}

func TestExtractTargetsPrimaryPriority(t *testing.T) {
	targets := ExtractTargets("Bash", map[string]any{
		"command":   "ls -la",
		"file_path": "/ignored",
	})
	if targets.Primary != "/ignored" {
		t.Errorf("primary = %q, want %q", targets.Primary, "/ignored")
	}
}

func TestExtractTargetsCommandTruncation(t *testing.T) {
	long := "echo " + string(make([]byte, 100))
	targets := ExtractTargets("Bash", map[string]any{"command": long})
	if got := len([]rune(targets.Primary)); got != maxPrimaryLen+1 {
		t.Errorf("truncated primary rune length = %d, want %d (80 chars + ellipsis)", got, maxPrimaryLen+1)
	}
}

func TestExtractTargetsBashCommandPaths(t *testing.T) {
	targets := ExtractTargets("Bash", map[string]any{
		"command": "cat /etc/passwd && rm ~/notes.txt && echo /dev/null",
	})
	want := []string{"/etc/passwd", "~/notes.txt"}
	got := append([]string{}, targets.Secondary...)
	sort.Strings(got)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("secondary = %v, want %v", got, want)
	}
}

func TestExtractTargetsTaskPromptQuotedPaths(t *testing.T) {
	targets := ExtractTargets("Task", map[string]any{
		"prompt": `Please review the file "/home/u/report.md" and update it.`,
	})
	found := false
	for _, s := range targets.Secondary {
		if s == "/home/u/report.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("secondary targets %v missing quoted path", targets.Secondary)
	}
}

func TestExtractTargetsNoSecondaryWhenRedundant(t *testing.T) {
	targets := ExtractTargets("Read", map[string]any{"file_path": "/src/main.c"})
	if targets.Secondary != nil {
		t.Errorf("secondary = %v, want nil", targets.Secondary)
	}
}

func TestIsCredentialPathVariants(t *testing.T) {
	yes := []string{
		"/home/u/.env",
		"C:\\proj\\.env.local",
		"/home/u/.ssh/id_rsa",
		"/home/u/.aws/credentials",
		"secrets.yaml",
		"/app/token_prod.json",
	}
	for _, p := range yes {
		if !IsCredentialPath(p) {
			t.Errorf("IsCredentialPath(%q) = false, want true", p)
		}
	}

	no := []string{"/src/main.c", "README.md", "/home/u/notes.txt"}
	for _, p := range no {
		if IsCredentialPath(p) {
			t.Errorf("IsCredentialPath(%q) = true, want false", p)
		}
	}
}

func TestIsMemoryPathVariants(t *testing.T) {
	yes := []string{"/home/u/MEMORY.md", "/proj/memory/user_role.md"}
	for _, p := range yes {
		if !IsMemoryPath(p) {
			t.Errorf("IsMemoryPath(%q) = false, want true", p)
		}
	}
	if IsMemoryPath("/src/main.c") {
		t.Error("IsMemoryPath(main.c) = true, want false")
	}
}
