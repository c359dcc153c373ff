package agentloop

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestBuildSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Run go test before finishing."), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := BuildSystemPrompt("You are a coding agent.", NewWorkspace(dir), "gpt-5")
	for _, want := range []string{
		"You are a coding agent.",
		"Working directory: " + dir,
		"Model: gpt-5",
		"Run go test before finishing.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasPrefix(prompt, "You are a coding agent.") {
		t.Error("base instructions are not first")
	}

	if got := BuildSystemPrompt("  only base  ", nil, ""); got != "only base" {
		t.Errorf("without workspace = %q", got)
	}
}

func TestPathHierarchy(t *testing.T) {
	root := filepath.Join("/", "repo")
	tests := []struct {
		target string
		want   []string
	}{
		{root, []string{root}},
		{filepath.Join(root, "a", "b"), []string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b")}},
		{filepath.Join("/", "elsewhere"), []string{root}},
	}
	for _, tt := range tests {
		if got := pathHierarchy(root, tt.target); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("pathHierarchy(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}
