package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

// projectDocFiles are instruction files picked up from the repository.
var projectDocFiles = []string{"AGENTS.md"}

// BuildSystemPrompt joins base instructions with an environment block for ws
// and any AGENTS.md files between the git root and the workspace.
func BuildSystemPrompt(base string, ws *Workspace, model string) string {
	parts := []string{}
	if s := strings.TrimSpace(base); s != "" {
		parts = append(parts, s)
	}
	if ws != nil {
		parts = append(parts, environmentContext(ws.Root, model))
		if docs := discoverProjectDocs(ws.Root); docs != "" {
			parts = append(parts, docs)
		}
	}
	return strings.Join(parts, "\n\n")
}

func environmentContext(dir, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", dir)
	root := gitRoot(dir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", root != "")
	if root != "" {
		if branch := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// discoverProjectDocs loads instruction files from the git root (or dir when
// not in a repository) down to dir, capped at maxProjectDocBytes.
func discoverProjectDocs(dir string) string {
	root := gitRoot(dir)
	if root == "" {
		root = dir
	}

	var (
		docs  []string
		total int
	)
	for _, d := range pathHierarchy(root, dir) {
		for _, name := range projectDocFiles {
			content, err := os.ReadFile(filepath.Join(d, name))
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - total
			if remaining <= 0 {
				return strings.Join(docs, "\n\n---\n\n")
			}
			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[project instructions truncated]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", name, d, text))
			total += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// pathHierarchy returns the directories from root down to target, inclusive.
func pathHierarchy(root, target string) []string {
	root, target = filepath.Clean(root), filepath.Clean(target)
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(dir string) string {
	return runGit(dir, "rev-parse", "--show-toplevel")
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
