// Package testutil holds shared helpers for occtl tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// InitGitRepo initializes a git repository with one commit in the given
// directory, for tests exercising the uncommitted-changes probe.
func InitGitRepo(t *testing.T, dir string) {
	t.Helper()

	RunGitCommand(t, dir, "init")
	RunGitCommand(t, dir, "config", "user.name", "Test User")
	RunGitCommand(t, dir, "config", "user.email", "test@example.com")

	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test Project\n"), 0600); err != nil {
		t.Fatalf("Failed to create README: %v", err)
	}

	RunGitCommand(t, dir, "add", ".")
	RunGitCommand(t, dir, "commit", "-m", "Initial commit")
}

// RunGitCommand runs a git command in the given directory
func RunGitCommand(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		t.Fatalf("Failed to run git %v: %v", args, err)
	}
}

// CreateCommit creates a file and commits it
func CreateCommit(t *testing.T, dir, filename, content string) {
	t.Helper()

	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create file %s: %v", filename, err)
	}

	RunGitCommand(t, dir, "add", filename)
	RunGitCommand(t, dir, "commit", "-m", "Add "+filename)
}
