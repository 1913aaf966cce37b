// Package testutil provides fixtures for workflow tests: a
// deterministic clock and an exec-git repository builder.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// InitRepo initializes a git repository in dir with a deterministic
// identity and "main" as the default branch.
func InitRepo(t *testing.T, dir string) {
	t.Helper()
	MustGit(t, dir, "init", "-b", "main")
	MustGit(t, dir, "config", "user.name", "Test User")
	MustGit(t, dir, "config", "user.email", "test@example.com")
	MustGit(t, dir, "config", "commit.gpgsign", "false")
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, dir, filename, content, msg string) {
	t.Helper()
	WriteFile(t, dir, filename, content)
	MustGit(t, dir, "add", filename)
	MustGit(t, dir, "commit", "-m", msg)
}

// WriteFile writes a file under dir without committing.
func WriteFile(t *testing.T, dir, filename, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", filename, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", filename, err)
	}
}

// AddRemote registers a remote pointing at another local repository.
func AddRemote(t *testing.T, dir, name, url string) {
	t.Helper()
	MustGit(t, dir, "remote", "add", name, url)
}

// CloneRepo clones src into dst with the given remote name for origin.
func CloneRepo(t *testing.T, src, dst, remoteName string) {
	t.Helper()
	cmd := exec.Command("git", "clone", "--origin", remoteName, src, dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git clone failed: %v\nOutput: %s", err, out)
	}
	MustGit(t, dst, "config", "user.name", "Test User")
	MustGit(t, dst, "config", "user.email", "test@example.com")
	MustGit(t, dst, "config", "commit.gpgsign", "false")
}

// HeadSHA returns the full SHA of the current HEAD.
func HeadSHA(t *testing.T, dir string) string {
	t.Helper()
	return GitOutput(t, dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the short name of the checked-out branch.
func CurrentBranch(t *testing.T, dir string) string {
	t.Helper()
	return GitOutput(t, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// FileContent reads a file from the working tree.
func FileContent(t *testing.T, dir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(filename)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

// GitOutput runs git and returns trimmed stdout, failing the test on error.
func GitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %v failed: %v", args, err)
	}
	return strings.TrimSpace(string(out))
}

// MustGit runs git and fails the test on error.
func MustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\nOutput: %s", args, err, out)
	}
}
