package gitx

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// run executes a git command rooted at the repository directory.
// Returns trimmed stdout. Stderr is folded into the error on failure.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("git", "args", args)
	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()),
			fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsClean reports whether the working tree has no staged, unstaged,
// or untracked-conflicting changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// Fetch updates the remote-tracking refs for the given remote.
// A failure is wrapped in FetchError: fatal, never retried.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	if _, err := r.run(ctx, "fetch", "--prune", remote); err != nil {
		return &FetchError{Remote: remote, Err: err}
	}
	return nil
}

// MergeBase returns the common ancestor of two revisions.
func (r *Repo) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.run(ctx, "merge-base", a, b)
}

// AheadBehind counts commits reachable from local but not upstream (ahead)
// and from upstream but not local (behind).
func (r *Repo) AheadBehind(ctx context.Context, local, upstream string) (ahead, behind int, err error) {
	out, err := r.run(ctx, "rev-list", "--left-right", "--count", local+"..."+upstream)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("git: unexpected rev-list output %q", out)
	}
	if ahead, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("git: parse ahead count %q: %w", fields[0], err)
	}
	if behind, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("git: parse behind count %q: %w", fields[1], err)
	}
	return ahead, behind, nil
}

// ChangedPaths lists every path that differs between base and rev.
func (r *Repo) ChangedPaths(ctx context.Context, base, rev string) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", base, rev)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// CreateRef writes a fully qualified ref (e.g. refs/upsync/backup/...)
// pointing at the given hash. Fails if the ref already exists.
func (r *Repo) CreateRef(ctx context.Context, name, hash string) error {
	// The empty old-value argument asserts the ref does not exist yet,
	// so two runs can never silently overwrite each other's backup.
	_, err := r.run(ctx, "update-ref", name, hash, "")
	return err
}

// DeleteRef removes a fully qualified ref.
func (r *Repo) DeleteRef(ctx context.Context, name string) error {
	_, err := r.run(ctx, "update-ref", "-d", name)
	return err
}

// CreateBranchAt creates a branch pointing at the given revision.
func (r *Repo) CreateBranchAt(ctx context.Context, name, rev string) error {
	_, err := r.run(ctx, "branch", name, rev)
	return err
}

// DeleteBranch force-deletes a branch.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// Checkout switches the working tree to the given branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "checkout", "--quiet", branch)
	return err
}

// Merge runs a three-way merge of rev into the current branch without
// committing. A conflicted merge is NOT an error: the conflicted path
// set is returned and the merge is left in progress for the resolvers.
func (r *Repo) Merge(ctx context.Context, rev string) ([]string, error) {
	_, mergeErr := r.run(ctx, "merge", "--no-ff", "--no-commit", rev)
	if mergeErr == nil {
		return nil, nil
	}

	conflicted, err := r.ConflictedPaths(ctx)
	if err != nil {
		return nil, err
	}
	if len(conflicted) == 0 {
		// Merge failed for a reason other than conflicts.
		return nil, mergeErr
	}
	return conflicted, nil
}

// ConflictedPaths lists paths currently in the unmerged state.
func (r *Repo) ConflictedPaths(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// RestageOurs discards the merge result for path and restages the
// pre-merge local content. Used by the FORCE_LOCAL strategy.
func (r *Repo) RestageOurs(ctx context.Context, path string) error {
	if _, err := r.run(ctx, "checkout", "--ours", "--", path); err != nil {
		return err
	}
	_, err := r.run(ctx, "add", "--", path)
	return err
}

// StagePath stages everything under path, including deletions.
func (r *Repo) StagePath(ctx context.Context, path string) error {
	_, err := r.run(ctx, "add", "-A", "--", path)
	return err
}

// Commit commits the staged state. Used to conclude a resolved merge.
func (r *Repo) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "--no-verify", "-m", message)
	return err
}

// AbortMerge discards an in-progress merge and restores the pre-merge
// working tree. A no-op error (no merge in progress) is ignored.
func (r *Repo) AbortMerge(ctx context.Context) error {
	if _, err := r.run(ctx, "merge", "--abort"); err != nil {
		if strings.Contains(err.Error(), "MERGE_HEAD missing") ||
			strings.Contains(err.Error(), "There is no merge to abort") {
			return nil
		}
		return err
	}
	return nil
}

// Promote fast-forwards the current branch to the fully resolved update
// branch. The update branch was created from the primary head, so a
// non-fast-forward promotion indicates the primary moved mid-run.
func (r *Repo) Promote(ctx context.Context, updateBranch string) error {
	_, err := r.run(ctx, "merge", "--ff-only", updateBranch)
	return err
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	paths := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			paths = append(paths, l)
		}
	}
	return paths
}
