package gitx

import (
	"context"
	"errors"
	"fmt"
	"io"

	gitc "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is an explicit handle to a single git repository.
//
// Every operation takes the handle and a context; nothing relies on the
// process working directory, the ambient branch pointer, or global git
// configuration. Read-side inspection (refs, blobs at fetched refs) uses
// go-git directly; mutating operations (fetch, merge, checkout) shell out
// to the git CLI, which owns the three-way merge machinery.
type Repo struct {
	dir  string
	repo *gitc.Repository
}

// Snapshot captures the repository state at workflow start.
// Read-only after capture.
type Snapshot struct {
	Branch   string // short name of the checked-out branch
	Head     string // commit hash the branch points at
	Upstream string // upstream tracking ref the workflow will pull from
	Clean    bool   // no staged, unstaged, or merge-state changes
}

// ErrBlobNotFound is returned by BlobAt when the path does not exist
// in the tree of the given ref.
var ErrBlobNotFound = errors.New("blob not found at ref")

// Open opens an existing git repository rooted at or above dir.
func Open(dir string) (*Repo, error) {
	repo, err := gitc.PlainOpenWithOptions(dir, &gitc.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("git: open %s: %w", dir, err)
	}
	return &Repo{dir: dir, repo: repo}, nil
}

// Dir returns the directory the handle was opened at.
func (r *Repo) Dir() string {
	return r.dir
}

// Snapshot captures the current branch, head hash, and cleanliness flag.
// The upstream field is filled in by the caller from configuration.
func (r *Repo) Snapshot(ctx context.Context, upstream string) (Snapshot, error) {
	head, err := r.repo.Head()
	if err != nil {
		return Snapshot{}, fmt.Errorf("git: head: %w", err)
	}
	if !head.Name().IsBranch() {
		return Snapshot{}, fmt.Errorf("git: detached head at %s", head.Hash())
	}

	clean, err := r.IsClean(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Branch:   head.Name().Short(),
		Head:     head.Hash().String(),
		Upstream: upstream,
		Clean:    clean,
	}, nil
}

// Head returns the commit hash the current HEAD resolves to.
func (r *Repo) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("git: head: %w", err)
	}
	return head.Hash().String(), nil
}

// ResolveRef resolves a revision (branch, remote ref, hash) to a commit hash.
func (r *Repo) ResolveRef(rev string) (string, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("git: resolve %q: %w", rev, err)
	}
	return h.String(), nil
}

// BlobAt reads the content of path from the tree of the given revision.
// The working tree is never touched; this reads committed objects only,
// which is what the drift scanner needs for fetched upstream refs.
func (r *Repo) BlobAt(rev, path string) ([]byte, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("git: resolve %q: %w", rev, err)
	}

	commit, err := r.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("git: commit %s: %w", h, err)
	}

	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s at %s", ErrBlobNotFound, path, rev)
	} else if err != nil {
		return nil, fmt.Errorf("git: file %s at %s: %w", path, rev, err)
	}

	reader, err := file.Blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("git: blob %s: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("git: read blob %s: %w", path, err)
	}
	return data, nil
}
