// Package analyze computes how far the fork has diverged from upstream.
package analyze

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/upsync/internal/gitx"
)

// Report is the divergence between the local branch and the fetched
// upstream ref. Recomputed on every run, never persisted on its own.
type Report struct {
	Local        string   `json:"local"`
	Upstream     string   `json:"upstream"`
	MergeBase    string   `json:"merge_base"`
	Ahead        int      `json:"ahead"`
	Behind       int      `json:"behind"`
	ChangedPaths []string `json:"changed_paths"`
}

// ZeroDivergence reports whether there is nothing to pull from upstream.
// The workflow terminates in NO_OP when this holds.
func (r Report) ZeroDivergence() bool {
	return r.Behind == 0
}

// Diverge compares the local revision against the fetched upstream ref.
//
// Ahead and behind are two one-directional commit-graph differences;
// the changed-path set is everything upstream touched relative to the
// common ancestor. Read-only: the working tree is never consulted.
func Diverge(ctx context.Context, repo *gitx.Repo, local, upstream string) (Report, error) {
	base, err := repo.MergeBase(ctx, local, upstream)
	if err != nil {
		return Report{}, fmt.Errorf("analyze: merge base %s...%s: %w", local, upstream, err)
	}

	ahead, behind, err := repo.AheadBehind(ctx, local, upstream)
	if err != nil {
		return Report{}, fmt.Errorf("analyze: ahead/behind: %w", err)
	}

	var changed []string
	if behind > 0 {
		changed, err = repo.ChangedPaths(ctx, base, upstream)
		if err != nil {
			return Report{}, fmt.Errorf("analyze: changed paths: %w", err)
		}
	}

	slog.Debug("divergence computed",
		"local", local,
		"upstream", upstream,
		"ahead", ahead,
		"behind", behind,
		"changed_paths", len(changed),
	)

	return Report{
		Local:        local,
		Upstream:     upstream,
		MergeBase:    base,
		Ahead:        ahead,
		Behind:       behind,
		ChangedPaths: changed,
	}, nil
}
