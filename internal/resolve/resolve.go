// Package resolve applies the classification policy to the live
// conflict set of an in-progress merge.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/upsync/internal/policy"
)

// Restager is the slice of the repository handle the resolver mutates
// through. Satisfied by *gitx.Repo.
type Restager interface {
	ConflictedPaths(ctx context.Context) ([]string, error)
	RestageOurs(ctx context.Context, path string) error
}

// Outcome partitions the conflict set by applied strategy.
type Outcome struct {
	// Forced paths were resolved by restaging pre-merge local content.
	Forced []string
	// Deferred paths are classified generated; the regenerator owns them.
	Deferred []string
	// Manual paths are left conflicted for the operator.
	Manual []string
}

// Resolver applies the classification table to conflicting paths.
type Resolver struct {
	table policy.Table
	repo  Restager
}

// New builds a resolver over the given policy table and repository.
func New(table policy.Table, repo Restager) *Resolver {
	return &Resolver{table: table, repo: repo}
}

// Resolve walks the given conflicting paths in order and applies the
// first-match-wins policy. FORCE_LOCAL paths are restaged from local
// content and marked resolved; REGENERATE paths are left for the
// regenerator; everything else stays conflicted and is reported.
//
// Idempotent: a path that is no longer in the repository's live
// conflict set is skipped silently, so re-running over an already
// resolved set is a no-op.
func (r *Resolver) Resolve(ctx context.Context, conflicted []string) (Outcome, error) {
	live, err := r.repo.ConflictedPaths(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve: read conflict set: %w", err)
	}
	liveSet := make(map[string]bool, len(live))
	for _, p := range live {
		liveSet[p] = true
	}

	var out Outcome
	for _, path := range conflicted {
		if !liveSet[path] {
			// Already resolved in an earlier pass.
			continue
		}

		c := r.table.Classify(path)
		switch c.Strategy {
		case policy.StrategyForceLocal:
			if err := r.repo.RestageOurs(ctx, path); err != nil {
				return Outcome{}, fmt.Errorf("resolve: force local %s: %w", path, err)
			}
			slog.Info("conflict resolved with local content", "path", path, "rule", c.Rule)
			out.Forced = append(out.Forced, path)

		case policy.StrategyRegenerate:
			slog.Debug("conflict deferred to regenerator", "path", path, "rule", c.Rule)
			out.Deferred = append(out.Deferred, path)

		default:
			slog.Info("conflict left for manual resolution", "path", path)
			out.Manual = append(out.Manual, path)
		}
	}

	return out, nil
}
