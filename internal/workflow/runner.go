// Package workflow sequences the fork-synchronization state machine:
// backup, fetch, divergence analysis, drift scan, merge, policy-driven
// conflict resolution, artifact regeneration, and promotion.
//
// The primary branch is mutated at exactly one transition (promotion),
// and only when every conflicting path is resolved. A backup ref exists
// before any mutating step and is never deleted by the workflow.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/upsync/internal/analyze"
	"github.com/roach88/upsync/internal/drift"
	"github.com/roach88/upsync/internal/gitx"
	"github.com/roach88/upsync/internal/history"
	"github.com/roach88/upsync/internal/policy"
	"github.com/roach88/upsync/internal/regen"
	"github.com/roach88/upsync/internal/report"
	"github.com/roach88/upsync/internal/resolve"
)

const (
	backupRefPrefix    = "refs/upsync/backup"
	updateBranchPrefix = "upsync/update"
)

// Runner executes workflow runs against one repository.
// Strictly sequential: one run at a time, enforced by the run lock.
type Runner struct {
	Repo    *gitx.Repo
	Policy  policy.Table
	Scanner *drift.Scanner
	Regen   *regen.Regenerator

	// Remote is the upstream remote name (fetched each run).
	Remote string
	// UpstreamRef is the remote-tracking ref merged from, e.g. "upstream/main".
	UpstreamRef string

	// History receives every terminal report. Optional.
	History *history.Store

	// Now and IDs are injectable for tests. Nil selects wall clock and
	// UUIDv7 respectively.
	Now func() time.Time
	IDs IDGenerator

	// LockPath overrides the run-lock location. Defaults to
	// .git/upsync.lock inside the repository.
	LockPath string
}

// Options controls a single run.
type Options struct {
	// CheckOnly runs the analyzer and drift scanner only: no backup,
	// no merge, no working-tree mutation.
	CheckOnly bool

	// AllowDrift is the explicit, logged override for critical drift.
	AllowDrift bool
}

// Run executes one workflow run and always finishes in REPORTED.
//
// The returned Run is non-nil whenever execution got past the lock;
// fatal conditions additionally return the typed error. Blocking and
// non-fatal conditions (DRIFT_BLOCKED, UNRESOLVED) are expressed
// through the run's Outcome, not through the error.
func (r *Runner) Run(ctx context.Context, opts Options) (*Run, error) {
	release, err := acquireLock(r.lockPath())
	if err != nil {
		return nil, err
	}
	defer release()

	run := &Run{
		ID:        r.nextID(),
		StartedAt: r.now(),
		State:     StateInit,
	}
	slog.Info("workflow starting", "run", run.ID, "check_only", opts.CheckOnly)

	err = r.execute(ctx, run, opts)
	run.Err = err

	r.finish(run)
	return run, err
}

// execute drives the state machine. Fatal errors propagate; the caller
// records them on the run before the terminal report.
func (r *Runner) execute(ctx context.Context, run *Run, opts Options) error {
	snap, err := r.Repo.Snapshot(ctx, r.UpstreamRef)
	if err != nil {
		return err
	}
	run.Snapshot = snap

	if !snap.Clean {
		return &DirtyTreeError{Branch: snap.Branch}
	}

	// Backup before any further mutating step. Check-only runs mutate
	// nothing, so they skip straight to the fetch.
	if !opts.CheckOnly {
		backupRef := fmt.Sprintf("%s/%s/%s", backupRefPrefix, snap.Branch, run.ID)
		if err := r.Repo.CreateRef(ctx, backupRef, snap.Head); err != nil {
			return fmt.Errorf("workflow: create backup ref: %w", err)
		}
		run.BackupRef = backupRef
		if err := run.to(StateBackedUp); err != nil {
			return err
		}
	}

	if err := r.Repo.Fetch(ctx, r.Remote); err != nil {
		return err
	}
	if err := run.to(StateFetched); err != nil {
		return err
	}

	div, err := analyze.Diverge(ctx, r.Repo, snap.Head, r.UpstreamRef)
	if err != nil {
		return err
	}
	run.Divergence = div
	if err := run.to(StateAnalyzed); err != nil {
		return err
	}

	if div.ZeroDivergence() {
		run.Outcome = report.OutcomeNoOp
		return run.to(StateNoOp)
	}

	findings, err := r.Scanner.Scan(ctx, r.Repo, snap.Head, r.UpstreamRef, div.ChangedPaths)
	if err != nil {
		return err
	}
	run.Findings = findings

	if drift.Worst(findings) == drift.SeverityCritical {
		if !opts.AllowDrift {
			slog.Warn("critical gating drift, run blocked",
				"run", run.ID,
				"critical_findings", criticalCount(findings),
			)
			run.Outcome = report.OutcomeDriftBlocked
			return run.to(StateDriftBlocked)
		}
		// The override must leave an audit trail.
		slog.Warn("critical gating drift overridden by operator",
			"run", run.ID,
			"critical_findings", criticalCount(findings),
		)
	}

	if opts.CheckOnly {
		run.Outcome = report.OutcomeCheckOnly
		return nil
	}

	return r.merge(ctx, run)
}

// merge runs MERGING through CLEAN_MERGE/UNRESOLVED on a disposable
// update branch. Any error inside this region triggers ABORT: the
// update branch is discarded and the working tree restored, leaving the
// primary branch untouched.
func (r *Runner) merge(ctx context.Context, run *Run) (err error) {
	snap := run.Snapshot

	run.UpdateBranch = fmt.Sprintf("%s/%s", updateBranchPrefix, run.ID)
	if err := r.Repo.CreateBranchAt(ctx, run.UpdateBranch, snap.Head); err != nil {
		return fmt.Errorf("workflow: create update branch: %w", err)
	}
	if err := r.Repo.Checkout(ctx, run.UpdateBranch); err != nil {
		return fmt.Errorf("workflow: checkout update branch: %w", err)
	}
	if err := run.to(StateMerging); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			r.abort(run)
		}
	}()

	conflicted, err := r.Repo.Merge(ctx, r.UpstreamRef)
	if err != nil {
		return fmt.Errorf("workflow: merge %s: %w", r.UpstreamRef, err)
	}
	if err := run.to(StateConflictsResolving); err != nil {
		return err
	}

	resolver := resolve.New(r.Policy, r.Repo)
	outcome, err := resolver.Resolve(ctx, conflicted)
	if err != nil {
		return err
	}
	run.Resolved = outcome.Forced

	// The regenerator only runs when upstream actually touched a
	// generated tree; otherwise the directories are left alone.
	if r.Regen.Covers(run.Divergence.ChangedPaths) {
		regenerated, regenErr := r.Regen.Regenerate(ctx, r.Repo, run.Divergence.ChangedPaths)
		run.Regenerated = regenerated
		if regenErr != nil {
			// Fail closed: unvalidated output is never staged and the
			// whole run aborts (deferred above).
			return regenErr
		}
	}

	remaining, err := r.Repo.ConflictedPaths(ctx)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		// Non-fatal terminal: the update branch and backup stay intact
		// for manual follow-up; the primary branch was never touched.
		run.Unresolved = remaining
		run.Outcome = report.OutcomeUnresolved
		return run.to(StateUnresolved)
	}

	message := fmt.Sprintf("Sync %s into %s (run %s)", r.UpstreamRef, snap.Branch, run.ID)
	if err := r.Repo.Commit(ctx, message); err != nil {
		return fmt.Errorf("workflow: commit merge: %w", err)
	}
	if err := run.to(StateCleanMerge); err != nil {
		return err
	}

	// Promotion: the single transition that mutates the primary branch.
	if err := r.Repo.Checkout(ctx, snap.Branch); err != nil {
		return fmt.Errorf("workflow: checkout %s: %w", snap.Branch, err)
	}
	if err := r.Repo.Promote(ctx, run.UpdateBranch); err != nil {
		return fmt.Errorf("workflow: promote %s: %w", run.UpdateBranch, err)
	}
	if err := r.Repo.DeleteBranch(context.WithoutCancel(ctx), run.UpdateBranch); err != nil {
		slog.Warn("could not delete update branch", "branch", run.UpdateBranch, "error", err)
	}
	run.UpdateBranch = ""

	run.Outcome = report.OutcomeCleanMerge
	return nil
}

// abort discards the update branch and restores the working tree to the
// pre-run state. The backup ref is kept; it is never deleted here.
func (r *Runner) abort(run *Run) {
	// The run may be aborting because its context was cancelled.
	ctx := context.WithoutCancel(context.Background())

	slog.Warn("workflow aborting", "run", run.ID, "state", run.State)

	if err := r.Repo.AbortMerge(ctx); err != nil {
		slog.Error("abort: could not abort merge", "error", err)
	}
	if err := r.Repo.Checkout(ctx, run.Snapshot.Branch); err != nil {
		slog.Error("abort: could not restore branch", "branch", run.Snapshot.Branch, "error", err)
		return
	}
	if run.UpdateBranch != "" {
		if err := r.Repo.DeleteBranch(ctx, run.UpdateBranch); err != nil {
			slog.Error("abort: could not delete update branch", "branch", run.UpdateBranch, "error", err)
		}
		run.UpdateBranch = ""
	}
	run.Outcome = report.OutcomeAborted
}

// finish moves the run to REPORTED and persists the report.
func (r *Runner) finish(run *Run) {
	run.FinishedAt = r.now()

	if run.Outcome == "" && run.Err != nil {
		run.Outcome = report.OutcomeAborted
	}

	// Fatal pre-merge failures (dirty tree, fetch) never entered a
	// state with an edge to REPORTED; record them as-is.
	if err := run.to(StateReported); err != nil {
		slog.Debug("run ended outside reporting states", "run", run.ID, "state", run.State)
	}

	rep := run.Report()
	slog.Info("workflow finished",
		"run", run.ID,
		"outcome", run.Outcome,
		"resolved", len(run.Resolved),
		"unresolved", len(run.Unresolved),
	)

	if r.History == nil {
		return
	}
	if err := r.History.WriteRun(context.Background(), rep); err != nil {
		slog.Error("could not persist run history", "run", run.ID, "error", err)
	}
}

func (r *Runner) lockPath() string {
	if r.LockPath != "" {
		return r.LockPath
	}
	return filepath.Join(r.Repo.Dir(), ".git", "upsync.lock")
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) nextID() string {
	if r.IDs != nil {
		return r.IDs.Generate()
	}
	return UUIDv7Generator{}.Generate()
}
