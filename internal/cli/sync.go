package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/upsync/internal/drift"
	"github.com/roach88/upsync/internal/gitx"
	"github.com/roach88/upsync/internal/history"
	"github.com/roach88/upsync/internal/policy"
	"github.com/roach88/upsync/internal/regen"
	"github.com/roach88/upsync/internal/report"
	"github.com/roach88/upsync/internal/workflow"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	CheckOnly  bool
	AllowDrift bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull upstream changes into the fork",
		Long: `Run the full fork-synchronization workflow: backup, fetch, divergence
analysis, license-drift scan, three-way merge on a disposable update
branch, policy-driven conflict resolution, artifact regeneration, and
promotion of a fully resolved merge into the primary branch.

Exit codes:
  0  success or no-op
  1  drift warning (merge still attempted) or unresolved conflicts
  2  drift critical, run blocked (override with --allow-drift)
  >2 fatal (dirty tree, fetch failure, regeneration failure, busy)

Example:
  upsync sync --config upsync.yaml
  upsync sync --check-only`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.CheckOnly, "check-only", false, "analyze and scan only, mutate nothing")
	cmd.Flags().BoolVar(&opts.AllowDrift, "allow-drift", false, "proceed despite critical gating drift (logged)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	runner, cleanup, err := buildRunner(opts.RootOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	// SIGINT/SIGTERM cancel the run context; in-flight git commands stop
	// and the workflow takes its ABORT transition before promotion.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	run, runErr := runner.Run(ctx, workflow.Options{
		CheckOnly:  opts.CheckOnly,
		AllowDrift: opts.AllowDrift,
	})
	if run == nil {
		return mapRunError(runErr)
	}

	if err := printReport(cmd, opts.RootOptions, run.Report()); err != nil {
		return err
	}
	if runErr != nil {
		return mapRunError(runErr)
	}
	return exitForOutcome(run)
}

// buildRunner assembles the workflow runner from the configuration.
// The returned cleanup closes the history store.
func buildRunner(opts *RootOptions) (*workflow.Runner, func(), error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitFatal, "failed to load configuration", err)
	}

	table, err := policy.Load(cfg.Policy)
	if err != nil {
		return nil, nil, WrapExitError(ExitFatal, "failed to load policy", err)
	}

	repo, err := gitx.Open(cfg.Repo)
	if err != nil {
		return nil, nil, WrapExitError(ExitFatal, "failed to open repository", err)
	}

	cleanup := func() {}
	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, nil, WrapExitError(ExitFatal, "failed to open run history", err)
		}
		cleanup = func() {
			if closeErr := store.Close(); closeErr != nil {
				slog.Error("error closing run history", "error", closeErr)
			}
		}
	}

	runner := &workflow.Runner{
		Repo:        repo,
		Policy:      table,
		Scanner:     drift.NewScanner(cfg.GatingPaths),
		Regen:       regen.New(cfg.TreeRules()),
		Remote:      cfg.Remote,
		UpstreamRef: cfg.UpstreamRef,
		History:     store,
	}
	return runner, cleanup, nil
}

// printReport writes the terminal report in the configured format.
// JSON output uses the canonical serialization consumed by CI layers.
func printReport(cmd *cobra.Command, opts *RootOptions, rep *report.Report) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if f.Format == "json" {
		body, err := report.MarshalCanonical(rep)
		if err != nil {
			return WrapExitError(ExitFatal, "failed to serialize report", err)
		}
		return f.WriteJSON(body)
	}
	report.RenderText(f.Writer, rep)
	return nil
}

// mapRunError converts workflow errors into the exit-code contract.
func mapRunError(err error) error {
	switch {
	case workflow.IsBusyError(err):
		return WrapExitError(ExitBusy, "repository busy", err)
	case workflow.IsDirtyTreeError(err):
		return WrapExitError(ExitDirtyTree, "precondition failed", err)
	case gitx.IsFetchError(err):
		return WrapExitError(ExitFetchFailed, "upstream fetch failed", err)
	case regen.IsValidationError(err):
		return WrapExitError(ExitRegenFailed, "artifact regeneration failed", err)
	default:
		return WrapExitError(ExitFatal, "sync failed", err)
	}
}

// exitForOutcome maps a completed run to the exit-code contract.
func exitForOutcome(run *workflow.Run) error {
	switch run.Outcome {
	case report.OutcomeDriftBlocked:
		return NewExitError(ExitDriftCritical, "blocked by critical gating drift")
	case report.OutcomeUnresolved:
		return NewExitError(ExitDriftWarning,
			fmt.Sprintf("%d paths left unresolved on %s", len(run.Unresolved), run.UpdateBranch))
	default:
		if drift.Worst(run.Findings) != drift.SeverityClean {
			return NewExitError(ExitDriftWarning, "completed with drift findings")
		}
		return nil
	}
}
