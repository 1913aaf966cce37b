package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/upsync/internal/history"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit int
}

// runListEntry is the JSON shape of one listed run.
type runListEntry struct {
	ID         string          `json:"id"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at"`
	Outcome    string          `json:"outcome"`
	Branch     string          `json:"branch"`
	BackupRef  string          `json:"backup_ref,omitempty"`
	Digest     string          `json:"digest"`
	Report     json.RawMessage `json:"report"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted workflow runs",
		Long: `List past workflow runs from the run-history database, newest first.
Each entry carries the full canonical report and its digest, so a CI or
notification layer can consume history without re-running anything.

Example:
  upsync runs --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")

	return cmd
}

func runRuns(cmd *cobra.Command, opts *RunsOptions) error {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitFatal, "failed to load configuration", err)
	}
	if cfg.HistoryDB == "" {
		return NewExitError(ExitFatal, "run history is disabled (history_db not configured)")
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return WrapExitError(ExitFatal, "failed to open run history", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("error closing run history", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := store.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFatal, "failed to list runs", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if f.Format == "json" {
		entries := make([]runListEntry, len(records))
		for i, rec := range records {
			entries[i] = runListEntry{
				ID:         rec.ID,
				StartedAt:  rec.StartedAt.UTC().Format(time.RFC3339),
				FinishedAt: rec.FinishedAt.UTC().Format(time.RFC3339),
				Outcome:    rec.Outcome,
				Branch:     rec.Branch,
				BackupRef:  rec.BackupRef,
				Digest:     rec.Digest,
				Report:     json.RawMessage(rec.Report),
			}
		}
		return f.WriteValue(entries)
	}

	if len(records) == 0 {
		fmt.Fprintln(f.Writer, "no runs recorded")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(f.Writer, "%s  %-13s %-8s %s\n",
			rec.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			rec.Outcome,
			rec.Branch,
			rec.ID,
		)
	}
	return nil
}
