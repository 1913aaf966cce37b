package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/upsync/internal/analyze"
	"github.com/roach88/upsync/internal/gitx"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	NoFetch bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report divergence from upstream",
		Long: `Fetch the upstream remote and print the divergence report: commits
ahead, commits behind, and the set of paths upstream changed relative
to the common ancestor. Read-only apart from the fetch.

Example:
  upsync analyze
  upsync analyze --no-fetch --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoFetch, "no-fetch", false, "analyze against already-fetched refs")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *AnalyzeOptions) error {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitFatal, "failed to load configuration", err)
	}

	repo, err := gitx.Open(cfg.Repo)
	if err != nil {
		return WrapExitError(ExitFatal, "failed to open repository", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !opts.NoFetch {
		if err := repo.Fetch(ctx, cfg.Remote); err != nil {
			return WrapExitError(ExitFetchFailed, "upstream fetch failed", err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		return WrapExitError(ExitFatal, "failed to resolve HEAD", err)
	}

	rep, err := analyze.Diverge(ctx, repo, head, cfg.UpstreamRef)
	if err != nil {
		return WrapExitError(ExitFatal, "analysis failed", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if f.Format == "json" {
		return f.WriteValue(rep)
	}

	fmt.Fprintf(f.Writer, "ahead %d, behind %d of %s (merge base %s)\n",
		rep.Ahead, rep.Behind, rep.Upstream, shortHash(rep.MergeBase))
	for _, p := range rep.ChangedPaths {
		fmt.Fprintf(f.Writer, "  %s\n", p)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
