package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/upsync/internal/drift"
	"github.com/roach88/upsync/internal/gitx"
	"github.com/roach88/upsync/internal/history"
	"github.com/roach88/upsync/internal/policy"
	"github.com/roach88/upsync/internal/regen"
	"github.com/roach88/upsync/internal/report"
	"github.com/roach88/upsync/internal/testutil"
)

// harness wires a Runner against a real upstream/fork repository pair.
type harness struct {
	upstreamDir string
	forkDir     string
	runner      *Runner
}

func newHarness(t *testing.T, rules []policy.Rule, knownPaths []string, treeRules []regen.TreeRule) *harness {
	t.Helper()

	upstreamDir := t.TempDir()
	testutil.InitRepo(t, upstreamDir)
	testutil.CommitFile(t, upstreamDir, "README.md", "hello\n", "initial commit")

	forkDir := t.TempDir() + "/fork"
	testutil.CloneRepo(t, upstreamDir, forkDir, "upstream")

	repo, err := gitx.Open(forkDir)
	require.NoError(t, err)

	table, err := policy.NewTable(rules)
	require.NoError(t, err)

	clock := testutil.NewDeterministicClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))

	return &harness{
		upstreamDir: upstreamDir,
		forkDir:     forkDir,
		runner: &Runner{
			Repo:        repo,
			Policy:      table,
			Scanner:     drift.NewScanner(knownPaths),
			Regen:       regen.New(treeRules),
			Remote:      "upstream",
			UpstreamRef: "upstream/main",
			Now:         clock.Now,
			IDs:         NewFixedGenerator("run-0001", "run-0002", "run-0003"),
		},
	}
}

func (h *harness) mainHead(t *testing.T) string {
	t.Helper()
	return testutil.GitOutput(t, h.forkDir, "rev-parse", "main")
}

func TestRun_NoOp(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	before := h.mainHead(t)

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeNoOp, run.Outcome)
	assert.Equal(t, StateReported, run.State)
	assert.Equal(t, before, h.mainHead(t))
	assert.Empty(t, run.UpdateBranch)
	// The backup ref is created before any mutating step, so a no-op run
	// still carries one.
	assert.Equal(t, before, testutil.GitOutput(t, h.forkDir, "rev-parse", run.BackupRef))
}

func TestRun_DirtyTree(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	testutil.WriteFile(t, h.forkDir, "scratch.txt", "uncommitted\n")

	run, err := h.runner.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsDirtyTreeError(err))
	assert.Equal(t, report.OutcomeAborted, run.Outcome)
	assert.Empty(t, run.BackupRef)
}

func TestRun_Busy(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	lock := flock.New(filepath.Join(h.forkDir, ".git", "upsync.lock"))
	held, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, held)
	defer lock.Unlock()

	run, err := h.runner.Run(context.Background(), Options{})
	assert.Nil(t, run)
	require.Error(t, err)
	assert.True(t, IsBusyError(err))
}

func TestRun_CleanMerge(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	before := h.mainHead(t)
	testutil.CommitFile(t, h.upstreamDir, "src/app.py", "print(1)\n", "add app")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Equal(t, StateReported, run.State)
	assert.Equal(t, "run-0001", run.ID)

	// The primary branch advanced exactly once, through promotion.
	assert.Equal(t, "main", testutil.CurrentBranch(t, h.forkDir))
	assert.NotEqual(t, before, h.mainHead(t))
	assert.Equal(t, "print(1)\n", testutil.FileContent(t, h.forkDir, "src/app.py"))

	// Backup still points at the pre-run head; update branch is gone.
	assert.Equal(t, before, testutil.GitOutput(t, h.forkDir, "rev-parse", run.BackupRef))
	assert.Empty(t, run.UpdateBranch)
}

func TestRun_ForceLocalKeepsProtectedContent(t *testing.T) {
	h := newHarness(t, []policy.Rule{
		{Pattern: "config/**", Category: policy.CategoryProtected, Strategy: policy.StrategyForceLocal},
	}, nil, nil)

	testutil.CommitFile(t, h.upstreamDir, "config/app.yaml", "mode: upstream\n", "upstream config")
	testutil.CommitFile(t, h.upstreamDir, "src/app.py", "print(1)\n", "add app")
	testutil.CommitFile(t, h.forkDir, "config/app.yaml", "mode: local\n", "local config")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Equal(t, []string{"config/app.yaml"}, run.Resolved)

	// The protected file survives byte-identical; everything else merges.
	assert.Equal(t, "mode: local\n", testutil.FileContent(t, h.forkDir, "config/app.yaml"))
	assert.Equal(t, "print(1)\n", testutil.FileContent(t, h.forkDir, "src/app.py"))
}

func TestRun_UnresolvedLeavesUpdateBranchIntact(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	before := h.mainHead(t)

	testutil.CommitFile(t, h.upstreamDir, "README.md", "upstream edit\n", "upstream edit")
	testutil.CommitFile(t, h.forkDir, "README.md", "fork edit\n", "fork edit")
	localHead := h.mainHead(t)

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeUnresolved, run.Outcome)
	assert.Equal(t, []string{"README.md"}, run.Unresolved)

	// The working tree is left mid-merge on the update branch so the
	// operator's resolution work is preserved; main never moved.
	assert.Equal(t, run.UpdateBranch, testutil.CurrentBranch(t, h.forkDir))
	assert.Equal(t, localHead, testutil.GitOutput(t, h.forkDir, "rev-parse", "main"))
	assert.NotEqual(t, before, localHead)
	assert.NotEmpty(t, run.BackupRef)
}

func TestRun_DriftBlocked(t *testing.T) {
	known := []string{"src/license.py"}
	h := newHarness(t, nil, known, nil)
	testutil.CommitFile(t, h.upstreamDir, "src/license.py", "def check(): ...\n", "add license check")
	before := h.mainHead(t)

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeDriftBlocked, run.Outcome)
	assert.Equal(t, drift.SeverityCritical, drift.Worst(run.Findings))
	assert.Equal(t, before, h.mainHead(t))
	assert.Equal(t, "main", testutil.CurrentBranch(t, h.forkDir))
	assert.Empty(t, run.UpdateBranch)
}

func TestRun_AllowDriftOverride(t *testing.T) {
	known := []string{"src/license.py"}
	h := newHarness(t, nil, known, nil)
	testutil.CommitFile(t, h.upstreamDir, "src/license.py", "def check(): ...\n", "add license check")

	run, err := h.runner.Run(context.Background(), Options{AllowDrift: true})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Equal(t, drift.SeverityCritical, drift.Worst(run.Findings))
	assert.Equal(t, "def check(): ...\n", testutil.FileContent(t, h.forkDir, "src/license.py"))
}

func TestRun_IdenticalGatingContentIsClean(t *testing.T) {
	known := []string{"src/license.py"}
	h := newHarness(t, nil, known, nil)

	// Fork already carries the exact bytes upstream is about to ship, so
	// the gating path appears in the changed set but nothing drifted.
	testutil.CommitFile(t, h.upstreamDir, "src/license.py", "def check(): ...\n", "add license check")
	testutil.CommitFile(t, h.forkDir, "src/license.py", "def check(): ...\n", "port license check")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Equal(t, drift.SeverityClean, drift.Worst(run.Findings))
}

func TestRun_WarningDriftDoesNotBlock(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	testutil.CommitFile(t, h.upstreamDir, "src/gate.py", "if user.is_premium:\n    pass\n", "add gate")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Equal(t, drift.SeverityWarning, drift.Worst(run.Findings))
}

func TestRun_CheckOnly(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	before := h.mainHead(t)
	testutil.CommitFile(t, h.upstreamDir, "src/app.py", "print(1)\n", "add app")

	run, err := h.runner.Run(context.Background(), Options{CheckOnly: true})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCheckOnly, run.Outcome)
	assert.Equal(t, 1, run.Divergence.Behind)
	assert.Equal(t, before, h.mainHead(t))
	assert.Empty(t, run.BackupRef)
	assert.Empty(t, run.UpdateBranch)
}

func TestRun_CheckOnlyStillBlocksOnCriticalDrift(t *testing.T) {
	known := []string{"src/license.py"}
	h := newHarness(t, nil, known, nil)
	testutil.CommitFile(t, h.upstreamDir, "src/license.py", "def check(): ...\n", "gating change")
	before := h.mainHead(t)

	run, err := h.runner.Run(context.Background(), Options{CheckOnly: true})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeDriftBlocked, run.Outcome)
	assert.Equal(t, before, h.mainHead(t))
	assert.Empty(t, run.BackupRef)
	assert.Empty(t, run.UpdateBranch)
}

func TestRun_MixedConflictsEndUnresolved(t *testing.T) {
	h := newHarness(t, []policy.Rule{
		{Pattern: "config/**", Category: policy.CategoryProtected, Strategy: policy.StrategyForceLocal},
	}, nil, nil)

	// Both sides touch a protected path and an ordinary path.
	testutil.CommitFile(t, h.upstreamDir, "config/app.yaml", "mode: upstream\n", "upstream config")
	testutil.CommitFile(t, h.upstreamDir, "README.md", "upstream edit\n", "upstream readme")
	testutil.CommitFile(t, h.upstreamDir, "src/app.py", "print(1)\n", "add app")
	testutil.CommitFile(t, h.forkDir, "config/app.yaml", "mode: local\n", "local config")
	testutil.CommitFile(t, h.forkDir, "README.md", "fork edit\n", "fork readme")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeUnresolved, run.Outcome)
	assert.Equal(t, []string{"config/app.yaml"}, run.Resolved)
	assert.Equal(t, []string{"README.md"}, run.Unresolved)
	assert.Equal(t, "mode: local\n", testutil.FileContent(t, h.forkDir, "config/app.yaml"))

	// Primary untouched; the half-resolved merge waits on the update branch.
	assert.Equal(t, run.UpdateBranch, testutil.CurrentBranch(t, h.forkDir))
}

func TestRun_RegeneratesArtifactTree(t *testing.T) {
	canonicalDir := t.TempDir()
	canonical := "<!doctype html><html><body>canonical</body></html>\n"
	testutil.WriteFile(t, canonicalDir, "index.html", canonical)

	h := newHarness(t, []policy.Rule{
		{Pattern: "ui/dist/**", Category: policy.CategoryGenerated, Strategy: policy.StrategyRegenerate},
	}, nil, []regen.TreeRule{
		{Path: "ui/dist", CanonicalDir: canonicalDir, MinFiles: 1, MaxFiles: 10},
	})

	testutil.CommitFile(t, h.upstreamDir, "ui/dist/index.html",
		"<!doctype html><html><body>upstream build</body></html>\n", "upstream build")
	testutil.CommitFile(t, h.forkDir, "ui/dist/index.html",
		"<!doctype html><html><body>fork build</body></html>\n", "fork build")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Equal(t, []string{"ui/dist"}, run.Regenerated)
	assert.Equal(t, canonical, testutil.FileContent(t, h.forkDir, "ui/dist/index.html"))
}

func TestRun_AbortsOnRegenValidationFailure(t *testing.T) {
	// Two document markers in one file: structurally invalid output.
	canonicalDir := t.TempDir()
	testutil.WriteFile(t, canonicalDir, "index.html",
		"<!doctype html><html></html>\n<!doctype html><html></html>\n")

	h := newHarness(t, []policy.Rule{
		{Pattern: "ui/dist/**", Category: policy.CategoryGenerated, Strategy: policy.StrategyRegenerate},
	}, nil, []regen.TreeRule{
		{Path: "ui/dist", CanonicalDir: canonicalDir, MinFiles: 1, MaxFiles: 10},
	})

	testutil.CommitFile(t, h.upstreamDir, "ui/dist/index.html",
		"<!doctype html><html><body>upstream build</body></html>\n", "upstream build")
	forkBuild := "<!doctype html><html><body>fork build</body></html>\n"
	testutil.CommitFile(t, h.forkDir, "ui/dist/index.html", forkBuild, "fork build")
	before := h.mainHead(t)

	run, err := h.runner.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, regen.IsValidationError(err))
	assert.Equal(t, report.OutcomeAborted, run.Outcome)

	// The mid-merge abort restored everything: primary head unchanged,
	// worktree clean back on main, update branch discarded, fork content
	// intact. Only the backup ref survives.
	assert.Equal(t, before, h.mainHead(t))
	assert.Equal(t, "main", testutil.CurrentBranch(t, h.forkDir))
	clean, cleanErr := h.runner.Repo.IsClean(context.Background())
	require.NoError(t, cleanErr)
	assert.True(t, clean)
	_, refErr := h.runner.Repo.ResolveRef("upsync/update/run-0001")
	assert.Error(t, refErr)
	assert.Equal(t, forkBuild, testutil.FileContent(t, h.forkDir, "ui/dist/index.html"))
	assert.Equal(t, before, testutil.GitOutput(t, h.forkDir, "rev-parse", run.BackupRef))
}

func TestRun_SkipsRegeneratorWhenArtifactsUntouched(t *testing.T) {
	canonicalDir := t.TempDir()
	testutil.WriteFile(t, canonicalDir, "index.html",
		"<!doctype html><html><body>canonical</body></html>\n")

	h := newHarness(t, []policy.Rule{
		{Pattern: "ui/dist/**", Category: policy.CategoryGenerated, Strategy: policy.StrategyRegenerate},
	}, nil, []regen.TreeRule{
		{Path: "ui/dist", CanonicalDir: canonicalDir, MinFiles: 1, MaxFiles: 10},
	})

	forkBuild := "<!doctype html><html><body>fork build</body></html>\n"
	testutil.CommitFile(t, h.forkDir, "ui/dist/index.html", forkBuild, "fork build")
	testutil.CommitFile(t, h.upstreamDir, "src/app.py", "print(1)\n", "add app")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, run.Outcome)
	assert.Empty(t, run.Regenerated)
	assert.Equal(t, forkBuild, testutil.FileContent(t, h.forkDir, "ui/dist/index.html"))
}

func TestRun_PersistsHistory(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()
	h.runner.History = store

	testutil.CommitFile(t, h.upstreamDir, "src/app.py", "print(1)\n", "add app")

	run, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	rec, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(report.OutcomeCleanMerge), rec.Outcome)
	assert.Equal(t, "main", rec.Branch)
	assert.NotEmpty(t, rec.Digest)
}

func TestRun_SequentialRunsGetDistinctBackups(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	testutil.CommitFile(t, h.upstreamDir, "a.txt", "a\n", "add a")
	first, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	testutil.CommitFile(t, h.upstreamDir, "b.txt", "b\n", "add b")
	second, err := h.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeCleanMerge, first.Outcome)
	assert.Equal(t, report.OutcomeCleanMerge, second.Outcome)
	assert.NotEqual(t, first.BackupRef, second.BackupRef)

	// Both backups survive both runs.
	testutil.GitOutput(t, h.forkDir, "rev-parse", first.BackupRef)
	testutil.GitOutput(t, h.forkDir, "rev-parse", second.BackupRef)
}
