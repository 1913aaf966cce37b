package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "upsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "policy: sync-policy.cue\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Repo)
	assert.Equal(t, "upstream", cfg.Remote)
	assert.Equal(t, "main", cfg.PrimaryBranch)
	assert.Equal(t, "upstream/main", cfg.UpstreamRef)
	assert.Equal(t, filepath.Join(dir, "sync-policy.cue"), cfg.Policy)
	assert.Empty(t, cfg.HistoryDB)
}

func TestLoadConfig_UpstreamRefFollowsRemote(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
policy: sync-policy.cue
remote: origin-upstream
primary_branch: develop
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "origin-upstream/develop", cfg.UpstreamRef)
}

func TestLoadConfig_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
repo: fork
policy: policies/sync-policy.cue
history_db: state/history.db
artifacts:
  - path: ui/dist
    canonical_dir: canonical/dist
    min_files: 1
    max_files: 100
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "fork"), cfg.Repo)
	assert.Equal(t, filepath.Join(dir, "policies/sync-policy.cue"), cfg.Policy)
	assert.Equal(t, filepath.Join(dir, "state/history.db"), cfg.HistoryDB)

	rules := cfg.TreeRules()
	require.Len(t, rules, 1)
	assert.Equal(t, "ui/dist", rules[0].Path)
	assert.Equal(t, filepath.Join(dir, "canonical/dist"), rules[0].CanonicalDir)
	assert.Equal(t, 1, rules[0].MinFiles)
	assert.Equal(t, 100, rules[0].MaxFiles)
}

func TestLoadConfig_AbsolutePathsUntouched(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "policy: /etc/upsync/sync-policy.cue\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/upsync/sync-policy.cue", cfg.Policy)
}

func TestLoadConfig_PolicyRequired(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "remote: upstream\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy is required")
}

func TestLoadConfig_ArtifactNeedsCanonicalDir(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
policy: sync-policy.cue
artifacts:
  - path: ui/dist
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canonical_dir")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
