package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/upsync/internal/regen"
)

// Config is the tool configuration loaded from upsync.yaml.
//
// Relative paths (policy file, history database, canonical artifact
// trees) are resolved against the directory containing the config file.
type Config struct {
	// Repo is the fork's working directory. Defaults to ".".
	Repo string `yaml:"repo"`

	// Remote is the upstream remote name. Defaults to "upstream".
	Remote string `yaml:"remote"`

	// PrimaryBranch is the branch under management. Defaults to "main".
	PrimaryBranch string `yaml:"primary_branch"`

	// UpstreamRef is the remote-tracking ref merged from.
	// Defaults to "<remote>/<primary_branch>".
	UpstreamRef string `yaml:"upstream_ref"`

	// Policy is the path of the CUE classification policy document.
	Policy string `yaml:"policy"`

	// HistoryDB is the SQLite run-history path. Empty disables history.
	HistoryDB string `yaml:"history_db"`

	// GatingPaths are the historically gating-relevant files; any real
	// upstream change to one of them is critical drift.
	GatingPaths []string `yaml:"gating_paths"`

	// Artifacts lists generated directories replaced by regeneration.
	Artifacts []ArtifactConfig `yaml:"artifacts"`
}

// ArtifactConfig declares one generated directory and its canonical
// pre-built source tree.
type ArtifactConfig struct {
	Path         string `yaml:"path"`
	CanonicalDir string `yaml:"canonical_dir"`
	MinFiles     int    `yaml:"min_files"`
	MaxFiles     int    `yaml:"max_files"`
}

// LoadConfig reads and validates the tool configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(path))

	if cfg.Policy == "" {
		return nil, fmt.Errorf("config %s: policy is required", path)
	}
	for i, a := range cfg.Artifacts {
		if a.Path == "" || a.CanonicalDir == "" {
			return nil, fmt.Errorf("config %s: artifacts[%d] needs path and canonical_dir", path, i)
		}
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Repo == "" {
		c.Repo = "."
	}
	if c.Remote == "" {
		c.Remote = "upstream"
	}
	if c.PrimaryBranch == "" {
		c.PrimaryBranch = "main"
	}
	if c.UpstreamRef == "" {
		c.UpstreamRef = c.Remote + "/" + c.PrimaryBranch
	}
}

func (c *Config) resolvePaths(base string) {
	c.Repo = resolveAgainst(base, c.Repo)
	c.Policy = resolveAgainst(base, c.Policy)
	c.HistoryDB = resolveAgainst(base, c.HistoryDB)
	for i := range c.Artifacts {
		c.Artifacts[i].CanonicalDir = resolveAgainst(base, c.Artifacts[i].CanonicalDir)
	}
}

// TreeRules converts the artifact config into regenerator rules.
func (c *Config) TreeRules() []regen.TreeRule {
	rules := make([]regen.TreeRule, len(c.Artifacts))
	for i, a := range c.Artifacts {
		rules[i] = regen.TreeRule{
			Path:         a.Path,
			CanonicalDir: a.CanonicalDir,
			MinFiles:     a.MinFiles,
			MaxFiles:     a.MaxFiles,
		}
	}
	return rules
}

func resolveAgainst(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
