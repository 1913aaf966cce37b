// Package regen replaces generated artifact directories that cannot be
// three-way merged.
//
// A textual merge of generated output produces structurally invalid
// concatenations, so the merge result for these paths is discarded
// outright: the target directory is rebuilt from a canonical, already
// built source tree and validated before anything is staged. Validation
// failure aborts the workflow; unvalidated output is never staged.
package regen

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// TreeRule describes one generated directory and its canonical source.
type TreeRule struct {
	// Path is the repository-relative directory the rule owns.
	Path string
	// CanonicalDir is the absolute path of the pre-built source tree.
	CanonicalDir string
	// MinFiles and MaxFiles bound the expected file count. MaxFiles of
	// zero means unbounded above.
	MinFiles int
	MaxFiles int
}

// Stager is the slice of the repository handle the regenerator needs.
// Satisfied by *gitx.Repo.
type Stager interface {
	Dir() string
	StagePath(ctx context.Context, path string) error
}

// Regenerator rebuilds generated directories from canonical trees.
type Regenerator struct {
	rules      []TreeRule
	validators []Validator
}

// New builds a regenerator with the default structural validators.
func New(rules []TreeRule) *Regenerator {
	return &Regenerator{rules: rules, validators: DefaultValidators()}
}

// NewWithValidators builds a regenerator with an explicit validator list.
func NewWithValidators(rules []TreeRule, validators []Validator) *Regenerator {
	return &Regenerator{rules: rules, validators: validators}
}

// Rules returns the configured tree rules.
func (g *Regenerator) Rules() []TreeRule {
	return g.rules
}

// Covers reports whether any changed path falls under a rule, i.e.
// whether Regenerate would do any work for this change set.
func (g *Regenerator) Covers(changed []string) bool {
	for _, rule := range g.rules {
		if anyUnder(rule.Path, changed) {
			return true
		}
	}
	return false
}

// Regenerate rebuilds every rule-owned directory that upstream touched.
//
// For each applicable rule the canonical tree is first copied to a
// scratch directory and validated there. Only a fully valid tree
// replaces the target and gets staged; on validation failure a
// ValidationError is returned with nothing staged under the path.
// Returns the repository-relative paths that were regenerated.
func (g *Regenerator) Regenerate(ctx context.Context, repo Stager, changed []string) ([]string, error) {
	var regenerated []string
	for _, rule := range g.rules {
		if !anyUnder(rule.Path, changed) {
			// Upstream never touched this tree; leave it alone.
			continue
		}
		if err := g.regenerateTree(ctx, repo, rule); err != nil {
			return regenerated, err
		}
		regenerated = append(regenerated, rule.Path)
	}
	return regenerated, nil
}

func (g *Regenerator) regenerateTree(ctx context.Context, repo Stager, rule TreeRule) error {
	if _, err := os.Stat(rule.CanonicalDir); err != nil {
		return &ValidationError{
			Path:   rule.Path,
			Rule:   "canonical-tree",
			Reason: fmt.Sprintf("canonical source tree unavailable: %v", err),
		}
	}

	// Stage the replacement in a scratch directory so a validation
	// failure leaves both the canonical tree and the target untouched.
	scratch, err := os.MkdirTemp("", "upsync-regen-*")
	if err != nil {
		return fmt.Errorf("regen: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := copyTree(ctx, rule.CanonicalDir, scratch); err != nil {
		return fmt.Errorf("regen: copy canonical tree for %s: %w", rule.Path, err)
	}

	if err := g.validateTree(scratch, rule); err != nil {
		return err
	}

	target := filepath.Join(repo.Dir(), filepath.FromSlash(rule.Path))
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("regen: clear %s: %w", rule.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("regen: parent dir for %s: %w", rule.Path, err)
	}
	if err := copyTree(ctx, scratch, target); err != nil {
		return fmt.Errorf("regen: install %s: %w", rule.Path, err)
	}

	if err := repo.StagePath(ctx, rule.Path); err != nil {
		return fmt.Errorf("regen: stage %s: %w", rule.Path, err)
	}

	slog.Info("artifact directory regenerated", "path", rule.Path, "source", rule.CanonicalDir)
	return nil
}

// validateTree applies the per-file validators and the file-count bound
// to a fully assembled candidate tree.
func (g *Regenerator) validateTree(root string, rule TreeRule) error {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		count++

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		for _, v := range g.validators {
			if v.Applies != nil && !v.Applies(rel) {
				continue
			}
			if err := v.Validate(rel, data); err != nil {
				return &ValidationError{
					Path:   rule.Path + "/" + rel,
					Rule:   v.Name,
					Reason: err.Error(),
				}
			}
		}
		return nil
	})
	if err != nil {
		var ve *ValidationError
		if asValidationError(err, &ve) {
			return ve
		}
		return fmt.Errorf("regen: validate %s: %w", rule.Path, err)
	}

	if count < rule.MinFiles {
		return &ValidationError{
			Path:   rule.Path,
			Rule:   "file-count",
			Reason: fmt.Sprintf("%d files, expected at least %d", count, rule.MinFiles),
		}
	}
	if rule.MaxFiles > 0 && count > rule.MaxFiles {
		return &ValidationError{
			Path:   rule.Path,
			Rule:   "file-count",
			Reason: fmt.Sprintf("%d files, expected at most %d", count, rule.MaxFiles),
		}
	}
	return nil
}

// anyUnder reports whether any path equals prefix or lives under it.
func anyUnder(prefix string, paths []string) bool {
	for _, p := range paths {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// copyTree recursively copies src into dst, preserving file modes.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
