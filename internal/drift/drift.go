// Package drift detects upstream changes to gating and licensing logic
// the fork's overrides depend on.
//
// Detection is textual, not semantic: a deliberately broad identifier
// vocabulary is matched against upstream blob content. False positives
// are acceptable; a missed gating change is the failure mode this
// package exists to prevent.
package drift

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/roach88/upsync/internal/gitx"
)

// Severity orders drift findings from benign to blocking.
type Severity string

const (
	SeverityClean    Severity = "CLEAN"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// rank makes Worst a total order over severities.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Finding is one drift observation on one upstream path.
type Finding struct {
	Path     string   `json:"path"`
	Severity Severity `json:"severity"`
	Matched  []string `json:"matched"`
	Excerpt  string   `json:"excerpt,omitempty"`
}

// Matcher is one named content predicate. Matchers run in declaration
// order; tests inject synthetic ones so no real remote is needed.
type Matcher struct {
	Name  string
	Match func(content []byte) bool
}

// BlobReader reads committed file content at a revision.
// Satisfied by *gitx.Repo.
type BlobReader interface {
	BlobAt(rev, path string) ([]byte, error)
}

// Scanner guards the assumption that a small, known set of paths fully
// controls feature-gating behavior. Read-only against fetched objects.
type Scanner struct {
	// KnownPaths are the historically gating-relevant files. Any real
	// upstream change to one of them is CRITICAL.
	KnownPaths []string

	// Matchers is the ordered identifier vocabulary applied to every
	// newly changed path outside KnownPaths.
	Matchers []Matcher
}

// NewScanner builds a scanner with the default matcher vocabulary.
func NewScanner(knownPaths []string) *Scanner {
	return &Scanner{KnownPaths: knownPaths, Matchers: DefaultMatchers()}
}

// Scan evaluates the changed-path set against the gating heuristics.
//
// Rules, in order:
//  1. A known gating path whose content actually differs between the
//     local and upstream revisions is CRITICAL. A path that appears in
//     the changed set but carries identical bytes is clean.
//  2. Any other changed path whose upstream content hits a matcher is
//     WARNING.
//  3. Clean paths produce no finding.
func (s *Scanner) Scan(ctx context.Context, repo BlobReader, localRev, upstreamRev string, changed []string) ([]Finding, error) {
	known := make(map[string]bool, len(s.KnownPaths))
	for _, p := range s.KnownPaths {
		known[p] = true
	}

	var findings []Finding
	for _, path := range changed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if known[path] {
			f, err := s.scanKnown(repo, localRev, upstreamRev, path)
			if err != nil {
				return nil, err
			}
			if f != nil {
				findings = append(findings, *f)
			}
			continue
		}

		f, err := s.scanVocabulary(repo, upstreamRev, path)
		if err != nil {
			return nil, err
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}

	slog.Debug("drift scan complete",
		"changed_paths", len(changed),
		"findings", len(findings),
		"worst", Worst(findings),
	)
	return findings, nil
}

// scanKnown compares a known gating path byte-for-byte across revisions.
func (s *Scanner) scanKnown(repo BlobReader, localRev, upstreamRev, path string) (*Finding, error) {
	local, localErr := repo.BlobAt(localRev, path)
	upstream, upstreamErr := repo.BlobAt(upstreamRev, path)

	if localErr != nil && !errors.Is(localErr, gitx.ErrBlobNotFound) {
		return nil, fmt.Errorf("drift: read local %s: %w", path, localErr)
	}
	if upstreamErr != nil && !errors.Is(upstreamErr, gitx.ErrBlobNotFound) {
		return nil, fmt.Errorf("drift: read upstream %s: %w", path, upstreamErr)
	}

	// Present on both sides with identical content: the diff touched the
	// path (mode change, rename source) but the gating logic is intact.
	if localErr == nil && upstreamErr == nil && bytes.Equal(local, upstream) {
		return nil, nil
	}

	return &Finding{
		Path:     path,
		Severity: SeverityCritical,
		Matched:  []string{"known-gating-path"},
		Excerpt:  excerptFor(upstream, nil),
	}, nil
}

// scanVocabulary applies the matcher list to upstream content.
func (s *Scanner) scanVocabulary(repo BlobReader, upstreamRev, path string) (*Finding, error) {
	content, err := repo.BlobAt(upstreamRev, path)
	if errors.Is(err, gitx.ErrBlobNotFound) {
		// Deleted upstream; nothing to match against.
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("drift: read upstream %s: %w", path, err)
	}

	var matched []string
	for _, m := range s.Matchers {
		if m.Match(content) {
			matched = append(matched, m.Name)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	return &Finding{
		Path:     path,
		Severity: SeverityWarning,
		Matched:  matched,
		Excerpt:  excerptFor(content, s.Matchers),
	}, nil
}

// Worst returns the highest severity across findings, CLEAN when empty.
func Worst(findings []Finding) Severity {
	worst := SeverityClean
	for _, f := range findings {
		if f.Severity.rank() > worst.rank() {
			worst = f.Severity
		}
	}
	return worst
}

const maxExcerptLen = 160

// excerptFor pulls the first line that triggers any matcher, or the
// first non-empty line when no matchers are supplied.
func excerptFor(content []byte, matchers []Matcher) string {
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if matchers == nil {
			return clip(trimmed)
		}
		for _, m := range matchers {
			if m.Match([]byte(line)) {
				return clip(trimmed)
			}
		}
	}
	return ""
}

// clip truncates to the excerpt budget without splitting a rune, so
// excerpts stay valid UTF-8 for the canonical report encoding.
func clip(s string) string {
	if len(s) <= maxExcerptLen {
		return s
	}
	cut := maxExcerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
