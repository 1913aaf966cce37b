package regen

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Validator checks one structural invariant of a generated file.
type Validator struct {
	// Name identifies the invariant in errors and reports.
	Name string
	// Applies filters which files the validator runs on. Nil means all.
	Applies func(path string) bool
	// Validate returns a descriptive error when the invariant fails.
	Validate func(path string, data []byte) error
}

// ValidationError indicates a regenerated tree failed its structural
// invariant. The workflow fails closed on this error: nothing under the
// affected path is staged and the run aborts.
type ValidationError struct {
	Path   string
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("regeneration validation failed for %s (%s): %s", e.Path, e.Rule, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func asValidationError(err error, target **ValidationError) bool {
	return errors.As(err, target)
}

// DefaultValidators checks the invariants generated front-end output is
// expected to hold: documents are single-rooted and nothing is empty.
func DefaultValidators() []Validator {
	return []Validator{
		HTMLDocumentValidator(),
		NonEmptyValidator(),
	}
}

// HTMLDocumentValidator requires exactly one top-level document marker
// per HTML file. A merged-then-concatenated document has two.
func HTMLDocumentValidator() Validator {
	return Validator{
		Name: "html-single-document",
		Applies: func(path string) bool {
			return strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm")
		},
		Validate: func(path string, data []byte) error {
			lowered := bytes.ToLower(data)
			n := bytes.Count(lowered, []byte("<!doctype"))
			if n == 0 {
				// Some generators omit the doctype; fall back to <html.
				n = bytes.Count(lowered, []byte("<html"))
			}
			if n != 1 {
				return fmt.Errorf("%d top-level document markers, expected exactly 1", n)
			}
			return nil
		},
	}
}

// NonEmptyValidator rejects zero-byte files anywhere in the tree.
func NonEmptyValidator() Validator {
	return Validator{
		Name: "non-empty",
		Validate: func(path string, data []byte) error {
			if len(data) == 0 {
				return fmt.Errorf("file is empty")
			}
			return nil
		},
	}
}
