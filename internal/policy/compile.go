package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError reports a malformed policy document.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: policy %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("policy %s: %s", e.Field, e.Message)
}

// Load reads and compiles a CUE policy document from disk.
//
// The document declares an ordered rule list:
//
//	rules: [
//		{pattern: "orizon/**", category: "protected", strategy: "FORCE_LOCAL"},
//		{pattern: "ui/dist/**", category: "generated", strategy: "REGENERATE"},
//	]
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read policy %s: %w", path, err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return Table{}, formatCUEError(err)
	}
	return Compile(v)
}

// Compile parses a CUE value into an ordered classification table.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func Compile(v cue.Value) (Table, error) {
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return Table{}, &CompileError{
			Field:   "rules",
			Message: "rules list is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := rulesVal.List()
	if err != nil {
		return Table{}, &CompileError{
			Field:   "rules",
			Message: "rules must be a list",
			Pos:     rulesVal.Pos(),
		}
	}

	var rules []Rule
	for iter.Next() {
		rule, err := compileRule(iter.Value())
		if err != nil {
			return Table{}, err
		}
		rules = append(rules, rule)
	}

	return NewTable(rules)
}

func compileRule(v cue.Value) (Rule, error) {
	var rule Rule

	pattern, err := stringField(v, "pattern")
	if err != nil {
		return Rule{}, err
	}
	rule.Pattern = pattern

	category, err := stringField(v, "category")
	if err != nil {
		return Rule{}, err
	}
	rule.Category = Category(category)

	strategy, err := stringField(v, "strategy")
	if err != nil {
		return Rule{}, err
	}
	rule.Strategy = Strategy(strategy)

	return rule, nil
}

func stringField(v cue.Value, name string) (string, error) {
	field := v.LookupPath(cue.ParsePath(name))
	if !field.Exists() {
		return "", &CompileError{
			Field:   name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := field.String()
	if err != nil {
		return "", &CompileError{
			Field:   name,
			Message: fmt.Sprintf("%s must be a string: %v", name, err),
			Pos:     field.Pos(),
		}
	}
	return s, nil
}

// formatCUEError converts CUE SDK errors into CompileError with position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	return &CompileError{
		Field:   "document",
		Message: first.Error(),
		Pos:     first.Position(),
	}
}
