package policy

import (
	"fmt"
	"strings"
)

// Category classifies what kind of content a path holds.
type Category string

const (
	CategoryProtected Category = "protected"
	CategoryGenerated Category = "generated"
	CategoryOrdinary  Category = "ordinary"
)

// Strategy is the resolution applied to a conflicting path.
type Strategy string

const (
	// StrategyForceLocal discards the merge result and restages the
	// pre-merge local content.
	StrategyForceLocal Strategy = "FORCE_LOCAL"

	// StrategyRegenerate defers the path to the artifact regenerator.
	StrategyRegenerate Strategy = "REGENERATE"

	// StrategyManual leaves the path conflicted for the operator.
	StrategyManual Strategy = "MANUAL"
)

// Rule is one declarative classification entry.
type Rule struct {
	Pattern  string
	Category Category
	Strategy Strategy
}

// Classification is the result of matching a path against the table.
// The zero value is the default for unmatched paths.
type Classification struct {
	Category Category
	Strategy Strategy
	Rule     string // pattern of the matching rule, empty for the default
}

// DefaultClassification applies to every path no rule matches.
var DefaultClassification = Classification{
	Category: CategoryOrdinary,
	Strategy: StrategyManual,
}

// Table is an ordered classification policy. Rules are evaluated in
// declaration order and the first match wins. Immutable per run.
type Table struct {
	rules []Rule
}

// NewTable builds a table from rules in declaration order.
// The slice is copied so later caller mutation cannot reorder the policy.
func NewTable(rules []Rule) (Table, error) {
	for i, r := range rules {
		if err := validateRule(r); err != nil {
			return Table{}, fmt.Errorf("rule %d (%q): %w", i, r.Pattern, err)
		}
	}
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return Table{rules: copied}, nil
}

// Rules returns the rules in declaration order.
func (t Table) Rules() []Rule {
	return t.rules
}

// Len returns the number of rules.
func (t Table) Len() int {
	return len(t.rules)
}

// Classify matches path against the table, first match wins.
// Unmatched paths get DefaultClassification (ordinary, MANUAL).
func (t Table) Classify(path string) Classification {
	for _, r := range t.rules {
		if MatchPattern(r.Pattern, path) {
			return Classification{Category: r.Category, Strategy: r.Strategy, Rule: r.Pattern}
		}
	}
	return DefaultClassification
}

func validateRule(r Rule) error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	switch r.Category {
	case CategoryProtected, CategoryGenerated, CategoryOrdinary:
	default:
		return fmt.Errorf("unknown category %q", r.Category)
	}
	switch r.Strategy {
	case StrategyForceLocal, StrategyRegenerate, StrategyManual:
	default:
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}
	return nil
}
