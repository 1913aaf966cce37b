package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Classify_FirstMatchWins(t *testing.T) {
	table, err := NewTable([]Rule{
		{Pattern: "orizon/**", Category: CategoryProtected, Strategy: StrategyForceLocal},
		{Pattern: "orizon/generated/**", Category: CategoryGenerated, Strategy: StrategyRegenerate},
	})
	require.NoError(t, err)

	// Declaration order decides: the protected rule shadows the
	// generated rule for paths both would match.
	c := table.Classify("orizon/generated/index.html")
	assert.Equal(t, StrategyForceLocal, c.Strategy)
	assert.Equal(t, "orizon/**", c.Rule)
}

func TestTable_Classify_DefaultManual(t *testing.T) {
	table, err := NewTable([]Rule{
		{Pattern: "docs/**", Category: CategoryProtected, Strategy: StrategyForceLocal},
	})
	require.NoError(t, err)

	c := table.Classify("src/server.py")
	assert.Equal(t, CategoryOrdinary, c.Category)
	assert.Equal(t, StrategyManual, c.Strategy)
	assert.Empty(t, c.Rule)
}

func TestTable_Classify_EmptyTable(t *testing.T) {
	table, err := NewTable(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultClassification, table.Classify("anything"))
}

func TestNewTable_ValidatesRules(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"empty pattern", Rule{Pattern: " ", Category: CategoryProtected, Strategy: StrategyForceLocal}},
		{"bad category", Rule{Pattern: "a/**", Category: "weird", Strategy: StrategyForceLocal}},
		{"bad strategy", Rule{Pattern: "a/**", Category: CategoryProtected, Strategy: "KEEP"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable([]Rule{tt.rule})
			assert.Error(t, err)
		})
	}
}

func TestNewTable_CopiesRules(t *testing.T) {
	rules := []Rule{
		{Pattern: "a/**", Category: CategoryProtected, Strategy: StrategyForceLocal},
	}
	table, err := NewTable(rules)
	require.NoError(t, err)

	rules[0].Pattern = "b/**"
	assert.Equal(t, "a/**", table.Rules()[0].Pattern)
}
