package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/upsync/internal/drift"
	"github.com/roach88/upsync/internal/gitx"
	"github.com/roach88/upsync/internal/regen"
	"github.com/roach88/upsync/internal/report"
	"github.com/roach88/upsync/internal/workflow"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitDirtyTree, GetExitCode(NewExitError(ExitDirtyTree, "dirty")))
	assert.Equal(t, ExitBusy, GetExitCode(fmt.Errorf("outer: %w", NewExitError(ExitBusy, "busy"))))
	assert.Equal(t, ExitFatal, GetExitCode(errors.New("plain error")))
}

func TestExitError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := WrapExitError(ExitFetchFailed, "fetch failed", inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "fetch failed")
	assert.Contains(t, err.Error(), "root cause")
}

func TestMapRunError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy", &workflow.BusyError{LockPath: "/tmp/x.lock"}, ExitBusy},
		{"dirty tree", &workflow.DirtyTreeError{Branch: "main"}, ExitDirtyTree},
		{"fetch", &gitx.FetchError{Remote: "upstream", Err: errors.New("refused")}, ExitFetchFailed},
		{"regen validation", &regen.ValidationError{Path: "ui/dist/index.html", Rule: "html-single-document", Reason: "2 markers"}, ExitRegenFailed},
		{"unknown", errors.New("boom"), ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapRunError(tt.err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExitForOutcome(t *testing.T) {
	t.Run("clean merge exits zero", func(t *testing.T) {
		run := &workflow.Run{Outcome: report.OutcomeCleanMerge}
		assert.NoError(t, exitForOutcome(run))
	})

	t.Run("no-op exits zero", func(t *testing.T) {
		run := &workflow.Run{Outcome: report.OutcomeNoOp}
		assert.NoError(t, exitForOutcome(run))
	})

	t.Run("drift blocked exits critical", func(t *testing.T) {
		run := &workflow.Run{Outcome: report.OutcomeDriftBlocked}
		assert.Equal(t, ExitDriftCritical, GetExitCode(exitForOutcome(run)))
	})

	t.Run("unresolved exits warning", func(t *testing.T) {
		run := &workflow.Run{
			Outcome:      report.OutcomeUnresolved,
			Unresolved:   []string{"src/server.py"},
			UpdateBranch: "upsync/update/run-0001",
		}
		assert.Equal(t, ExitDriftWarning, GetExitCode(exitForOutcome(run)))
	})

	t.Run("merged with findings exits warning", func(t *testing.T) {
		run := &workflow.Run{
			Outcome:  report.OutcomeCleanMerge,
			Findings: []drift.Finding{{Path: "src/gate.py", Severity: drift.SeverityWarning}},
		}
		assert.Equal(t, ExitDriftWarning, GetExitCode(exitForOutcome(run)))
	})
}

func TestOutputFormatter_WriteJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.WriteJSON([]byte(`{"a":1}`)))
	assert.Equal(t, "{\"a\":1}\n", buf.String())
}

func TestOutputFormatter_WriteValue(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.WriteValue(map[string]int{"a": 1}))
	assert.Contains(t, buf.String(), "\"a\": 1")
}
