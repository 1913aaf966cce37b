// Package report builds the structured, machine-readable WorkflowRun
// report every terminal state produces.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/roach88/upsync/internal/drift"
)

// Outcome is the terminal result code of a workflow run.
type Outcome string

const (
	OutcomeNoOp         Outcome = "NO_OP"
	OutcomeDriftBlocked Outcome = "DRIFT_BLOCKED"
	OutcomeCleanMerge   Outcome = "CLEAN_MERGE"
	OutcomeUnresolved   Outcome = "UNRESOLVED"
	OutcomeCheckOnly    Outcome = "CHECK_ONLY"
	OutcomeAborted      Outcome = "ABORTED"
)

// Report is the structured output of one workflow run, consumable by an
// external notification or CI layer.
type Report struct {
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Outcome      Outcome         `json:"outcome"`
	State        string          `json:"state"`
	Branch       string          `json:"branch"`
	Upstream     string          `json:"upstream"`
	Ahead        int             `json:"ahead"`
	Behind       int             `json:"behind"`
	Drift        []drift.Finding `json:"drift"`
	Resolved     []string        `json:"resolved_paths"`
	Unresolved   []string        `json:"unresolved_paths"`
	Regenerated  []string        `json:"regenerated_paths"`
	BackupRef    string          `json:"backup_ref,omitempty"`
	UpdateBranch string          `json:"update_branch,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// WorstDrift returns the highest drift severity in the report.
func (r *Report) WorstDrift() drift.Severity {
	return drift.Worst(r.Drift)
}

// RenderText writes the human-readable form of the report.
func RenderText(w io.Writer, r *Report) {
	fmt.Fprintf(w, "run %s: %s\n", r.RunID, r.Outcome)
	fmt.Fprintf(w, "  branch:   %s (ahead %d, behind %d of %s)\n", r.Branch, r.Ahead, r.Behind, r.Upstream)
	if r.BackupRef != "" {
		fmt.Fprintf(w, "  backup:   %s\n", r.BackupRef)
	}
	if r.UpdateBranch != "" {
		fmt.Fprintf(w, "  update:   %s\n", r.UpdateBranch)
	}

	if len(r.Drift) > 0 {
		fmt.Fprintf(w, "  drift (%s):\n", r.WorstDrift())
		for _, f := range r.Drift {
			fmt.Fprintf(w, "    %-8s %s", f.Severity, f.Path)
			if len(f.Matched) > 0 {
				fmt.Fprintf(w, "  [%s]", joinComma(f.Matched))
			}
			fmt.Fprintln(w)
		}
	}

	for _, p := range r.Resolved {
		fmt.Fprintf(w, "  resolved:     %s\n", p)
	}
	for _, p := range r.Regenerated {
		fmt.Fprintf(w, "  regenerated:  %s\n", p)
	}
	for _, p := range r.Unresolved {
		fmt.Fprintf(w, "  UNRESOLVED:   %s\n", p)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
