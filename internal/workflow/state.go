package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/upsync/internal/analyze"
	"github.com/roach88/upsync/internal/drift"
	"github.com/roach88/upsync/internal/gitx"
	"github.com/roach88/upsync/internal/report"
)

// State is one node of the orchestrator state machine.
type State string

const (
	StateInit               State = "INIT"
	StateBackedUp           State = "BACKED_UP"
	StateFetched            State = "FETCHED"
	StateAnalyzed           State = "ANALYZED"
	StateNoOp               State = "NO_OP"
	StateDriftBlocked       State = "DRIFT_BLOCKED"
	StateMerging            State = "MERGING"
	StateConflictsResolving State = "CONFLICTS_RESOLVING"
	StateCleanMerge         State = "CLEAN_MERGE"
	StateUnresolved         State = "UNRESOLVED"
	StateReported           State = "REPORTED"
)

// transitions is the complete edge set of the state machine. Any
// transition not listed here is a bug, not a recoverable condition.
var transitions = map[State][]State{
	StateInit:               {StateBackedUp, StateFetched},
	StateBackedUp:           {StateFetched},
	StateFetched:            {StateAnalyzed},
	StateAnalyzed:           {StateNoOp, StateDriftBlocked, StateMerging, StateReported},
	StateNoOp:               {StateReported},
	StateDriftBlocked:       {StateReported},
	StateMerging:            {StateConflictsResolving, StateReported},
	StateConflictsResolving: {StateCleanMerge, StateUnresolved, StateReported},
	StateCleanMerge:         {StateReported},
	StateUnresolved:         {StateReported},
}

// Run is the record of one workflow execution. Owned exclusively by the
// Runner and mutated only through state transitions; a new execution
// always creates a new Run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      State

	Snapshot   gitx.Snapshot
	Divergence analyze.Report
	Findings   []drift.Finding

	BackupRef    string
	UpdateBranch string

	Resolved    []string
	Regenerated []string
	Unresolved  []string

	Outcome report.Outcome
	Err     error
}

// to moves the run to the next state, enforcing the edge set.
func (run *Run) to(next State) error {
	for _, allowed := range transitions[run.State] {
		if next == allowed {
			slog.Info("workflow transition", "run", run.ID, "from", run.State, "to", next)
			run.State = next
			return nil
		}
	}
	return fmt.Errorf("workflow: illegal transition %s -> %s", run.State, next)
}

// Report builds the structured terminal report for the run.
func (run *Run) Report() *report.Report {
	r := &report.Report{
		RunID:        run.ID,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Outcome:      run.Outcome,
		State:        string(run.State),
		Branch:       run.Snapshot.Branch,
		Upstream:     run.Snapshot.Upstream,
		Ahead:        run.Divergence.Ahead,
		Behind:       run.Divergence.Behind,
		Drift:        run.Findings,
		Resolved:     run.Resolved,
		Unresolved:   run.Unresolved,
		Regenerated:  run.Regenerated,
		BackupRef:    run.BackupRef,
		UpdateBranch: run.UpdateBranch,
	}
	if run.Err != nil {
		r.Error = run.Err.Error()
	}
	return r
}
