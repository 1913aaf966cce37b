package workflow

import (
	"errors"
	"fmt"

	"github.com/roach88/upsync/internal/drift"
)

// DirtyTreeError indicates the working tree was not clean at workflow
// start. User-correctable precondition; no mutation was attempted.
type DirtyTreeError struct {
	Branch string
}

func (e *DirtyTreeError) Error() string {
	return fmt.Sprintf("working tree on %s is not clean; commit or stash before syncing", e.Branch)
}

// IsDirtyTreeError reports whether err is (or wraps) a DirtyTreeError.
func IsDirtyTreeError(err error) bool {
	var de *DirtyTreeError
	return errors.As(err, &de)
}

// BusyError indicates another workflow run holds the repository lock.
// Concurrent invocations fail fast; they are never queued.
type BusyError struct {
	LockPath string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("another sync is already running (lock %s held)", e.LockPath)
}

// IsBusyError reports whether err is (or wraps) a BusyError.
func IsBusyError(err error) bool {
	var be *BusyError
	return errors.As(err, &be)
}

// criticalCount counts CRITICAL findings, for the blocked log line.
func criticalCount(findings []drift.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Severity == drift.SeverityCritical {
			n++
		}
	}
	return n
}
