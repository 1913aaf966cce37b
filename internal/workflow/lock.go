package workflow

import (
	"fmt"

	"github.com/gofrs/flock"
)

// acquireLock takes the exclusive run lock for a repository. The lock
// covers the working tree and the upsync ref namespace; a second run
// against the same repository fails fast with BusyError rather than
// queueing. The lock is released automatically if the process dies.
func acquireLock(path string) (release func(), err error) {
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("workflow: acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, &BusyError{LockPath: path}
	}

	return func() { _ = fl.Unlock() }, nil
}
