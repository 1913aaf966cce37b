package gitx

import (
	"errors"
	"fmt"
)

// FetchError indicates the upstream remote was unreachable.
//
// Fetch failures are fatal and never retried: the workflow surfaces the
// error before any further mutation so the repository is left exactly as
// it was found.
type FetchError struct {
	Remote string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Remote, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
