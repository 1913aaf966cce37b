package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands, per the sync contract: 0 is success or
// no-op, 1 is a non-fatal drift warning or unresolved merge, 2 is a
// critical drift block, everything above 2 is fatal.
const (
	ExitSuccess       = 0  // clean merge, no-op, clean check
	ExitDriftWarning  = 1  // drift warning or unresolved conflicts
	ExitDriftCritical = 2  // drift critical, run blocked
	ExitDirtyTree     = 3  // working tree not clean
	ExitFetchFailed   = 4  // upstream unreachable
	ExitRegenFailed   = 5  // artifact regeneration validation failure
	ExitBusy          = 6  // another run holds the repository lock
	ExitFatal         = 10 // any other fatal error
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // process exit code
	Message string // error message
	Err     error  // underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFatal if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFatal
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// WriteJSON emits pre-serialized JSON followed by a newline.
func (f *OutputFormatter) WriteJSON(body []byte) error {
	if _, err := f.Writer.Write(body); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.Writer)
	return err
}

// WriteValue emits a value as indented JSON.
func (f *OutputFormatter) WriteValue(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
