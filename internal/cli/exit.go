package cli

import (
	"errors"
	"fmt"

	"github.com/leshsec/lesh/internal/client"
)

// notFoundExitCode is the process exit code for commands that name a record
// the agent does not have, so scripts can branch on missing vs. failed.
const notFoundExitCode = 4

// exitCodeForClientError maps a missing-record error from the agent to an
// ExitError; every other error passes through unchanged.
func exitCodeForClientError(err error) error {
	if errors.Is(err, client.ErrNotFound) {
		return &ExitError{code: notFoundExitCode, message: err.Error()}
	}
	return err
}

// ExitError is returned by commands that want to control the process exit code
// without necessarily printing an additional error message.
type ExitError struct {
	code    int
	message string
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
