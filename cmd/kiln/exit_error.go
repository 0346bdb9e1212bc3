// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/kiln-pm/kiln/internal/lifecycle"
)

const (
	// ExitFailure is the generic failure code.
	ExitFailure = 1
	// ExitUsage reports bad arguments or an unknown name.
	ExitUsage = 2
	// ExitSecurity reports a checksum or signature failure.
	ExitSecurity = 3
	// ExitPartial reports an aggregate run in which some items failed.
	ExitPartial = 4
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCodeFor classifies a pipeline error.
func exitCodeFor(err error) int {
	switch {
	case lifecycle.IsSecurityRelevant(err):
		return ExitSecurity
	case errors.Is(err, errUnknownArtifact), errors.Is(err, lifecycle.ErrUnknownFeature):
		return ExitUsage
	default:
		return ExitFailure
	}
}
