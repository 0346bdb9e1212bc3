// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionFailed is returned when a stage runs before the stage it depends on.
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrFetch              = errors.New("fetch failed")
	ErrExtract            = errors.New("extract failed")
	// ErrChecksumMismatch marks a fetched file that failed digest validation.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUntrustedArtifact marks an extracted tree that failed signature verification.
	ErrUntrustedArtifact = errors.New("untrusted artifact")
	// ErrClassificationAmbiguous is a warning: the build system was chosen by fallback.
	ErrClassificationAmbiguous = errors.New("build system chosen by fallback")
	// ErrProtectedArtifact is returned for runtime-core artifacts that already satisfy their requirement.
	ErrProtectedArtifact = errors.New("protected core artifact")
	ErrNotInstalled      = errors.New("not installed")
	ErrUnknownFeature    = errors.New("unknown feature")
	ErrBuildFailed       = errors.New("build failed")
	ErrInstallFailed     = errors.New("install failed")
	// ErrUnresolvedMember is a warning: a bundle lists a name the catalog does not know.
	ErrUnresolvedMember = errors.New("unresolved bundle member")
	// ErrPrereqCycle is a warning: a prerequisite chain leads back to itself.
	ErrPrereqCycle = errors.New("prerequisite cycle")
)

// Error is a failure (or warning) attributed to one artifact and stage.
// Kind is one of the package sentinels.
type Error struct {
	Kind     error
	Artifact string
	Stage    Stage
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Artifact, e.Stage, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsSecurityRelevant reports whether err carries a checksum or signature
// failure. Such errors must surface as failures, never as warnings.
func IsSecurityRelevant(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrUntrustedArtifact)
}

func newError(kind error, a *Artifact, stage Stage, cause error) *Error {
	name := ""
	if a != nil {
		name = a.Name
	}
	return &Error{Kind: kind, Artifact: name, Stage: stage, Err: cause}
}
