// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"fmt"
	"maps"

	"github.com/kiln-pm/kiln/pkg/version"
)

// maxTrail bounds Status.Trail; older entries are dropped first.
const maxTrail = 256

// Status caches pipeline results for one artifact. It performs no I/O and
// has no locking: the Orchestrator guarantees a single writer per artifact.
//
// Each field is written by its stage and overwritten (last write wins) when
// the stage re-runs under force. Flush resets everything.
type Status struct {
	Installer InstallerKind
	Fetched   string
	Extracted string
	// Prereqs maps artifact names to minimum versions, from bundle
	// manifests and builder prerequisite scans.
	Prereqs     map[string]version.Version
	Signature   Verdict
	Checksum    Verdict
	Prepared    bool
	Created     bool
	Tested      Verdict
	Installed   bool
	Uninstalled bool
	Readme      string
	// Dist is the distribution handle returned by Build.
	Dist string
	// Overrides records stages that were bypassed rather than run, with the reason.
	Overrides map[Stage]string
	Warnings  []error
	Trail     []string
}

func newStatus() *Status {
	return &Status{
		Prereqs:   map[string]version.Version{},
		Overrides: map[Stage]string{},
	}
}

// Flush resets every field to its initial state.
func (s *Status) Flush() {
	*s = *newStatus()
}

// Override records that stage was bypassed for reason.
func (s *Status) Override(stage Stage, reason string) {
	s.Overrides[stage] = reason
}

func (s *Status) bypassed(stage Stage) bool {
	_, ok := s.Overrides[stage]
	return ok
}

// Warn records a recoverable problem.
func (s *Status) Warn(err error) {
	s.Warnings = append(s.Warnings, err)
	s.Note("warning: " + err.Error())
}

// Note appends a line to the bounded trail.
func (s *Status) Note(msg string) {
	if len(s.Trail) >= maxTrail {
		s.Trail = s.Trail[len(s.Trail)-maxTrail+1:]
	}
	s.Trail = append(s.Trail, msg)
}

// Notef is Note with formatting.
func (s *Status) Notef(format string, args ...any) {
	s.Note(fmt.Sprintf(format, args...))
}

// MergePrereqs raises each recorded minimum to the highest one seen.
func (s *Status) MergePrereqs(reqs map[string]version.Version) {
	for name, v := range reqs {
		s.Prereqs[name] = version.Max(s.Prereqs[name], v)
	}
}

// Snapshot returns a deep copy safe to hand to readers on other goroutines.
func (s *Status) Snapshot() Status {
	c := *s
	c.Prereqs = maps.Clone(s.Prereqs)
	c.Overrides = maps.Clone(s.Overrides)
	c.Warnings = append([]error(nil), s.Warnings...)
	c.Trail = append([]string(nil), s.Trail...)
	return c
}

// Validate checks that every later stage recorded as done rests on the
// stages it depends on, unless those were bypassed.
func (s *Status) Validate() error {
	type dep struct {
		done     bool
		stage    Stage
		requires bool
		on       Stage
	}
	deps := []dep{
		{s.Extracted != "", StageExtract, s.Fetched != "", StageFetch},
		{s.Installer != InstallerNone, StageClassify, s.Extracted != "", StageExtract},
		{s.Prepared, StagePrepare, s.Installer != InstallerNone, StageClassify},
		{s.Created, StageCreate, s.Prepared, StagePrepare},
		{s.Installed, StageInstall, s.Created, StageCreate},
	}
	for _, d := range deps {
		if d.done && !d.requires && !s.bypassed(d.on) {
			return fmt.Errorf("%w: %s recorded without %s", ErrPreconditionFailed, d.stage, d.on)
		}
	}
	return nil
}

// invalidate clears the results that a forced run re-executes. The build
// system choice, prerequisites and trail are kept.
func (s *Status) invalidate() {
	s.Fetched = ""
	s.Extracted = ""
	s.Checksum = VerdictUnset
	s.Signature = VerdictUnset
	s.Prepared = false
	s.Created = false
	s.Tested = VerdictUnset
	s.Installed = false
	s.Readme = ""
	s.Dist = ""
	clear(s.Overrides)
}
