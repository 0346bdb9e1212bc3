// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"github.com/kiln-pm/kiln/pkg/version"
)

type (
	// Author is shared between artifacts and never owned by one.
	Author struct {
		ID    string
		Name  string
		Email string
	}

	// Artifact is an installable unit. Identity (Name, PackageID) is fixed at
	// construction by the catalog; the Status grows as stages complete.
	Artifact struct {
		Name string
		// PackageID locates the archive relative to a mirror, e.g.
		// "authors/J/JD/JDOE/zlib-1.3.tar.gz", or a "git+" URL.
		PackageID string
		// Version is what the catalog advertises.
		Version     version.Version
		Origin      string
		Description string
		Author      *Author
		// Bundle marks an aggregate whose extracted tree lists further artifacts.
		Bundle bool
		// Core marks artifacts owned by the managing runtime.
		Core bool
		// ChecksumFile marks the checksum catalog itself, which is not
		// validated against itself.
		ChecksumFile bool

		status *Status
	}

	// Requirement decorates an artifact with the minimum version wanted in
	// one resolution context. The catalog's artifact is not modified, so the
	// same artifact can carry different requirements elsewhere.
	Requirement struct {
		*Artifact
		Required version.Version
	}
)

// Status returns the artifact's cache, creating it on first use.
func (a *Artifact) Status() *Status {
	if a.status == nil {
		a.status = newStatus()
	}
	return a.status
}

// HasStatus reports whether any stage has touched the artifact yet.
func (a *Artifact) HasStatus() bool {
	return a.status != nil
}

func (a *Artifact) String() string {
	if a.Version.IsZero() {
		return a.Name
	}
	return a.Name + "@" + a.Version.String()
}

// Require wraps a with a minimum version.
func Require(a *Artifact, required version.Version) Requirement {
	return Requirement{Artifact: a, Required: required}
}

// SatisfiedBy reports whether installed meets the requirement.
func (r Requirement) SatisfiedBy(installed version.Version) bool {
	return version.IsSufficient(installed, r.Required)
}
