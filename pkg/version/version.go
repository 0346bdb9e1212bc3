// SPDX-License-Identifier: MPL-2.0

// Package version provides the ordered version value used to compare the
// version an artifact requires against the version a host has installed.
//
// Versions are semantic versions with an optional "v" prefix. Shorthand forms
// such as "1" or "1.2" are accepted and canonicalized ("v1.0.0", "v1.2.0").
// The zero Version stands for an absent version and compares below every
// other value, which makes the ordering total.
package version

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidVersion is the sentinel wrapped by InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid version")

// floor is the canonical value at or below which a version collapses to the
// zero Version.
const floor = "v0.0.0"

type (
	// Version is an immutable, comparable version value.
	Version struct {
		canonical string
		raw       string
	}

	// InvalidVersionError is returned when a string cannot be read as a version.
	InvalidVersionError struct {
		Value string
	}
)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q", e.Value)
}

// Unwrap returns ErrInvalidVersion so callers can use errors.Is.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Parse reads s as a version. The empty string yields the zero Version.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, nil
	}

	norm := raw
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) {
		return Version{}, &InvalidVersionError{Value: s}
	}

	canonical := semver.Canonical(norm)
	if semver.Compare(canonical, floor) <= 0 {
		return Version{}, nil
	}

	return Version{canonical: canonical, raw: raw}, nil
}

// MustParse is like Parse but panics on invalid input. Intended for static tables.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v is the absent (minimum) version.
func (v Version) IsZero() bool { return v.canonical == "" }

// String returns the version as it was written, or "0" for the zero Version.
func (v Version) String() string {
	if v.IsZero() {
		return "0"
	}
	return v.raw
}

// Canonical returns the "vMAJOR.MINOR.PATCH[-pre]" form, or "" for the zero Version.
func (v Version) Canonical() string { return v.canonical }

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to,
// or after w.
func (v Version) Compare(w Version) int {
	switch {
	case v.IsZero() && w.IsZero():
		return 0
	case v.IsZero():
		return -1
	case w.IsZero():
		return 1
	}
	return semver.Compare(v.canonical, w.canonical)
}

// Less reports whether v sorts before w.
func (v Version) Less(w Version) bool { return v.Compare(w) < 0 }

// Equal reports whether v and w denote the same version.
func (v Version) Equal(w Version) bool { return v.Compare(w) == 0 }

// MarshalText encodes the version for TOML and JSON documents.
func (v Version) MarshalText() ([]byte, error) {
	if v.IsZero() {
		return []byte{}, nil
	}
	return []byte(v.raw), nil
}

// UnmarshalText decodes a version written by MarshalText.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// IsSufficient reports whether installed satisfies required, i.e. installed >= required.
// An absent installed version is the minimum, so it only satisfies an absent requirement.
func IsSufficient(installed, required Version) bool {
	return installed.Compare(required) >= 0
}

// Max returns the greater of v and w.
func Max(v, w Version) Version {
	if v.Less(w) {
		return w
	}
	return v
}
