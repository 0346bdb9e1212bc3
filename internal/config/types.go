// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// ScopeUser installs into the invoking user's prefix.
	ScopeUser Scope = "user"
	// ScopeSite installs into a host-wide prefix.
	ScopeSite Scope = "site"

	// PrereqFollow installs unsatisfied build prerequisites before building.
	PrereqFollow PrereqPolicy = "follow"
	// PrereqIgnore builds without looking at prerequisites.
	PrereqIgnore PrereqPolicy = "ignore"
)

var (
	// ErrInvalidScope is returned when a Scope value is not recognized.
	ErrInvalidScope = errors.New("invalid install scope")
	// ErrInvalidPrereqPolicy is returned when a PrereqPolicy value is not recognized.
	ErrInvalidPrereqPolicy = errors.New("invalid prerequisite policy")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Scope selects which installed-index partition and prefix an operation targets.
	Scope string

	// PrereqPolicy controls what happens to build prerequisites discovered after Prepare.
	PrereqPolicy string

	// InvalidConfigError reports a field whose value is outside its allowed set.
	InvalidConfigError struct {
		Field string
		Err   error
	}

	// Config is the host configuration consulted by every lifecycle stage.
	Config struct {
		// Prefix is the installation root for the user scope.
		Prefix string `json:"prefix" mapstructure:"prefix"`
		// Scope is the default install scope.
		Scope Scope `json:"scope" mapstructure:"scope"`
		// StateDir holds downloads, build trees and the installed index.
		StateDir string `json:"state_dir" mapstructure:"state_dir"`
		// Catalog is the path of the catalog index file (catalog.cue).
		Catalog string `json:"catalog" mapstructure:"catalog"`
		// Mirrors are base URLs tried in order when fetching archives.
		Mirrors []string `json:"mirrors" mapstructure:"mirrors"`
		// PreferMake prefers the Makefile builder when both descriptors exist.
		PreferMake bool `json:"prefer_make" mapstructure:"prefer_make"`
		// Force re-executes every stage regardless of cached results.
		Force bool `json:"force" mapstructure:"force"`
		// Verbose enables debug logging.
		Verbose bool `json:"verbose" mapstructure:"verbose"`
		// SkipTest skips the test run after Create.
		SkipTest bool `json:"skip_test" mapstructure:"skip_test"`
		// SignatureRequired verifies the extracted tree's signed manifest.
		SignatureRequired bool `json:"signature_required" mapstructure:"signature_required"`
		// ChecksumRequired validates fetched archives against the mirror's CHECKSUMS file.
		ChecksumRequired bool `json:"checksum_required" mapstructure:"checksum_required"`
		// PrereqPolicy controls prerequisite following.
		PrereqPolicy PrereqPolicy `json:"prereq_policy" mapstructure:"prereq_policy"`
		// Jobs bounds how many bundle members install concurrently.
		Jobs int `json:"jobs" mapstructure:"jobs"`
		// Features records preferred feature choices, overriding feature predicates.
		Features map[string]bool `json:"features" mapstructure:"features"`

		Builders  BuildersConfig  `json:"builders" mapstructure:"builders"`
		Signature SignatureConfig `json:"signature" mapstructure:"signature"`
		Git       GitConfig       `json:"git" mapstructure:"git"`
		Report    ReportConfig    `json:"report" mapstructure:"report"`
		HTTP      HTTPConfig      `json:"http" mapstructure:"http"`
	}

	// BuildersConfig configures the two builder backends.
	BuildersConfig struct {
		Make   MakeConfig   `json:"make" mapstructure:"make"`
		Script ScriptConfig `json:"script" mapstructure:"script"`
	}

	// MakeConfig configures the Makefile builder.
	MakeConfig struct {
		// Binary is the make executable looked up on PATH.
		Binary string `json:"binary" mapstructure:"binary"`
	}

	// ScriptConfig configures the build.cue builder.
	ScriptConfig struct {
		Enabled bool `json:"enabled" mapstructure:"enabled"`
	}

	// SignatureConfig configures signature verification.
	SignatureConfig struct {
		// GPGBinary is the external signing tool; when missing the library verifier is used.
		GPGBinary string `json:"gpg_binary" mapstructure:"gpg_binary"`
		// Keyring is an armored public keyring used by the library verifier.
		Keyring string `json:"keyring" mapstructure:"keyring"`
	}

	// GitConfig toggles fetching from git+ package ids.
	GitConfig struct {
		Enabled bool `json:"enabled" mapstructure:"enabled"`
	}

	// ReportConfig configures test-report submission.
	ReportConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		URL     string `json:"url" mapstructure:"url"`
	}

	// HTTPConfig configures the HTTP fetch client.
	HTTPConfig struct {
		Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
		UserAgent string        `json:"user_agent" mapstructure:"user_agent"`
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config field %s: %v", e.Field, e.Err)
}

// Unwrap returns both ErrInvalidConfig and the field-level cause.
func (e *InvalidConfigError) Unwrap() []error { return []error{ErrInvalidConfig, e.Err} }

// IsValid reports whether the scope is one of the known scopes.
func (s Scope) IsValid() bool { return s == ScopeUser || s == ScopeSite }

// String returns the string representation of the Scope.
func (s Scope) String() string { return string(s) }

// IsValid reports whether the policy is one of the known policies.
func (p PrereqPolicy) IsValid() bool { return p == PrereqFollow || p == PrereqIgnore }

// String returns the string representation of the PrereqPolicy.
func (p PrereqPolicy) String() string { return string(p) }

// Validate checks constraints that the CUE schema cannot see, such as values
// arriving through environment overrides.
func (c *Config) Validate() error {
	if !c.Scope.IsValid() {
		return &InvalidConfigError{Field: "scope", Err: fmt.Errorf("%w: %q", ErrInvalidScope, c.Scope)}
	}
	if !c.PrereqPolicy.IsValid() {
		return &InvalidConfigError{Field: "prereq_policy", Err: fmt.Errorf("%w: %q", ErrInvalidPrereqPolicy, c.PrereqPolicy)}
	}
	if c.Jobs < 1 {
		return &InvalidConfigError{Field: "jobs", Err: fmt.Errorf("must be at least 1, got %d", c.Jobs)}
	}
	if c.Report.Enabled && c.Report.URL == "" {
		return &InvalidConfigError{Field: "report.url", Err: errors.New("required when report.enabled is true")}
	}
	return nil
}

// FeatureChoice returns the preferred choice recorded for a feature and
// whether one was recorded at all.
func (c *Config) FeatureChoice(name string) (enabled, ok bool) {
	enabled, ok = c.Features[name]
	return enabled, ok
}

// DefaultConfig returns the built-in defaults. Paths are left empty and
// resolved against the user's home directory at load time.
func DefaultConfig() *Config {
	return &Config{
		Scope:            ScopeUser,
		Mirrors:          []string{},
		ChecksumRequired: true,
		PrereqPolicy:     PrereqFollow,
		Jobs:             1,
		Features:         map[string]bool{},
		Builders: BuildersConfig{
			Make:   MakeConfig{Binary: "make"},
			Script: ScriptConfig{Enabled: true},
		},
		Signature: SignatureConfig{GPGBinary: "gpg"},
		Git:       GitConfig{Enabled: true},
		HTTP: HTTPConfig{
			Timeout:   60 * time.Second,
			UserAgent: "kiln/dev",
		},
	}
}
