// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"maps"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/pkg/version"
)

const (
	requirementsStatic requirementsKind = iota
	requirementsComputed
)

type (
	requirementsKind int

	// Requirements produces artifact names with minimum versions. It is
	// either a fixed map or computed from the host configuration.
	Requirements struct {
		kind    requirementsKind
		static  map[string]version.Version
		compute func(*config.Config) map[string]version.Version
	}

	// Feature is an optional capability of kiln and the artifacts it needs.
	Feature struct {
		Name        string
		Description string
		Requires    Requirements
		// Enabled decides whether the feature is active when the config
		// records no explicit choice for it.
		Enabled func(*config.Config) bool
	}

	// Table is the fixed set of requirements the resolver draws from.
	Table struct {
		Core         Requirements
		Dependencies Requirements
		Features     []Feature
	}
)

// Static returns requirements that do not depend on configuration.
func Static(reqs map[string]version.Version) Requirements {
	return Requirements{kind: requirementsStatic, static: maps.Clone(reqs)}
}

// Computed returns requirements derived from configuration.
func Computed(fn func(*config.Config) map[string]version.Version) Requirements {
	return Requirements{kind: requirementsComputed, compute: fn}
}

// Resolve evaluates the requirements against cfg. The result may be empty.
func (r Requirements) Resolve(cfg *config.Config) map[string]version.Version {
	switch r.kind {
	case requirementsComputed:
		if r.compute == nil {
			return nil
		}
		return r.compute(cfg)
	default:
		return maps.Clone(r.static)
	}
}

func atLeast(s string) version.Version { return version.MustParse(s) }

// DefaultTable is kiln's own requirement table. coreVersion is the running
// kiln version; a zero version requires any installed core.
func DefaultTable(coreVersion version.Version) Table {
	return Table{
		Core: Static(map[string]version.Version{
			"kiln-core": coreVersion,
		}),
		Dependencies: Computed(func(cfg *config.Config) map[string]version.Version {
			deps := map[string]version.Version{"tar": atLeast("1.30")}
			if cfg.Builders.Make.Binary == "make" {
				deps["make"] = atLeast("4.0")
			}
			return deps
		}),
		Features: []Feature{
			{
				Name:        "signatures",
				Description: "Verify signed MANIFEST files with GnuPG",
				Requires:    Static(map[string]version.Version{"gnupg": atLeast("2.2")}),
				Enabled:     func(cfg *config.Config) bool { return cfg.SignatureRequired },
			},
			{
				Name:        "git",
				Description: "Fetch artifacts from git+ package ids",
				Requires:    Static(map[string]version.Version{"git": atLeast("2.30")}),
				Enabled:     func(cfg *config.Config) bool { return cfg.Git.Enabled },
			},
			{
				Name:        "make-builder",
				Description: "Prefer Makefile builds over build.cue",
				Requires: Computed(func(cfg *config.Config) map[string]version.Version {
					if cfg.Builders.Make.Binary != "make" {
						return nil
					}
					return map[string]version.Version{"make": atLeast("4.3")}
				}),
				Enabled: func(cfg *config.Config) bool { return cfg.PreferMake },
			},
			{
				Name:        "reports",
				Description: "Submit test reports to a collector",
				Requires:    Static(nil),
				Enabled:     func(cfg *config.Config) bool { return cfg.Report.Enabled },
			},
		},
	}
}
