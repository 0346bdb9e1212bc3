// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/charmbracelet/log"
)

// Reserved scopes. Any other scope names a feature.
const (
	ScopeCore         = "core"
	ScopeDependencies = "dependencies"
	ScopeFeatures     = "features"
	ScopeAll          = "all"
)

type (
	// Resolver maps scopes to requirements. It holds no state besides its
	// fixed table and never mutates catalog artifacts.
	Resolver struct {
		table   Table
		catalog lifecycle.Catalog
		cfg     *config.Config
		logger  *log.Logger
	}

	// ResolverOption configures a Resolver.
	ResolverOption func(*Resolver)

	// Resolution is the outcome of resolving one scope.
	Resolution struct {
		// Requirements are in resolution order with duplicates merged into
		// their first position at the highest minimum seen.
		Requirements []lifecycle.Requirement
		// Missing lists names the catalog could not resolve.
		Missing []string
	}

	// FeatureInfo describes a feature for listings.
	FeatureInfo struct {
		Name        string
		Description string
		Enabled     bool
		Requires    map[string]version.Version
	}
)

// WithLogger sets the resolver's logger.
func WithLogger(l *log.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver over table.
func NewResolver(table Table, catalog lifecycle.Catalog, cfg *config.Config, opts ...ResolverOption) *Resolver {
	r := &Resolver{table: table, catalog: catalog, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	if r.cfg == nil {
		r.cfg = config.DefaultConfig()
	}
	return r
}

// Resolve maps scope to requirements. ScopeAll resolves core first, then
// dependencies, then enabled features. A feature named explicitly is
// resolved whether or not it is enabled. An unknown scope fails with
// lifecycle.ErrUnknownFeature.
func (r *Resolver) Resolve(scope string) (Resolution, error) {
	var sets []map[string]version.Version
	switch scope {
	case ScopeCore:
		sets = append(sets, r.table.Core.Resolve(r.cfg))
	case ScopeDependencies:
		sets = append(sets, r.table.Dependencies.Resolve(r.cfg))
	case ScopeFeatures:
		sets = r.enabledSets()
	case ScopeAll:
		sets = append(sets, r.table.Core.Resolve(r.cfg), r.table.Dependencies.Resolve(r.cfg))
		sets = append(sets, r.enabledSets()...)
	default:
		f, ok := r.feature(scope)
		if !ok {
			return Resolution{}, fmt.Errorf("%w: %q", lifecycle.ErrUnknownFeature, scope)
		}
		if !r.enabled(f) {
			r.logger.Info("feature is disabled, resolving its requirements anyway", "feature", f.Name)
		}
		sets = append(sets, f.Requires.Resolve(r.cfg))
	}
	return r.lookup(sets), nil
}

func (r *Resolver) enabledSets() []map[string]version.Version {
	var sets []map[string]version.Version
	for _, f := range r.table.Features {
		if r.enabled(f) {
			sets = append(sets, f.Requires.Resolve(r.cfg))
		}
	}
	return sets
}

// lookup resolves names set by set, each set in name order.
func (r *Resolver) lookup(sets []map[string]version.Version) Resolution {
	var res Resolution
	pos := map[string]int{}
	missing := map[string]bool{}
	for _, set := range sets {
		for _, name := range slices.Sorted(maps.Keys(set)) {
			want := set[name]
			if i, ok := pos[name]; ok {
				res.Requirements[i].Required = version.Max(res.Requirements[i].Required, want)
				continue
			}
			if missing[name] {
				continue
			}
			a, ok := r.catalog.Lookup(name)
			if !ok {
				missing[name] = true
				res.Missing = append(res.Missing, name)
				r.logger.Warn("required artifact not in catalog", "artifact", name)
				continue
			}
			pos[name] = len(res.Requirements)
			res.Requirements = append(res.Requirements, lifecycle.Require(a, want))
		}
	}
	return res
}

// enabled applies the config's recorded choice, falling back to the
// feature's predicate.
func (r *Resolver) enabled(f Feature) bool {
	if choice, ok := r.cfg.FeatureChoice(f.Name); ok {
		return choice
	}
	return f.Enabled != nil && f.Enabled(r.cfg)
}

func (r *Resolver) feature(name string) (Feature, bool) {
	for _, f := range r.table.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// Features lists the feature table in declaration order.
func (r *Resolver) Features() []FeatureInfo {
	out := make([]FeatureInfo, 0, len(r.table.Features))
	for _, f := range r.table.Features {
		out = append(out, FeatureInfo{
			Name:        f.Name,
			Description: f.Description,
			Enabled:     r.enabled(f),
			Requires:    f.Requires.Resolve(r.cfg),
		})
	}
	return out
}

// EnabledFeatures lists the names of enabled features.
func (r *Resolver) EnabledFeatures() []string {
	var names []string
	for _, f := range r.table.Features {
		if r.enabled(f) {
			names = append(names, f.Name)
		}
	}
	return names
}
