// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"fmt"
	"io"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/charmbracelet/log"
)

type (
	// Installer runs a requirement through the pipeline.
	Installer interface {
		InstallRequirement(ctx context.Context, r lifecycle.Requirement, opts lifecycle.Options) error
	}

	// VersionSource reports installed versions.
	VersionSource interface {
		InstalledVersion(name string) (version.Version, bool)
	}

	// Driver is the self-update entry point.
	Driver struct {
		resolver  *Resolver
		installer Installer
		installed VersionSource
		logger    *log.Logger
	}

	// Failure is one artifact that could not be updated.
	Failure struct {
		Name string
		Err  error
	}

	// Summary reports what an update did, in resolution order.
	Summary struct {
		Attempted []string
		Skipped   []string
		Failed    []Failure
	}
)

// NewDriver creates a driver. installed may be nil, in which case nothing
// counts as installed.
func NewDriver(resolver *Resolver, installer Installer, installed VersionSource, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Driver{resolver: resolver, installer: installer, installed: installed, logger: logger}
}

// OK reports whether nothing failed.
func (s Summary) OK() bool { return len(s.Failed) == 0 }

func (s Summary) String() string {
	return fmt.Sprintf("%d attempted, %d skipped, %d failed", len(s.Attempted), len(s.Skipped), len(s.Failed))
}

// Plan resolves scope and splits it into requirements to install and names
// to skip. Without useLatest, requirements the installed version already
// satisfies are skipped; a missing artifact counts as version zero, so a
// requirement with no minimum is always satisfied. With useLatest every requirement is raised to the
// catalog's version and kept.
func (d *Driver) Plan(scope string, useLatest bool) (todo []lifecycle.Requirement, skipped []string, res Resolution, err error) {
	res, err = d.resolver.Resolve(scope)
	if err != nil {
		return nil, nil, res, err
	}
	for _, req := range res.Requirements {
		if useLatest {
			req.Required = version.Max(req.Required, req.Version)
			todo = append(todo, req)
			continue
		}
		if req.SatisfiedBy(d.installedVersion(req.Name)) {
			skipped = append(skipped, req.Name)
			continue
		}
		todo = append(todo, req)
	}
	return todo, skipped, res, nil
}

// Update installs what scope requires, one artifact at a time in resolved
// order. A failing artifact does not stop the rest. The returned error is
// only set when scope itself cannot be resolved; per-artifact failures are
// in the Summary.
func (d *Driver) Update(ctx context.Context, scope string, useLatest, force bool) (Summary, error) {
	todo, skipped, res, err := d.Plan(scope, useLatest)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Skipped: skipped}
	for _, name := range res.Missing {
		sum.Failed = append(sum.Failed, Failure{Name: name, Err: fmt.Errorf("%s: not in catalog", name)})
	}
	for _, name := range skipped {
		d.logger.Debug("already sufficient", "artifact", name)
	}

	for _, req := range todo {
		sum.Attempted = append(sum.Attempted, req.Name)
		d.logger.Info("updating", "artifact", req.Name, "required", req.Required)
		if err := d.installer.InstallRequirement(ctx, req, lifecycle.Options{Force: force}); err != nil {
			sum.Failed = append(sum.Failed, Failure{Name: req.Name, Err: err})
			d.logger.Error("update failed", "artifact", req.Name, "err", err)
		}
	}

	d.logger.Info("self-update finished", "scope", scope, "summary", sum.String())
	return sum, nil
}

// installedVersion is the zero version when name is not installed.
func (d *Driver) installedVersion(name string) version.Version {
	if d.installed == nil {
		return version.Version{}
	}
	v, _ := d.installed.InstalledVersion(name)
	return v
}
