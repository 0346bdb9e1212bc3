// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/pkg/version"

	"golang.org/x/sync/errgroup"
)

// Orchestrator sequences the pipeline for artifacts sharing one Env. It
// serializes work per artifact name; distinct artifacts may run
// concurrently.
type Orchestrator struct {
	env *Env

	mu        sync.Mutex
	cond      *sync.Cond
	owner     map[string]*token
	waiting   map[*token]string
	joining   map[*token][]*token
	published map[string]Status
}

// NewOrchestrator creates an orchestrator over env.
func NewOrchestrator(env *Env) *Orchestrator {
	o := &Orchestrator{
		env:       env,
		owner:     map[string]*token{},
		waiting:   map[*token]string{},
		joining:   map[*token][]*token{},
		published: map[string]Status{},
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Env returns the environment the orchestrator runs against.
func (o *Orchestrator) Env() *Env { return o.env }

// InstallRequirement installs r.Artifact with r.Required as the minimum.
func (o *Orchestrator) InstallRequirement(ctx context.Context, r Requirement, opts Options) error {
	opts.Required = r.Required
	return o.Install(ctx, r.Artifact, opts)
}

// Install runs fetch, extract, classify, verify, build and install for a,
// skipping every stage whose cached result already satisfies the request.
// With force every stage re-runs.
//
// Runtime-core artifacts whose installed version already satisfies the
// requirement are never touched: without force the call succeeds with an
// ErrProtectedArtifact warning, with force it fails with ErrProtectedArtifact.
//
// Bundles install every listed member (best effort, up to Jobs at once)
// before the bundle itself; any member failure fails the bundle with
// ErrInstallFailed after all members were attempted.
func (o *Orchestrator) Install(ctx context.Context, a *Artifact, opts Options) error {
	c := chainFrom(ctx)
	if c.has(a.Name) {
		return newError(ErrPrereqCycle, a, StagePrepare, fmt.Errorf("via %v", c.names))
	}
	if !o.acquire(c.tok, a.Name) {
		return newError(ErrPrereqCycle, a, StagePrepare, errors.New("waiting on a concurrent install that waits on this one"))
	}
	defer o.release(a)

	err := o.install(withChain(ctx, c.with(a.Name)), a, opts)
	if err != nil {
		o.env.log().Error("install failed", "artifact", a.Name, "err", err)
	}
	return err
}

func (o *Orchestrator) install(ctx context.Context, a *Artifact, opts Options) error {
	env := o.env
	st := a.Status()
	force := opts.Force || env.cfg().Force

	if a.Core {
		skip, err := o.protect(a, opts.Required, force)
		if skip || err != nil {
			return err
		}
	}
	if !force {
		if st.Installed {
			return nil
		}
		if o.upToDate(a, opts.Required) {
			st.Note("already installed and up to date")
			return nil
		}
	}

	if force {
		st.invalidate()
		st.Note("forced: re-running every stage")
	}
	so := opts
	so.Force = false

	if err := a.Fetch(ctx, env, so); err != nil {
		return err
	}
	if err := a.Extract(ctx, env, so); err != nil {
		return err
	}

	aggregateOnly := false
	if a.Bundle && st.Installer == InstallerNone {
		hasMake, hasScript := a.descriptors()
		aggregateOnly = !hasMake && !hasScript
	}
	if !aggregateOnly {
		if err := a.Classify(ctx, env); err != nil {
			return err
		}
	}
	if err := a.VerifySignature(ctx, env, so); err != nil {
		return err
	}

	if a.Bundle {
		members, err := ExpandBundle(a, env)
		if err != nil {
			return err
		}
		if err := o.installMembers(ctx, a, members, opts); err != nil {
			return err
		}
	}

	if aggregateOnly {
		for _, s := range []Stage{StageClassify, StagePrepare, StageCreate} {
			st.Override(s, "bundle without build descriptor")
		}
		if err := a.record(env, so, nil, nil); err != nil {
			return err
		}
		st.Installed = true
		st.Uninstalled = false
		env.log().Info("installed bundle", "artifact", a.Name)
		return nil
	}

	if _, err := a.Build(ctx, env, TargetPrepare, so); err != nil {
		return err
	}
	if err := o.followPrereqs(ctx, a, opts); err != nil {
		return err
	}
	if _, err := a.Build(ctx, env, TargetCreate, so); err != nil {
		return err
	}
	if err := a.InstallBuilt(ctx, env, so); err != nil {
		return err
	}
	env.log().Info("installed", "artifact", a.Name, "version", a.Version)
	return nil
}

// protect applies the runtime-core policy. It reports skip when the
// artifact must not be touched.
func (o *Orchestrator) protect(a *Artifact, required version.Version, force bool) (skip bool, err error) {
	installed := o.installedVersion(a.Name)
	if !version.IsSufficient(installed, required) {
		return false, nil
	}
	perr := newError(ErrProtectedArtifact, a, StageInstall,
		fmt.Errorf("installed %s satisfies %s; core artifacts are only ever upgraded", installed, required))
	if force {
		return true, perr
	}
	o.env.warn(a, perr)
	return true, nil
}

// upToDate reports whether the index already holds a version meeting
// required, or the catalog version when no requirement was given.
func (o *Orchestrator) upToDate(a *Artifact, required version.Version) bool {
	if o.env.Index == nil {
		return false
	}
	installed, ok := o.env.Index.InstalledVersion(a.Name)
	if !ok {
		return false
	}
	if required.IsZero() {
		required = a.Version
	}
	return version.IsSufficient(installed, required)
}

func (o *Orchestrator) installedVersion(name string) version.Version {
	if o.env.Index == nil {
		return version.Version{}
	}
	v, _ := o.env.Index.InstalledVersion(name)
	return v
}

func childOptions(opts Options, required version.Version) Options {
	return Options{Scope: opts.Scope, SkipTest: opts.SkipTest, Required: required}
}

// installMembers installs every member, up to Jobs at a time, and returns
// only after all of them finished.
func (o *Orchestrator) installMembers(ctx context.Context, parent *Artifact, members []Requirement, opts Options) error {
	if len(members) == 0 {
		return nil
	}
	c := chainFrom(ctx)
	errs := make([]error, len(members))
	kids := make([]chain, len(members))
	for i := range kids {
		kids[i] = c.fork()
	}
	o.join(c.tok, kids)
	defer o.unjoin(c.tok)

	var g errgroup.Group
	g.SetLimit(max(1, o.env.cfg().Jobs))
	for i, m := range members {
		g.Go(func() error {
			errs[i] = o.Install(withChain(ctx, kids[i]), m.Artifact, childOptions(opts, m.Required))
			return nil
		})
	}
	_ = g.Wait()

	return o.collect(parent, StageExpand, ErrInstallFailed, errs)
}

// followPrereqs installs recorded prerequisites that are not yet satisfied.
func (o *Orchestrator) followPrereqs(ctx context.Context, a *Artifact, opts Options) error {
	env := o.env
	if env.cfg().PrereqPolicy != config.PrereqFollow {
		return nil
	}
	st := a.Status()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(st.Prereqs)) {
		if name == a.Name {
			continue
		}
		var dep *Artifact
		ok := false
		if env.Catalog != nil {
			dep, ok = env.Catalog.Lookup(name)
		}
		if !ok {
			env.warn(a, newError(ErrUnresolvedMember, a, StagePrepare, fmt.Errorf("prerequisite %q not in catalog", name)))
			continue
		}
		errs = append(errs, o.Install(ctx, dep, childOptions(opts, st.Prereqs[name])))
	}
	return o.collect(a, StagePrepare, ErrBuildFailed, errs)
}

// collect turns child errors into one parent error of kind. Cycles are
// recorded as warnings on the parent.
func (o *Orchestrator) collect(parent *Artifact, stage Stage, kind error, errs []error) error {
	var failed []error
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrPrereqCycle):
			o.env.warn(parent, err)
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	parent.Status().Notef("%d of %d dependencies failed", len(failed), len(errs))
	return newError(kind, parent, stage, errors.Join(failed...))
}

// Uninstall removes an installed artifact. Runtime-core artifacts are refused.
func (o *Orchestrator) Uninstall(ctx context.Context, a *Artifact, scope config.Scope) error {
	c := chainFrom(ctx)
	if !o.acquire(c.tok, a.Name) {
		return newError(ErrPrereqCycle, a, StageUninstall, errors.New("artifact busy"))
	}
	defer o.release(a)

	if a.Core {
		return newError(ErrProtectedArtifact, a, StageUninstall, errors.New("core artifacts are managed by the runtime"))
	}
	return a.Uninstall(ctx, o.env, scope)
}

// Snapshot returns a copy of a's status without waiting for a running
// install. While a is busy it returns the status published when a's lock
// was last released; ok is false if there is none yet.
func (o *Orchestrator) Snapshot(_ context.Context, a *Artifact) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.owner[a.Name]; busy {
		st, ok := o.published[a.Name]
		return st, ok
	}
	if !a.HasStatus() {
		return Status{}, false
	}
	return a.Status().Snapshot(), true
}

// Readme fetches and extracts a as needed and returns its README text.
func (o *Orchestrator) Readme(ctx context.Context, a *Artifact, opts Options) (string, error) {
	c := chainFrom(ctx)
	if !o.acquire(c.tok, a.Name) {
		return "", newError(ErrPreconditionFailed, a, StageExtract, errors.New("artifact busy"))
	}
	defer o.release(a)

	opts.Force = false
	if err := a.Fetch(ctx, o.env, opts); err != nil {
		return "", err
	}
	if err := a.Extract(ctx, o.env, opts); err != nil {
		return "", err
	}
	return a.Readme()
}
