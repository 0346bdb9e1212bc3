// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"
)

type recordingCatalog struct {
	mu        sync.Mutex
	artifacts map[string]*lifecycle.Artifact
	lookups   []string
}

func newCatalog(names ...string) *recordingCatalog {
	c := &recordingCatalog{artifacts: map[string]*lifecycle.Artifact{}}
	for _, n := range names {
		c.artifacts[n] = &lifecycle.Artifact{Name: n, Version: version.MustParse("9.0")}
	}
	return c
}

func (c *recordingCatalog) Lookup(name string) (*lifecycle.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups = append(c.lookups, name)
	a, ok := c.artifacts[name]
	return a, ok
}

type recordingInstaller struct {
	calls []lifecycle.Requirement
	opts  []lifecycle.Options
	fail  map[string]bool
}

func (i *recordingInstaller) InstallRequirement(_ context.Context, r lifecycle.Requirement, opts lifecycle.Options) error {
	i.calls = append(i.calls, r)
	i.opts = append(i.opts, opts)
	if i.fail[r.Name] {
		return errors.New("boom")
	}
	return nil
}

type versions map[string]version.Version

func (v versions) InstalledVersion(name string) (version.Version, bool) {
	x, ok := v[name]
	return x, ok
}

func mv(s string) version.Version { return version.MustParse(s) }

func testTable() Table {
	return Table{
		Core:         Static(map[string]version.Version{"core-b": mv("1.0"), "core-a": mv("1.0")}),
		Dependencies: Static(map[string]version.Version{"dep": mv("2.0")}),
		Features: []Feature{
			{
				Name:     "on",
				Requires: Static(map[string]version.Version{"feat-on": mv("1.0"), "dep": mv("3.0")}),
				Enabled:  func(*config.Config) bool { return true },
			},
			{
				Name:     "off",
				Requires: Static(map[string]version.Version{"feat-off": mv("1.0")}),
				Enabled:  func(*config.Config) bool { return false },
			},
			{
				Name: "computed",
				Requires: Computed(func(cfg *config.Config) map[string]version.Version {
					if !cfg.PreferMake {
						return nil
					}
					return map[string]version.Version{"make": mv("4.0")}
				}),
				Enabled: func(*config.Config) bool { return true },
			},
		},
	}
}

func names(reqs []lifecycle.Requirement) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Name)
	}
	return out
}

func TestResolver_AllOrder(t *testing.T) {
	t.Parallel()

	cat := newCatalog("core-a", "core-b", "dep", "feat-on", "feat-off", "make")
	r := NewResolver(testTable(), cat, config.DefaultConfig())

	res, err := r.Resolve(ScopeAll)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"core-a", "core-b", "dep", "feat-on"}
	if got := names(res.Requirements); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	// the catalog sees core before dependencies before features
	if !slices.Equal(cat.lookups, want) {
		t.Errorf("lookups = %v, want %v", cat.lookups, want)
	}
	// dep keeps its first position with the higher feature requirement
	if !res.Requirements[2].Required.Equal(mv("3.0")) {
		t.Errorf("dep required = %s, want 3.0", res.Requirements[2].Required)
	}
	if !cat.artifacts["dep"].Version.Equal(mv("9.0")) {
		t.Error("catalog artifact mutated")
	}
}

func TestResolver_Scopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scope   string
		prefer  bool
		want    []string
		wantErr error
	}{
		{scope: ScopeCore, want: []string{"core-a", "core-b"}},
		{scope: ScopeDependencies, want: []string{"dep"}},
		{scope: ScopeFeatures, want: []string{"dep", "feat-on"}},
		{scope: ScopeFeatures, prefer: true, want: []string{"dep", "feat-on", "make"}},
		{scope: "off", want: []string{"feat-off"}},
		{scope: "computed", want: nil},
		{scope: "nope", wantErr: lifecycle.ErrUnknownFeature},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.PreferMake = tt.prefer
			r := NewResolver(testTable(), newCatalog("core-a", "core-b", "dep", "feat-on", "feat-off", "make"), cfg)
			res, err := r.Resolve(tt.scope)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := names(res.Requirements); !slices.Equal(got, tt.want) {
				t.Errorf("Resolve(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestResolver_ConfigChoiceOverridesPredicate(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Features = map[string]bool{"on": false, "off": true}
	r := NewResolver(testTable(), newCatalog("dep", "feat-on", "feat-off"), cfg)

	if got := r.EnabledFeatures(); !slices.Equal(got, []string{"off", "computed"}) {
		t.Errorf("EnabledFeatures = %v", got)
	}
	infos := r.Features()
	if len(infos) != 3 || infos[0].Enabled || !infos[1].Enabled {
		t.Errorf("Features = %+v", infos)
	}
}

func TestResolver_MissingNames(t *testing.T) {
	t.Parallel()

	r := NewResolver(testTable(), newCatalog("core-a"), nil)
	res, err := r.Resolve(ScopeCore)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Missing, []string{"core-b"}) || len(res.Requirements) != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestRequirements_TaggedVariants(t *testing.T) {
	t.Parallel()

	src := map[string]version.Version{"a": mv("1.0")}
	s := Static(src)
	src["b"] = mv("1.0")
	if got := s.Resolve(nil); len(got) != 1 {
		t.Errorf("Static shares its input map: %v", got)
	}
	if got := Computed(nil).Resolve(nil); got != nil {
		t.Errorf("nil computed = %v", got)
	}
}

func fiveTable() Table {
	return Table{
		Core: Static(map[string]version.Version{
			"a": mv("1.0"), "b": mv("1.0"), "c": mv("1.0"), "d": mv("1.0"), "e": mv("1.0"),
		}),
	}
}

func TestDriver_SkipsSufficient(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	installed := versions{"b": mv("1.0"), "d": mv("2.0"), "e": mv("0.5")}
	d := NewDriver(NewResolver(fiveTable(), newCatalog("a", "b", "c", "d", "e"), nil), inst, installed, nil)

	sum, err := d.Update(context.Background(), ScopeCore, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(inst.calls); !slices.Equal(got, []string{"a", "c", "e"}) {
		t.Errorf("installs = %v, want 3", got)
	}
	if !slices.Equal(sum.Skipped, []string{"b", "d"}) || !sum.OK() {
		t.Errorf("summary = %+v", sum)
	}
}

func TestDriver_AbsentCountsAsZero(t *testing.T) {
	t.Parallel()

	tbl := Table{Core: Static(map[string]version.Version{"any": {}, "pinned": mv("1.0")})}
	inst := &recordingInstaller{}
	d := NewDriver(NewResolver(tbl, newCatalog("any", "pinned"), nil), inst, versions{}, nil)

	todo, skipped, _, err := d.Plan(ScopeCore, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(todo); !slices.Equal(got, []string{"pinned"}) {
		t.Errorf("todo = %v, want [pinned]", got)
	}
	if !slices.Equal(skipped, []string{"any"}) {
		t.Errorf("skipped = %v, want [any]", skipped)
	}
}

func TestDriver_UseLatestAttemptsAll(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	installed := versions{"b": mv("1.0"), "d": mv("2.0")}
	d := NewDriver(NewResolver(fiveTable(), newCatalog("a", "b", "c", "d", "e"), nil), inst, installed, nil)

	sum, err := d.Update(context.Background(), ScopeCore, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(inst.calls) != 5 || len(sum.Skipped) != 0 {
		t.Fatalf("calls = %v, summary = %+v", names(inst.calls), sum)
	}
	for i, r := range inst.calls {
		if !r.Required.Equal(mv("9.0")) {
			t.Errorf("%s required = %s, want catalog version", r.Name, r.Required)
		}
		if !inst.opts[i].Force {
			t.Error("force not passed through")
		}
	}
}

func TestDriver_BestEffort(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{fail: map[string]bool{"a": true, "c": true}}
	d := NewDriver(NewResolver(fiveTable(), newCatalog("a", "b", "c", "d"), nil), inst, nil, nil)

	sum, err := d.Update(context.Background(), ScopeCore, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(inst.calls) != 4 {
		t.Errorf("attempted %d, want 4", len(inst.calls))
	}
	if sum.OK() || len(sum.Failed) != 3 {
		t.Errorf("summary = %+v (missing e counts as a failure)", sum)
	}
}

func TestDriver_UnknownScope(t *testing.T) {
	t.Parallel()

	d := NewDriver(NewResolver(fiveTable(), newCatalog(), nil), &recordingInstaller{}, nil, nil)
	if _, err := d.Update(context.Background(), "bogus", false, false); !errors.Is(err, lifecycle.ErrUnknownFeature) {
		t.Fatalf("err = %v", err)
	}
}

func TestDefaultTable(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	tbl := DefaultTable(mv("1.2"))
	if got := tbl.Core.Resolve(cfg)["kiln-core"]; !got.Equal(mv("1.2")) {
		t.Errorf("core = %s", got)
	}
	if _, ok := tbl.Dependencies.Resolve(cfg)["make"]; !ok {
		t.Error("make dependency missing with default make binary")
	}
	r := NewResolver(tbl, newCatalog(), cfg)
	if got := r.EnabledFeatures(); !slices.Equal(got, []string{"git"}) {
		t.Errorf("EnabledFeatures = %v", got)
	}
}
