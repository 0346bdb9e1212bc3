// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kiln-pm/kiln/pkg/version"
)

func TestParseManifestLines(t *testing.T) {
	t.Parallel()

	entries, err := ParseManifestLines(strings.NewReader("Foo 1.2 - desc\nBar"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Name != "Foo" || !entries[0].Version.Equal(version.MustParse("1.2")) || entries[0].Note != "desc" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "Bar" || !entries[1].Version.IsZero() {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestParseManifest_Sections(t *testing.T) {
	t.Parallel()

	doc := `# Bundle-Web

Some intro text that is not a member.

## Contents

Foo 1.2 - the foo
Bar - no version
Baz undef

Qux not-a-version

## Author

Jane
=head1 CONTENTS

Pod 0.3

=head1 SEE ALSO

Other
`
	entries, err := ParseManifest(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, ","); got != "Foo,Bar,Baz,Qux,Pod" {
		t.Fatalf("names = %s", got)
	}
	if entries[3].Err == nil || !entries[3].Version.IsZero() {
		t.Errorf("Qux should carry a version error: %+v", entries[3])
	}
	if !entries[4].Version.Equal(version.MustParse("0.3")) {
		t.Errorf("Pod version = %s", entries[4].Version)
	}
}

func TestExpandBundle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.artifact(t, "Foo", "1.5")
	f.artifact(t, "Bar", "0.1")
	dir := f.tree(t, "Bundle-X", map[string]string{
		"README.md":       "# Contents\n\nFoo 1.2 - desc\nBar\nMissing 3.0\nFoo 9.0\n",
		"docs/extra.txt":  "# Contents\nBar 7.0\n",
		".git/HEAD":       "# Contents\nSecret\n",
		"lib/ignored.bin": "# Contents\nNope\n",
	})
	b := &Artifact{Name: "Bundle-X", Bundle: true}
	b.Status().Fetched = "Bundle-X.tar.gz"
	b.Status().Extracted = dir

	members, err := ExpandBundle(b, f.env)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].Name != "Foo" || members[1].Name != "Bar" {
		t.Fatalf("members = %+v", members)
	}
	if !members[0].Required.Equal(version.MustParse("1.2")) || !members[1].Required.IsZero() {
		t.Errorf("required = %s, %s", members[0].Required, members[1].Required)
	}
	if !members[0].SatisfiedBy(members[0].Version) {
		t.Error("catalog version 1.5 should satisfy 1.2")
	}

	st := b.Status()
	if len(st.Warnings) != 1 || !errors.Is(st.Warnings[0], ErrUnresolvedMember) {
		t.Errorf("Warnings = %v", st.Warnings)
	}
	if !st.Prereqs["Foo"].Equal(version.MustParse("1.2")) || !st.Prereqs["Bar"].IsZero() {
		t.Errorf("Prereqs = %v", st.Prereqs)
	}
	// the catalog entry is not mutated by the requirement
	if !members[0].Artifact.Version.Equal(version.MustParse("1.5")) {
		t.Error("catalog artifact changed")
	}
}

func bundleFixture(t *testing.T, jobs int) (*fixture, *Artifact) {
	t.Helper()
	f := newFixture(t)
	f.cfg.Jobs = jobs
	f.artifact(t, "Foo", "1.5")
	f.artifact(t, "Bar", "0.1")
	f.artifact(t, "Baz", "2.0")
	f.tree(t, "Bundle-X", map[string]string{
		"Bundle.md": "# Contents\nFoo 1.2 - desc\nBar\nBaz\nGhost\n",
	})
	b := &Artifact{Name: "Bundle-X", Bundle: true, Version: version.MustParse("1.0")}
	return f, b
}

func TestInstall_Bundle(t *testing.T) {
	t.Parallel()

	f, b := bundleFixture(t, 2)
	if err := f.orch.Install(context.Background(), b, Options{}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, name := range []string{"Foo", "Bar", "Baz"} {
		if got := f.mk.get("install:" + name); got != 1 {
			t.Errorf("%s installed %d times", name, got)
		}
	}
	if f.mk.get("prepare:Bundle-X") != 0 {
		t.Error("bundle without descriptor was built")
	}
	st := b.Status()
	if !st.Installed {
		t.Fatal("bundle not marked installed")
	}
	if err := st.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if _, ok := f.index.records["Bundle-X"]; !ok {
		t.Error("bundle not recorded in the index")
	}
	if len(st.Warnings) != 1 || !errors.Is(st.Warnings[0], ErrUnresolvedMember) {
		t.Errorf("Warnings = %v", st.Warnings)
	}
}

func TestInstall_BundleMemberFailure(t *testing.T) {
	t.Parallel()

	f, b := bundleFixture(t, 1)
	f.fetcher.fail = map[string]error{"Bar": errors.New("mirror down")}

	err := f.orch.Install(context.Background(), b, Options{})
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("err = %v, want ErrInstallFailed", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Error("member cause not reachable")
	}
	// siblings after the failure are still attempted
	if f.mk.get("install:Foo") != 1 || f.mk.get("install:Baz") != 1 {
		t.Error("siblings not installed")
	}
	if b.Status().Installed {
		t.Error("bundle marked installed despite a failed member")
	}
}

func TestInstall_BundleWithDescriptorBuildsItself(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.artifact(t, "Foo", "1.0")
	f.tree(t, "Bundle-Y", map[string]string{
		MakeDescriptor: "all:\n",
		"README":       "# Contents\nFoo\n",
	})
	b := &Artifact{Name: "Bundle-Y", Bundle: true}

	if err := f.orch.Install(context.Background(), b, Options{}); err != nil {
		t.Fatal(err)
	}
	if f.mk.get("install:Foo") != 1 || f.mk.get("install:Bundle-Y") != 1 {
		t.Errorf("calls = %v", f.mk.calls)
	}
}

func TestInstall_BundleMemberRequiresParent(t *testing.T) {
	t.Parallel()

	f, b := bundleFixture(t, 3)
	f.catalog.add(b)
	f.mk.prereqs = map[string]map[string]version.Version{"Foo": {"Bundle-X": {}}}

	if err := f.orch.Install(context.Background(), b, Options{}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !b.Status().Installed {
		t.Error("bundle not installed")
	}
}

func TestInstall_CycleAcrossConcurrentMembers(t *testing.T) {
	t.Parallel()

	// P lists A and Y; A is a bundle listing Y; Y requires A. With two jobs
	// Y's install waits on A while A's install waits on its own member Y.
	f := newFixture(t)
	f.cfg.Jobs = 2
	y := f.artifact(t, "Y", "1.0")
	f.tree(t, "A", map[string]string{"README": "# Contents\nY\n"})
	a := &Artifact{Name: "A", Bundle: true, Version: version.MustParse("1.0")}
	f.tree(t, "P", map[string]string{"README": "# Contents\nA\nY\n"})
	p := &Artifact{Name: "P", Bundle: true, Version: version.MustParse("1.0")}
	f.catalog.add(a, p)
	f.mk.prereqs = map[string]map[string]version.Version{"Y": {"A": {}}}
	f.fetcher.delay = map[string]time.Duration{"A": 200 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- f.orch.Install(context.Background(), p, Options{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Install: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Install did not return; concurrent members are waiting on each other")
	}

	if got := f.mk.get("install:Y"); got != 1 {
		t.Errorf("Y installed %d times", got)
	}
	if !a.Status().Installed || !y.Status().Installed || !p.Status().Installed {
		t.Error("every artifact should end up installed")
	}
	cycle := func(ws []error) bool {
		for _, w := range ws {
			if errors.Is(w, ErrPrereqCycle) {
				return true
			}
		}
		return false
	}
	if !cycle(a.Status().Warnings) && !cycle(y.Status().Warnings) {
		t.Errorf("no cycle warning: A=%v Y=%v", a.Status().Warnings, y.Status().Warnings)
	}
}

func TestWouldDeadlock_FollowsJoinedChildren(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&Env{})
	parent := chain{tok: new(token)}
	kid := parent.fork()
	other := new(token)

	o.owner["A"] = parent.tok
	o.owner["Y"] = other
	o.waiting[other] = "A"
	if o.wouldDeadlock(kid.tok, other) {
		t.Fatal("cycle reported before the parent joined its children")
	}
	o.join(parent.tok, []chain{kid})
	if !o.wouldDeadlock(kid.tok, other) {
		t.Error("child waiting on Y closes Y -> A -> parent -> child")
	}
	o.unjoin(parent.tok)
	if o.wouldDeadlock(kid.tok, other) {
		t.Error("edge kept after unjoin")
	}
}
