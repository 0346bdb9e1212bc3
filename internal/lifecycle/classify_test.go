// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestChooseInstaller(t *testing.T) {
	t.Parallel()

	const (
		M = InstallerMake
		S = InstallerScript
	)
	tests := []struct {
		preferMake, hasMake, hasScript, scriptAvailable bool
		want                                            InstallerKind
		warn                                            bool
	}{
		{false, false, false, false, M, true},
		{false, false, false, true, M, true},
		{false, false, true, false, M, true},
		{false, false, true, true, S, false},
		{false, true, false, false, M, false},
		{false, true, false, true, M, false},
		{false, true, true, false, M, true},
		{false, true, true, true, S, false},
		{true, false, false, false, M, true},
		{true, false, false, true, M, true},
		{true, false, true, false, M, true},
		{true, false, true, true, S, false},
		{true, true, false, false, M, false},
		{true, true, false, true, M, false},
		{true, true, true, false, M, false},
		{true, true, true, true, M, false},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("prefer=%t/make=%t/script=%t/avail=%t", tt.preferMake, tt.hasMake, tt.hasScript, tt.scriptAvailable)
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, warning := ChooseInstaller(tt.preferMake, tt.hasMake, tt.hasScript, tt.scriptAvailable)
			if got != tt.want {
				t.Errorf("kind = %s, want %s", got, tt.want)
			}
			if (warning != nil) != tt.warn {
				t.Errorf("warning = %v, want warning %t", warning, tt.warn)
			}
			if warning != nil && !errors.Is(warning, ErrClassificationAmbiguous) {
				t.Errorf("warning %v is not ErrClassificationAmbiguous", warning)
			}
		})
	}
}

func TestClassify_StableUntilFlush(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dir := f.tree(t, "dual", map[string]string{MakeDescriptor: "", ScriptDescriptor: ""})
	a := &Artifact{Name: "dual"}
	a.Status().Fetched = "dual.tar.gz"
	a.Status().Extracted = dir

	ctx := context.Background()
	if err := a.Classify(ctx, f.env); err != nil {
		t.Fatal(err)
	}
	if a.Status().Installer != InstallerScript {
		t.Fatalf("Installer = %s, want script", a.Status().Installer)
	}

	f.cfg.PreferMake = true
	if err := a.Classify(ctx, f.env); err != nil {
		t.Fatal(err)
	}
	if a.Status().Installer != InstallerScript {
		t.Errorf("classification changed to %s without a flush", a.Status().Installer)
	}

	a.Status().Flush()
	if a.Status().Installer != InstallerNone || a.Status().Extracted != "" {
		t.Errorf("Flush left state behind: %+v", a.Status())
	}
}

func TestClassify_Fallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		files       map[string]string
		unavailable bool
		disabled    bool
	}{
		{name: "no descriptor", files: map[string]string{"README": "hi"}},
		{name: "script builder missing", files: map[string]string{ScriptDescriptor: ""}, unavailable: true},
		{name: "script builder disabled", files: map[string]string{ScriptDescriptor: ""}, disabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.script.unavailable = tt.unavailable
			f.cfg.Builders.Script.Enabled = !tt.disabled
			a := &Artifact{Name: "x"}
			a.Status().Fetched = "x.tar.gz"
			a.Status().Extracted = f.tree(t, "x", tt.files)

			if err := a.Classify(context.Background(), f.env); err != nil {
				t.Fatalf("Classify: %v", err)
			}
			st := a.Status()
			if st.Installer != InstallerMake {
				t.Errorf("Installer = %s, want make", st.Installer)
			}
			if len(st.Warnings) != 1 || !errors.Is(st.Warnings[0], ErrClassificationAmbiguous) {
				t.Errorf("Warnings = %v", st.Warnings)
			}
		})
	}
}

func TestStages_Preconditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := &Artifact{Name: "fresh"}

	checks := map[string]error{
		"extract":  a.Extract(ctx, f.env, Options{}),
		"classify": a.Classify(ctx, f.env),
		"verify":   a.VerifySignature(ctx, f.env, Options{}),
		"install":  a.InstallBuilt(ctx, f.env, Options{}),
		"expand":   func() error { _, err := ExpandBundle(a, f.env); return err }(),
		"build":    func() error { _, err := a.Build(ctx, f.env, TargetCreate, Options{}); return err }(),
		"readme":   func() error { _, err := a.Readme(); return err }(),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrPreconditionFailed) {
			t.Errorf("%s: err = %v, want ErrPreconditionFailed", name, err)
		}
	}
	if f.extractor.get("fresh") != 0 {
		t.Error("extractor called despite failed precondition")
	}
}
