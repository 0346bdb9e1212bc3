// SPDX-License-Identifier: MPL-2.0

package index

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"
)

func rec(name, v string, scope config.Scope) lifecycle.InstallRecord {
	return lifecycle.InstallRecord{
		Name:        name,
		Version:     version.MustParse(v),
		Scope:       scope,
		Files:       []string{"/p/lib/" + name + ".so", "/p/include/" + name + ".h"},
		Directories: []string{"/p/include"},
		InstalledAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	ix := Open(t.TempDir())
	if err := ix.Record(rec("zlib", "1.3", config.ScopeUser)); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ix.Get("zlib", config.ScopeUser)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if !got.Version.Equal(version.MustParse("1.3")) || got.Scope != config.ScopeUser {
		t.Errorf("record = %+v", got)
	}
	// files are stored sorted
	if !slices.Equal(got.Files, []string{"/p/include/zlib.h", "/p/lib/zlib.so"}) {
		t.Errorf("Files = %v", got.Files)
	}
	if !got.InstalledAt.Equal(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("InstalledAt = %v", got.InstalledAt)
	}

	files, err := ix.FilesOf("zlib", config.ScopeUser)
	if err != nil || len(files) != 2 {
		t.Errorf("FilesOf = %v, %v", files, err)
	}
	dirs, err := ix.DirectoriesOf("zlib", config.ScopeUser)
	if err != nil || !slices.Equal(dirs, []string{"/p/include"}) {
		t.Errorf("DirectoriesOf = %v, %v", dirs, err)
	}
}

func TestRecordFileIsTOML(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := Open(root).Record(rec("zlib", "1.3", config.ScopeSite)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "site", "zlib.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name = 'zlib'") && !strings.Contains(string(data), `name = "zlib"`) {
		t.Errorf("unexpected record:\n%s", data)
	}
}

func TestInstalledVersion_AnyScope(t *testing.T) {
	t.Parallel()

	ix := Open(t.TempDir())
	if _, ok := ix.InstalledVersion("zlib"); ok {
		t.Fatal("empty index reports an install")
	}
	for _, r := range []lifecycle.InstallRecord{rec("zlib", "1.2", config.ScopeUser), rec("zlib", "1.3", config.ScopeSite)} {
		if err := ix.Record(r); err != nil {
			t.Fatal(err)
		}
	}
	v, ok := ix.InstalledVersion("zlib")
	if !ok || !v.Equal(version.MustParse("1.3")) {
		t.Errorf("InstalledVersion = %s, %v", v, ok)
	}
}

func TestForget(t *testing.T) {
	t.Parallel()

	ix := Open(t.TempDir())
	if err := ix.Record(rec("zlib", "1.3", config.ScopeUser)); err != nil {
		t.Fatal(err)
	}
	if err := ix.Forget("zlib", config.ScopeUser); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := ix.Get("zlib", config.ScopeUser); ok {
		t.Error("record survived Forget")
	}
	if err := ix.Forget("zlib", config.ScopeUser); err != nil {
		t.Errorf("second Forget = %v", err)
	}
	files, err := ix.FilesOf("zlib", config.ScopeUser)
	if err != nil || files != nil {
		t.Errorf("FilesOf after Forget = %v, %v", files, err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	ix := Open(t.TempDir())
	for _, n := range []string{"zlib", "bzip2", "xz"} {
		if err := ix.Record(rec(n, "1.0", config.ScopeUser)); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := ix.List(config.ScopeUser)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	if !slices.Equal(names, []string{"bzip2", "xz", "zlib"}) {
		t.Errorf("List = %v", names)
	}
	if recs, err := ix.List(config.ScopeSite); err != nil || len(recs) != 0 {
		t.Errorf("List(site) = %v, %v", recs, err)
	}
}

func TestInvalidNames(t *testing.T) {
	t.Parallel()

	ix := Open(t.TempDir())
	for _, name := range []string{"", "../etc", "a/b", ".hidden"} {
		if err := ix.Record(rec(name, "1.0", config.ScopeUser)); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Record(%q) = %v", name, err)
		}
	}
	if err := ix.Record(rec("zlib", "1.0", "global")); !errors.Is(err, config.ErrInvalidScope) {
		t.Errorf("bad scope = %v", err)
	}
}
