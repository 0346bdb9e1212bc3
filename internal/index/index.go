// SPDX-License-Identifier: MPL-2.0

// Package index is the host's record of installed artifacts: one TOML file
// per artifact and scope under <state_dir>/installed/<scope>/<name>.toml.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/pelletier/go-toml/v2"
)

const recordExt = ".toml"

// ErrInvalidName is returned for names that cannot be stored as a file.
var ErrInvalidName = errors.New("invalid artifact name")

type (
	// Index implements lifecycle.InstalledIndex on the file system. It is
	// safe for concurrent use within one process.
	Index struct {
		mu   sync.RWMutex
		root string
	}

	// record is the on-disk form of lifecycle.InstallRecord.
	record struct {
		Name        string    `toml:"name"`
		Version     string    `toml:"version"`
		Scope       string    `toml:"scope"`
		InstalledAt time.Time `toml:"installed_at"`
		Files       []string  `toml:"files"`
		Directories []string  `toml:"directories"`
	}
)

var _ lifecycle.InstalledIndex = (*Index)(nil)

// Open returns the index rooted at dir, usually <state_dir>/installed.
func Open(dir string) *Index {
	return &Index{root: dir}
}

func (ix *Index) path(name string, scope config.Scope) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !scope.IsValid() {
		return "", fmt.Errorf("%w: %q", config.ErrInvalidScope, scope)
	}
	return filepath.Join(ix.root, string(scope), name+recordExt), nil
}

// Get returns the record of name in scope.
func (ix *Index) Get(name string, scope config.Scope) (lifecycle.InstallRecord, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.get(name, scope)
}

func (ix *Index) get(name string, scope config.Scope) (lifecycle.InstallRecord, bool, error) {
	p, err := ix.path(name, scope)
	if err != nil {
		return lifecycle.InstallRecord{}, false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return lifecycle.InstallRecord{}, false, nil
	}
	if err != nil {
		return lifecycle.InstallRecord{}, false, err
	}
	var r record
	if err := toml.Unmarshal(data, &r); err != nil {
		return lifecycle.InstallRecord{}, false, fmt.Errorf("parsing %s: %w", p, err)
	}
	v, err := version.Parse(r.Version)
	if err != nil {
		return lifecycle.InstallRecord{}, false, fmt.Errorf("%s: %w", p, err)
	}
	return lifecycle.InstallRecord{
		Name:        r.Name,
		Version:     v,
		Scope:       config.Scope(r.Scope),
		Files:       r.Files,
		Directories: r.Directories,
		InstalledAt: r.InstalledAt,
	}, true, nil
}

// FilesOf lists the files installed for name in scope.
func (ix *Index) FilesOf(name string, scope config.Scope) ([]string, error) {
	rec, ok, err := ix.Get(name, scope)
	if err != nil || !ok {
		return nil, err
	}
	return rec.Files, nil
}

// DirectoriesOf lists the directories created for name in scope.
func (ix *Index) DirectoriesOf(name string, scope config.Scope) ([]string, error) {
	rec, ok, err := ix.Get(name, scope)
	if err != nil || !ok {
		return nil, err
	}
	return rec.Directories, nil
}

// InstalledVersion returns the highest version of name installed in any
// scope.
func (ix *Index) InstalledVersion(name string) (version.Version, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var best version.Version
	found := false
	for _, scope := range []config.Scope{config.ScopeUser, config.ScopeSite} {
		rec, ok, err := ix.get(name, scope)
		if err != nil || !ok {
			continue
		}
		if !found || best.Less(rec.Version) {
			best = rec.Version
		}
		found = true
	}
	return best, found
}

// Record writes rec, replacing any earlier record for the same name and scope.
func (ix *Index) Record(rec lifecycle.InstallRecord) error {
	p, err := ix.path(rec.Name, rec.Scope)
	if err != nil {
		return err
	}
	r := record{
		Name:        rec.Name,
		Version:     rec.Version.String(),
		Scope:       string(rec.Scope),
		InstalledAt: rec.InstalledAt.UTC().Truncate(time.Second),
		Files:       slices.Sorted(slices.Values(rec.Files)),
		Directories: slices.Sorted(slices.Values(rec.Directories)),
	}
	if r.InstalledAt.IsZero() {
		r.InstalledAt = time.Now().UTC().Truncate(time.Second)
	}
	data, err := toml.Marshal(r)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Forget removes the record of name in scope. Forgetting an absent record
// is not an error.
func (ix *Index) Forget(name string, scope config.Scope) error {
	p, err := ix.path(name, scope)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every record in scope sorted by name.
func (ix *Index) List(scope config.Scope) ([]lifecycle.InstallRecord, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(ix.root, string(scope)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []lifecycle.InstallRecord
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), recordExt)
		if !ok || e.IsDir() {
			continue
		}
		rec, found, err := ix.get(name, scope)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, rec)
		}
	}
	return out, nil
}
