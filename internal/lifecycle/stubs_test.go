// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/testutil"
	"github.com/kiln-pm/kiln/pkg/version"
)

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) inc(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[key]++
}

func (c *counter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

type stubFetcher struct {
	counter
	fail  map[string]error
	delay map[string]time.Duration
}

func (f *stubFetcher) Fetch(_ context.Context, a *Artifact, opts FetchOptions) (string, error) {
	f.inc(a.Name)
	if d := f.delay[a.Name]; d > 0 {
		time.Sleep(d)
	}
	if err := f.fail[a.Name]; err != nil {
		return "", err
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(opts.Dir, a.Name+".tar.gz")
	return path, os.WriteFile(path, []byte("archive"), 0o644)
}

type stubChecksums struct {
	counter
	ok bool
}

func (c *stubChecksums) Verify(_ context.Context, _ string, a *Artifact) (bool, error) {
	c.inc(a.Name)
	return c.ok, nil
}

type stubExtractor struct {
	counter
	trees map[string]string
}

func (e *stubExtractor) Extract(_ context.Context, archive string, _ ExtractOptions) (string, error) {
	name := strings.TrimSuffix(filepath.Base(archive), ".tar.gz")
	e.inc(name)
	dir, ok := e.trees[name]
	if !ok {
		return "", errors.New("corrupt archive")
	}
	return dir, nil
}

type stubSignatures struct {
	counter
	ok bool
}

func (s *stubSignatures) Verify(_ context.Context, dir string) (bool, error) {
	s.inc(dir)
	return s.ok, nil
}

type stubBuilder struct {
	counter
	unavailable bool
	prereqs     map[string]map[string]version.Version
	failCreate  map[string]bool
	failTests   map[string]bool
	// installs maps artifact names to a file written under DestDir+Prefix.
	installs map[string]string
}

func (b *stubBuilder) Available() bool { return !b.unavailable }

func (b *stubBuilder) Prepare(_ context.Context, req BuildRequest) error {
	b.inc("prepare:" + req.Name)
	b.inc("prepare")
	return nil
}

func (b *stubBuilder) Prereqs(_ context.Context, req BuildRequest) (map[string]version.Version, error) {
	return b.prereqs[req.Name], nil
}

func (b *stubBuilder) Create(_ context.Context, req BuildRequest) error {
	b.inc("create:" + req.Name)
	b.inc("create")
	if b.failCreate[req.Name] {
		return errors.New("exit status 2")
	}
	return nil
}

func (b *stubBuilder) Test(_ context.Context, req BuildRequest) (TestResult, error) {
	b.inc("test:" + req.Name)
	b.inc("test")
	return TestResult{Ran: true, Passed: !b.failTests[req.Name], Output: "1..1"}, nil
}

func (b *stubBuilder) InstallBuilt(_ context.Context, req BuildRequest) error {
	b.inc("install:" + req.Name)
	b.inc("install")
	rel, ok := b.installs[req.Name]
	if !ok {
		return nil
	}
	target := filepath.Join(req.DestDir, req.Prefix, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(req.Name), 0o755)
}

type stubIndex struct {
	mu        sync.Mutex
	records   map[string]InstallRecord
	installed map[string]version.Version
	forgotten []string
}

func newStubIndex() *stubIndex {
	return &stubIndex{records: map[string]InstallRecord{}, installed: map[string]version.Version{}}
}

func (x *stubIndex) FilesOf(name string, _ config.Scope) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.records[name].Files, nil
}

func (x *stubIndex) DirectoriesOf(name string, _ config.Scope) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.records[name].Directories, nil
}

func (x *stubIndex) InstalledVersion(name string) (version.Version, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if v, ok := x.installed[name]; ok {
		return v, true
	}
	r, ok := x.records[name]
	return r.Version, ok
}

func (x *stubIndex) Record(rec InstallRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.records[rec.Name] = rec
	return nil
}

func (x *stubIndex) Forget(name string, _ config.Scope) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.records, name)
	delete(x.installed, name)
	x.forgotten = append(x.forgotten, name)
	return nil
}

type stubReports struct {
	mu      sync.Mutex
	reports []TestReport
	err     error
}

func (r *stubReports) Submit(_ context.Context, rep TestReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return r.err
}

type stubObserver struct {
	mu     sync.Mutex
	stages []Stage
}

func (o *stubObserver) ObserveStage(_ string, stage Stage, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

type stubCatalog struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
	lookups   []string
}

func (c *stubCatalog) Lookup(name string) (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups = append(c.lookups, name)
	a, ok := c.artifacts[name]
	return a, ok
}

func (c *stubCatalog) add(as ...*Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range as {
		c.artifacts[a.Name] = a
	}
}

type fixture struct {
	env        *Env
	cfg        *config.Config
	fetcher    *stubFetcher
	checksums  *stubChecksums
	extractor  *stubExtractor
	signatures *stubSignatures
	mk         *stubBuilder
	script     *stubBuilder
	index      *stubIndex
	reports    *stubReports
	observer   *stubObserver
	catalog    *stubCatalog
	orch       *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Prefix = filepath.Join(t.TempDir(), "prefix")

	f := &fixture{
		cfg:        cfg,
		fetcher:    &stubFetcher{},
		checksums:  &stubChecksums{ok: true},
		extractor:  &stubExtractor{trees: map[string]string{}},
		signatures: &stubSignatures{ok: true},
		mk:         &stubBuilder{},
		script:     &stubBuilder{},
		index:      newStubIndex(),
		reports:    &stubReports{},
		observer:   &stubObserver{},
		catalog:    &stubCatalog{artifacts: map[string]*Artifact{}},
	}
	f.env = &Env{
		Config:     cfg,
		Catalog:    f.catalog,
		Fetcher:    f.fetcher,
		Checksums:  f.checksums,
		Extractor:  f.extractor,
		Signatures: f.signatures,
		Builders:   map[InstallerKind]Builder{InstallerMake: f.mk, InstallerScript: f.script},
		Index:      f.index,
		Reports:    f.reports,
		Observer:   f.observer,
	}
	f.orch = NewOrchestrator(f.env)
	return f
}

// tree registers an extracted tree for name holding files (path -> content).
func (f *fixture) tree(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := testutil.WriteTree(t, filepath.Join(t.TempDir(), name), files)
	f.extractor.trees[name] = dir
	return dir
}

// artifact registers a make-built artifact in the catalog.
func (f *fixture) artifact(t *testing.T, name, ver string) *Artifact {
	t.Helper()
	f.tree(t, name, map[string]string{MakeDescriptor: "all:\n"})
	a := &Artifact{Name: name, PackageID: "authors/" + name + ".tar.gz", Version: version.MustParse(ver)}
	f.catalog.add(a)
	return a
}

func builderCalls(b *stubBuilder) int {
	return b.get("prepare") + b.get("create") + b.get("test") + b.get("install")
}

func stagesSeen(o *stubObserver, s Stage) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(slices.DeleteFunc(slices.Clone(o.stages), func(x Stage) bool { return x != s }))
}
