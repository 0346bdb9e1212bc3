// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/cueutil"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/charmbracelet/log"
)

//go:embed catalog_schema.cue
var schema []byte

// ErrUnknownAuthor is returned when an artifact names an author the catalog
// does not define.
var ErrUnknownAuthor = errors.New("unknown author")

type (
	// MissFunc loads an artifact the catalog does not hold yet.
	MissFunc func(name string) (*lifecycle.Artifact, bool)

	// Catalog is safe for concurrent use. Entries are only ever added or
	// replaced, never removed.
	Catalog struct {
		mu      sync.RWMutex
		entries map[string]*lifecycle.Artifact
		authors map[string]*lifecycle.Author
		miss    MissFunc
		logger  *log.Logger
	}

	// Option configures a Catalog.
	Option func(*Catalog)

	document struct {
		Authors   map[string]authorDoc   `json:"authors"`
		Artifacts map[string]artifactDoc `json:"artifacts"`
	}

	authorDoc struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	artifactDoc struct {
		Name         string `json:"name"`
		PackageID    string `json:"package_id"`
		Version      string `json:"version"`
		Origin       string `json:"origin"`
		Description  string `json:"description"`
		Author       string `json:"author"`
		Bundle       bool   `json:"bundle"`
		Core         bool   `json:"core"`
		ChecksumFile bool   `json:"checksum_file"`
	}
)

// WithMiss sets the handler consulted on lookups of unknown names.
func WithMiss(fn MissFunc) Option { return func(c *Catalog) { c.miss = fn } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(c *Catalog) { c.logger = l } }

// New returns an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		entries: map[string]*lifecycle.Artifact{},
		authors: map[string]*lifecycle.Author{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c
}

// Load reads the catalog index at path. A missing file yields an empty
// catalog.
func Load(path string, opts ...Option) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c := New(opts...)
		c.logger.Warn("catalog file not found, starting empty", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data, path, opts...)
}

// Parse builds a catalog from CUE source.
func Parse(data []byte, filename string, opts ...Option) (*Catalog, error) {
	res, err := cueutil.ParseAndDecode[document](schema, data, "#Catalog", cueutil.WithFilename(filename), cueutil.WithConcrete())
	if err != nil {
		return nil, err
	}
	c := New(opts...)
	doc := res.Value

	for id, a := range doc.Authors {
		c.authors[id] = &lifecycle.Author{ID: id, Name: a.Name, Email: a.Email}
	}
	for _, name := range slices.Sorted(maps.Keys(doc.Artifacts)) {
		entry := doc.Artifacts[name]
		entry.Name = name
		a, err := c.build(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		c.entries[name] = a
	}
	c.logger.Debug("catalog loaded", "path", filename, "artifacts", len(c.entries))
	return c, nil
}

// build turns a decoded entry into an artifact sharing the catalog's authors.
func (c *Catalog) build(d artifactDoc) (*lifecycle.Artifact, error) {
	if d.PackageID == "" {
		return nil, fmt.Errorf("artifact %s: package_id is required", d.Name)
	}
	v, err := version.Parse(d.Version)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", d.Name, err)
	}
	a := &lifecycle.Artifact{
		Name:         d.Name,
		PackageID:    d.PackageID,
		Version:      v,
		Origin:       d.Origin,
		Description:  d.Description,
		Bundle:       d.Bundle,
		Core:         d.Core,
		ChecksumFile: d.ChecksumFile,
	}
	if d.Author != "" {
		author, ok := c.authors[d.Author]
		if !ok {
			return nil, fmt.Errorf("artifact %s: %w %q", d.Name, ErrUnknownAuthor, d.Author)
		}
		a.Author = author
	}
	return a, nil
}

// Lookup returns the artifact called name, consulting the miss handler when
// the catalog does not hold it. Found entries are inserted.
func (c *Catalog) Lookup(name string) (*lifecycle.Artifact, bool) {
	c.mu.RLock()
	a, ok := c.entries[name]
	c.mu.RUnlock()
	if ok || c.miss == nil {
		return a, ok
	}

	a, ok = c.miss(name)
	if !ok || a == nil {
		return nil, false
	}
	c.logger.Debug("catalog miss resolved", "artifact", name)
	return c.Insert(a), true
}

// Insert adds or replaces an entry and returns the stored artifact. The
// last writer wins.
func (c *Catalog) Insert(a *lifecycle.Artifact) *lifecycle.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.Name] = a
	return a
}

// Names lists every entry in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.entries))
}

// All lists every entry sorted by name.
func (c *Catalog) All() []*lifecycle.Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*lifecycle.Artifact, 0, len(c.entries))
	for _, name := range slices.Sorted(maps.Keys(c.entries)) {
		out = append(out, c.entries[name])
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
