// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/charmbracelet/log"
)

type (
	// Catalog maps names to artifacts. Implementations must be safe for
	// concurrent use.
	Catalog interface {
		Lookup(name string) (*Artifact, bool)
	}

	// FetchOptions controls a single fetch.
	FetchOptions struct {
		// Dir receives downloaded files.
		Dir string
		// Override is a caller-supplied source (local path or URL) used
		// instead of the mirrors.
		Override string
	}

	// Fetcher retrieves an artifact's archive and returns its local path.
	Fetcher interface {
		Fetch(ctx context.Context, a *Artifact, opts FetchOptions) (string, error)
	}

	// ChecksumVerifier validates a fetched file against the digest
	// published for the artifact. It never mutates the artifact.
	ChecksumVerifier interface {
		Verify(ctx context.Context, path string, a *Artifact) (bool, error)
	}

	// ExtractOptions controls a single extraction.
	ExtractOptions struct {
		// Dir is the parent of the extracted tree.
		Dir string
	}

	// Extractor unpacks an archive and returns the root of the tree.
	Extractor interface {
		Extract(ctx context.Context, archive string, opts ExtractOptions) (string, error)
	}

	// SignatureVerifier checks the signed manifest of an extracted tree.
	SignatureVerifier interface {
		Verify(ctx context.Context, dir string) (bool, error)
	}

	// BuildRequest is passed to every Builder call for one artifact.
	BuildRequest struct {
		Name   string
		Dir    string
		Prefix string
		// DestDir is the staging root for InstallBuilt.
		DestDir string
		Verbose bool
		Log     io.Writer
	}

	// TestResult reports a builder's test run.
	TestResult struct {
		Ran    bool
		Passed bool
		Output string
	}

	// Builder is one build-system backend. Each call is idempotent for a
	// given BuildRequest.Dir.
	Builder interface {
		// Available reports whether the backend can run on this host.
		Available() bool
		Prepare(ctx context.Context, req BuildRequest) error
		// Prereqs lists prerequisites discovered by Prepare.
		Prereqs(ctx context.Context, req BuildRequest) (map[string]version.Version, error)
		Create(ctx context.Context, req BuildRequest) error
		Test(ctx context.Context, req BuildRequest) (TestResult, error)
		InstallBuilt(ctx context.Context, req BuildRequest) error
	}

	// InstallRecord is what the installed index keeps per artifact and scope.
	InstallRecord struct {
		Name        string
		Version     version.Version
		Scope       config.Scope
		Files       []string
		Directories []string
		InstalledAt time.Time
	}

	// InstalledIndex is the host's record of installed artifacts.
	InstalledIndex interface {
		FilesOf(name string, scope config.Scope) ([]string, error)
		DirectoriesOf(name string, scope config.Scope) ([]string, error)
		// InstalledVersion returns the installed version in any scope.
		InstalledVersion(name string) (version.Version, bool)
		Record(rec InstallRecord) error
		Forget(name string, scope config.Scope) error
	}

	// TestReport is submitted after tests run or verification fails.
	TestReport struct {
		Artifact string
		Version  string
		Stage    Stage
		Failed   bool
		Trail    []string
	}

	// ReportSink accepts test reports. Its errors are logged, never propagated.
	ReportSink interface {
		Submit(ctx context.Context, r TestReport) error
	}

	// Observer receives the outcome of every stage that actually ran.
	Observer interface {
		ObserveStage(artifact string, stage Stage, elapsed time.Duration, err error)
	}

	// Env is the explicit context every operation runs against.
	Env struct {
		Config     *config.Config
		Catalog    Catalog
		Fetcher    Fetcher
		Checksums  ChecksumVerifier
		Extractor  Extractor
		Signatures SignatureVerifier
		Builders   map[InstallerKind]Builder
		Index      InstalledIndex
		Reports    ReportSink
		Observer   Observer
		Logger     *log.Logger
	}
)

var discardLogger = log.New(io.Discard)

func (e *Env) log() *log.Logger {
	if e.Logger == nil {
		return discardLogger
	}
	return e.Logger
}

func (e *Env) cfg() *config.Config {
	if e.Config == nil {
		return config.DefaultConfig()
	}
	return e.Config
}

func (e *Env) dir(parts ...string) string {
	return filepath.Join(append([]string{e.cfg().StateDir}, parts...)...)
}

func (e *Env) builder(k InstallerKind) Builder {
	if e.Builders == nil {
		return nil
	}
	return e.Builders[k]
}

func (e *Env) observe(a *Artifact, stage Stage, start time.Time, err error) {
	if e.Observer != nil {
		e.Observer.ObserveStage(a.Name, stage, time.Since(start), err)
	}
}

// warn records w on the artifact's status and logs it.
func (e *Env) warn(a *Artifact, w error) {
	a.Status().Warn(w)
	e.log().Warn(w.Error(), "artifact", a.Name)
}

// report submits a test report; failures are logged only.
func (e *Env) report(ctx context.Context, a *Artifact, stage Stage, failed bool) {
	if e.Reports == nil {
		return
	}
	r := TestReport{
		Artifact: a.Name,
		Version:  a.Version.String(),
		Stage:    stage,
		Failed:   failed,
		Trail:    append([]string(nil), a.Status().Trail...),
	}
	if err := e.Reports.Submit(ctx, r); err != nil {
		e.log().Warn("test report not submitted", "artifact", a.Name, "err", err)
	}
}
