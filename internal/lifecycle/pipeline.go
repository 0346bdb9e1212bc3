// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/pkg/version"
)

// Options controls one pipeline run.
type Options struct {
	// Force re-runs every stage and overwrites cached results.
	Force bool
	// From overrides the fetch source. Checksums are not checked for
	// caller-supplied sources.
	From     string
	SkipTest bool
	Scope    config.Scope
	// Required is the minimum version wanted; used by the core-artifact policy.
	Required version.Version
}

// Fetch downloads the artifact and records the local path. Unless the
// artifact is the checksum catalog itself, checksums are required and the
// source was not overridden, the file is validated against its published
// digest; a mismatch removes the file and halts the pipeline.
func (a *Artifact) Fetch(ctx context.Context, env *Env, opts Options) (err error) {
	st := a.Status()
	if st.Fetched != "" && !opts.Force {
		return nil
	}
	if env.Fetcher == nil {
		return newError(ErrFetch, a, StageFetch, errors.New("no fetcher configured"))
	}

	start := time.Now()
	defer func() { env.observe(a, StageFetch, start, err) }()

	path, err := env.Fetcher.Fetch(ctx, a, FetchOptions{Dir: env.dir("sources"), Override: opts.From})
	if err != nil {
		st.Notef("fetch failed: %v", err)
		return newError(ErrFetch, a, StageFetch, err)
	}

	if a.ChecksumFile || !env.cfg().ChecksumRequired || opts.From != "" {
		st.Checksum = VerdictSkipped
	} else {
		ok, verr := false, errors.New("no checksum verifier configured")
		if env.Checksums != nil {
			ok, verr = env.Checksums.Verify(ctx, path, a)
		}
		if verr != nil || !ok {
			st.Checksum = VerdictFailed
			st.Fetched = ""
			st.Notef("checksum validation failed for %s", filepath.Base(path))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				env.log().Warn("could not remove untrusted download", "path", path, "err", rmErr)
			}
			return newError(ErrChecksumMismatch, a, StageFetch, verr)
		}
		st.Checksum = VerdictOK
	}

	st.Fetched = path
	st.Notef("fetched %s", path)
	env.log().Debug("fetched", "artifact", a.Name, "path", path)
	return nil
}

// Extract unpacks the fetched archive and records the tree root.
func (a *Artifact) Extract(ctx context.Context, env *Env, opts Options) (err error) {
	st := a.Status()
	if st.Fetched == "" {
		return newError(ErrPreconditionFailed, a, StageExtract, errors.New("not fetched"))
	}
	if st.Extracted != "" && !opts.Force {
		return nil
	}
	if env.Extractor == nil {
		return newError(ErrExtract, a, StageExtract, errors.New("no extractor configured"))
	}

	start := time.Now()
	defer func() { env.observe(a, StageExtract, start, err) }()

	dir, err := env.Extractor.Extract(ctx, st.Fetched, ExtractOptions{Dir: env.dir("build")})
	if err != nil {
		st.Notef("extract failed: %v", err)
		return newError(ErrExtract, a, StageExtract, err)
	}
	st.Extracted = dir
	st.Notef("extracted to %s", dir)
	return nil
}

// ChooseInstaller applies the build-system decision table. The returned
// warning is non-nil when the choice was a fallback.
func ChooseInstaller(preferMake, hasMake, hasScript, scriptAvailable bool) (InstallerKind, error) {
	var kind InstallerKind
	switch {
	case !preferMake && hasScript:
		kind = InstallerScript
	case hasScript && !hasMake:
		kind = InstallerScript
	case preferMake && hasMake:
		kind = InstallerMake
	case hasMake && !hasScript:
		kind = InstallerMake
	default:
		return InstallerMake, fmt.Errorf("%w: neither %s nor %s found, assuming %s",
			ErrClassificationAmbiguous, MakeDescriptor, ScriptDescriptor, MakeDescriptor)
	}

	if kind == InstallerScript && !scriptAvailable {
		return InstallerMake, fmt.Errorf("%w: %s builder unavailable, falling back to %s",
			ErrClassificationAmbiguous, ScriptDescriptor, MakeDescriptor)
	}
	return kind, nil
}

// Classify chooses the build system for the extracted tree. The choice is
// stable: once recorded it is not recomputed, even under force.
func (a *Artifact) Classify(_ context.Context, env *Env) error {
	st := a.Status()
	if st.Extracted == "" {
		return newError(ErrPreconditionFailed, a, StageClassify, errors.New("not extracted"))
	}
	if st.Installer != InstallerNone {
		return nil
	}

	hasMake, hasScript := a.descriptors()
	sb := env.builder(InstallerScript)
	scriptOK := sb != nil && sb.Available() && env.cfg().Builders.Script.Enabled

	kind, warning := ChooseInstaller(env.cfg().PreferMake, hasMake, hasScript, scriptOK)
	if warning != nil {
		env.warn(a, newError(ErrClassificationAmbiguous, a, StageClassify, warning))
	}
	st.Installer = kind
	st.Notef("build system: %s", kind)
	return nil
}

func (a *Artifact) descriptors() (hasMake, hasScript bool) {
	dir := a.Status().Extracted
	return isFile(filepath.Join(dir, MakeDescriptor)), isFile(filepath.Join(dir, ScriptDescriptor))
}

// VerifySignature checks the extracted tree's signed manifest when
// signatures are required. A failure is terminal and is reported to the
// test-report sink with the artifact's trail.
func (a *Artifact) VerifySignature(ctx context.Context, env *Env, opts Options) (err error) {
	st := a.Status()
	if st.Extracted == "" {
		return newError(ErrPreconditionFailed, a, StageVerify, errors.New("not extracted"))
	}
	if !env.cfg().SignatureRequired {
		st.Signature = VerdictSkipped
		return nil
	}
	if st.Signature == VerdictOK && !opts.Force {
		return nil
	}

	start := time.Now()
	defer func() { env.observe(a, StageVerify, start, err) }()

	var ok bool
	var verr error
	if env.Signatures == nil {
		verr = errors.New("no signature verifier configured")
	} else {
		ok, verr = env.Signatures.Verify(ctx, st.Extracted)
	}
	if verr != nil || !ok {
		st.Signature = VerdictFailed
		st.Notef("signature verification failed: %v", verr)
		env.report(ctx, a, StageVerify, true)
		return newError(ErrUntrustedArtifact, a, StageVerify, verr)
	}
	st.Signature = VerdictOK
	st.Note("signature ok")
	return nil
}

// Readme returns the first README file of the extracted tree, cached.
func (a *Artifact) Readme() (string, error) {
	st := a.Status()
	if st.Readme != "" {
		return st.Readme, nil
	}
	if st.Extracted == "" {
		return "", newError(ErrPreconditionFailed, a, StageExtract, errors.New("not extracted"))
	}

	entries, err := os.ReadDir(st.Extracted)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", st.Extracted, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(strings.ToUpper(e.Name()), "README") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(st.Extracted, e.Name()))
		if err != nil {
			return "", fmt.Errorf("read readme: %w", err)
		}
		st.Readme = string(data)
		return st.Readme, nil
	}
	return "", fmt.Errorf("%s: no README found", a.Name)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
