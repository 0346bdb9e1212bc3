// SPDX-License-Identifier: MPL-2.0

package sign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kiln-pm/kiln/internal/fetch"
	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/openpgp"
)

const (
	// ManifestFile lists the tree's files with their SHA-256 digests.
	ManifestFile = "MANIFEST"
	// SignatureFile is the armored detached signature over ManifestFile.
	SignatureFile = "MANIFEST.asc"
)

var (
	// ErrNoManifest is returned for trees that carry no signed manifest.
	ErrNoManifest = errors.New("tree has no signed manifest")
	// ErrBadSignature is returned when the manifest signature does not verify.
	ErrBadSignature = errors.New("manifest signature does not verify")
	// ErrNoKeyring is returned when the in-process verifier has no keys.
	ErrNoKeyring = errors.New("no keyring configured")
	// ErrManifestMismatch is returned when the tree differs from its manifest.
	ErrManifestMismatch = errors.New("tree does not match its manifest")
)

type (
	// Verifier implements lifecycle.SignatureVerifier.
	Verifier struct {
		gpg     string
		keyring string
		logger  *log.Logger
		// lookPath is swapped in tests to hide an installed gpg.
		lookPath func(string) (string, error)
	}

	// Option configures a Verifier.
	Option func(*Verifier)

	// MismatchError lists how a tree differs from its manifest.
	MismatchError struct {
		Modified []string
		Missing  []string
		Unlisted []string
	}
)

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.Modified) > 0 {
		parts = append(parts, "modified: "+strings.Join(e.Modified, ", "))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unlisted) > 0 {
		parts = append(parts, "not in manifest: "+strings.Join(e.Unlisted, ", "))
	}
	return ErrManifestMismatch.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *MismatchError) Unwrap() error { return ErrManifestMismatch }

// WithGPG sets the gpg binary. An empty name always uses the keyring.
func WithGPG(binary string) Option { return func(v *Verifier) { v.gpg = binary } }

// WithKeyring sets the armored public keyring used without gpg.
func WithKeyring(path string) Option { return func(v *Verifier) { v.keyring = path } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(v *Verifier) { v.logger = l } }

// New creates a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{gpg: "gpg", lookPath: exec.LookPath}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = log.New(io.Discard)
	}
	return v
}

var _ lifecycle.SignatureVerifier = (*Verifier)(nil)

// Verify checks the manifest signature and then that the tree matches the
// manifest exactly. It reports false with a reason on any failure.
func (v *Verifier) Verify(ctx context.Context, dir string) (bool, error) {
	manifest := filepath.Join(dir, ManifestFile)
	sig := filepath.Join(dir, SignatureFile)
	for _, p := range []string{manifest, sig} {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%w: %s missing", ErrNoManifest, filepath.Base(p))
		}
	}

	if err := v.checkSignature(ctx, manifest, sig); err != nil {
		return false, err
	}
	if err := checkTree(dir, manifest); err != nil {
		return false, err
	}
	return true, nil
}

func (v *Verifier) checkSignature(ctx context.Context, manifest, sig string) error {
	if v.gpg != "" {
		if bin, err := v.lookPath(v.gpg); err == nil {
			return v.gpgVerify(ctx, bin, manifest, sig)
		}
		v.logger.Debug("gpg not found, using keyring", "binary", v.gpg)
	}
	return v.keyringVerify(manifest, sig)
}

func (v *Verifier) gpgVerify(ctx context.Context, bin, manifest, sig string) error {
	args := []string{"--batch", "--status-fd", "1", "--verify", sig, manifest}
	if v.keyring != "" {
		args = append([]string{"--no-default-keyring", "--keyring", v.keyring}, args...)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		v.logger.Debug("gpg verify failed", "output", out.String())
		return fmt.Errorf("%w: gpg: %v", ErrBadSignature, err)
	}
	if !strings.Contains(out.String(), "[GNUPG:] GOODSIG") {
		return fmt.Errorf("%w: gpg reported no good signature", ErrBadSignature)
	}
	return nil
}

func (v *Verifier) keyringVerify(manifest, sig string) error {
	if v.keyring == "" {
		return ErrNoKeyring
	}
	kr, err := os.Open(v.keyring)
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	defer func() { _ = kr.Close() }()
	keys, err := openpgp.ReadArmoredKeyRing(kr)
	if err != nil {
		return fmt.Errorf("reading keyring: %w", err)
	}

	signed, err := os.Open(manifest)
	if err != nil {
		return err
	}
	defer func() { _ = signed.Close() }()
	signature, err := os.Open(sig)
	if err != nil {
		return err
	}
	defer func() { _ = signature.Close() }()

	signer, err := openpgp.CheckArmoredDetachedSignature(keys, signed, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	v.logger.Debug("good signature", "key", signer.PrimaryKey.KeyIdString())
	return nil
}

// checkTree compares every regular file below dir with the manifest.
func checkTree(dir, manifest string) error {
	f, err := os.Open(manifest)
	if err != nil {
		return err
	}
	entries, err := fetch.ParseChecksums(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifestMismatch, err)
	}

	listed := make(map[string]string, len(entries))
	for _, e := range entries {
		listed[filepath.ToSlash(filepath.Clean(e.Filename))] = e.Hash
	}

	mm := &MismatchError{}
	seen := map[string]bool{}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestFile || rel == SignatureFile {
			return nil
		}
		want, ok := listed[rel]
		if !ok {
			mm.Unlisted = append(mm.Unlisted, rel)
			return nil
		}
		seen[rel] = true
		if fetch.VerifyFile(p, want) != nil {
			mm.Modified = append(mm.Modified, rel)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for name := range listed {
		if !seen[name] {
			mm.Missing = append(mm.Missing, name)
		}
	}
	slices.Sort(mm.Missing)

	if len(mm.Modified)+len(mm.Missing)+len(mm.Unlisted) > 0 {
		return mm
	}
	return nil
}
