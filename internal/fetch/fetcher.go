// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrNoMirrors is returned when a mirror path is fetched with no mirrors configured.
var ErrNoMirrors = errors.New("no mirrors configured")

type (
	// Fetcher retrieves artifacts from mirrors, GitHub releases and git
	// repositories. It implements lifecycle.Fetcher and
	// lifecycle.ChecksumVerifier.
	Fetcher struct {
		mirrors []string
		xfer    *transfer
		github  *GitHubClient
		git     *gitCloner
		gitOff  bool
		logger  *log.Logger
	}

	// Option configures a Fetcher.
	Option func(*settings)

	settings struct {
		httpClient *http.Client
		userAgent  string
		githubAPI  string
		token      string
		gitAuth    transport.AuthMethod
		gitOff     bool
		logger     *log.Logger
	}
)

// WithHTTPClient sets the client used for mirrors and the GitHub API.
func WithHTTPClient(c *http.Client) Option { return func(s *settings) { s.httpClient = c } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(s *settings) { s.userAgent = ua } }

// WithGitHubAPI overrides the GitHub API base URL.
func WithGitHubAPI(base string) Option { return func(s *settings) { s.githubAPI = base } }

// WithGitHubToken authenticates GitHub API requests.
func WithGitHubToken(token string) Option { return func(s *settings) { s.token = token } }

// WithGitAuth sets credentials for git sources.
func WithGitAuth(auth transport.AuthMethod) Option { return func(s *settings) { s.gitAuth = auth } }

// WithoutGit rejects git sources.
func WithoutGit() Option { return func(s *settings) { s.gitOff = true } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *settings) { s.logger = l } }

// New creates a Fetcher trying mirrors in order.
func New(mirrors []string, opts ...Option) *Fetcher {
	s := settings{httpClient: http.DefaultClient, userAgent: "kiln"}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	return &Fetcher{
		mirrors: mirrors,
		xfer:    &transfer{httpClient: s.httpClient, userAgent: s.userAgent},
		github:  NewGitHubClient(s.httpClient, s.githubAPI, s.token, s.userAgent),
		git:     &gitCloner{auth: s.gitAuth},
		gitOff:  s.gitOff,
		logger:  s.logger,
	}
}

// Fetch retrieves a into opts.Dir and returns the local path. An override
// that is a URL is downloaded; a local path is used in place.
func (f *Fetcher) Fetch(ctx context.Context, a *lifecycle.Artifact, opts lifecycle.FetchOptions) (string, error) {
	if opts.Override != "" {
		return f.fetchOverride(ctx, opts)
	}

	src, err := ParseSource(a.PackageID)
	if err != nil {
		return "", err
	}
	switch src.Kind {
	case SourceGitHub:
		return f.fetchRelease(ctx, a, src, opts.Dir)
	case SourceGit:
		if f.gitOff {
			return "", fmt.Errorf("%s: git sources are disabled", a.PackageID)
		}
		dest := filepath.Join(opts.Dir, checkoutName(a, src))
		commit, err := f.git.clone(ctx, src, dest)
		if err != nil {
			return "", err
		}
		f.logger.Debug("cloned", "artifact", a.Name, "commit", commit)
		return dest, nil
	default:
		return f.fetchMirror(ctx, src, opts.Dir)
	}
}

func (f *Fetcher) fetchOverride(ctx context.Context, opts lifecycle.FetchOptions) (string, error) {
	if isURL(opts.Override) {
		return f.xfer.download(ctx, opts.Override, opts.Dir, path.Base(redactURL(opts.Override)))
	}
	abs, err := filepath.Abs(opts.Override)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("override source: %w", err)
	}
	return abs, nil
}

func (f *Fetcher) fetchMirror(ctx context.Context, src Source, dir string) (string, error) {
	if len(f.mirrors) == 0 {
		return "", ErrNoMirrors
	}
	var errs []error
	for _, m := range f.mirrors {
		p, err := f.xfer.download(ctx, join(m, src.Path), dir, path.Base(src.Path))
		if err == nil {
			return p, nil
		}
		f.logger.Debug("mirror failed", "mirror", m, "path", src.Path, "err", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (f *Fetcher) fetchRelease(ctx context.Context, a *lifecycle.Artifact, src Source, dir string) (string, error) {
	rel, err := f.github.Release(ctx, src)
	if err != nil {
		return "", err
	}
	asset, err := rel.ArchiveFor(a.Name)
	if err != nil {
		return "", err
	}
	body, err := f.github.Download(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()
	return writeFile(body, dir, asset.Name)
}

// Verify checks path against the digest published for a. It never mutates a.
func (f *Fetcher) Verify(ctx context.Context, p string, a *lifecycle.Artifact) (bool, error) {
	src, err := ParseSource(a.PackageID)
	if err != nil {
		return false, err
	}

	var entries []ChecksumEntry
	switch src.Kind {
	case SourceGit:
		return verifyPinned(p, src)
	case SourceGitHub:
		entries, err = f.releaseChecksums(ctx, src)
	default:
		entries, err = f.mirrorChecksums(ctx, src)
	}
	if err != nil {
		return false, err
	}

	want, err := FindChecksum(entries, filepath.Base(p))
	if err != nil {
		return false, err
	}
	if err := VerifyFile(p, want); err != nil {
		return false, err
	}
	return true, nil
}

// mirrorChecksums reads CHECKSUMS from the archive's directory on the first
// mirror that serves it.
func (f *Fetcher) mirrorChecksums(ctx context.Context, src Source) ([]ChecksumEntry, error) {
	if len(f.mirrors) == 0 {
		return nil, ErrNoMirrors
	}
	rel := path.Join(path.Dir(src.Path), ChecksumsFile)
	var errs []error
	for _, m := range f.mirrors {
		body, err := f.xfer.open(ctx, join(m, rel))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries, err := ParseChecksums(body)
		_ = body.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
			continue
		}
		return entries, nil
	}
	return nil, errors.Join(errs...)
}

func (f *Fetcher) releaseChecksums(ctx context.Context, src Source) ([]ChecksumEntry, error) {
	rel, err := f.github.Release(ctx, src)
	if err != nil {
		return nil, err
	}
	asset, ok := rel.Asset(releaseChecksumsAsset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel.TagName, ErrNoChecksum)
	}
	body, err := f.github.Download(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	return ParseChecksums(body)
}

// checkoutName is the directory a git source is cloned into.
func checkoutName(a *lifecycle.Artifact, src Source) string {
	ref := src.Ref
	if ref == "" {
		ref = "HEAD"
	}
	return a.Name + "-" + strings.NewReplacer("/", "_", "\\", "_").Replace(ref)
}

func writeFile(r io.Reader, dir, name string) (_ string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return dest, nil
}
