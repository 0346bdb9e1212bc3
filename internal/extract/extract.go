// SPDX-License-Identifier: MPL-2.0

package extract

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxSize caps the bytes written for one archive.
const DefaultMaxSize int64 = 2 << 30

var (
	// ErrUnsafePath is returned for entries that would land outside the tree.
	ErrUnsafePath = errors.New("archive entry escapes the extraction root")
	// ErrTooLarge is returned when an archive expands past the size cap.
	ErrTooLarge = errors.New("archive expands past the size limit")
)

type (
	// Extractor implements lifecycle.Extractor.
	Extractor struct {
		maxSize int64
		logger  *log.Logger
	}

	// Option configures an Extractor.
	Option func(*Extractor)

	// budget counts expanded bytes against the size cap.
	budget struct {
		left int64
	}
)

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int64) Option { return func(e *Extractor) { e.maxSize = n } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(e *Extractor) { e.logger = l } }

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	return e
}

var _ lifecycle.Extractor = (*Extractor)(nil)

// Extract unpacks archive below opts.Dir and returns the tree root. The
// tree replaces any earlier extraction of the same archive. When the
// archive holds a single top-level directory, that directory is the root.
func (e *Extractor) Extract(ctx context.Context, archive string, opts lifecycle.ExtractOptions) (string, error) {
	info, err := os.Stat(archive)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return archive, nil
	}

	format := FormatOf(archive)
	if format == FormatUnknown {
		if format, err = sniff(archive); err != nil {
			return "", err
		}
	}
	if format == FormatUnknown {
		return "", fmt.Errorf("%s: %w", filepath.Base(archive), ErrUnknownFormat)
	}

	dest := filepath.Join(opts.Dir, stem(filepath.Base(archive)))
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clearing %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	r, err := newSandbox(dest)
	if err != nil {
		return "", err
	}
	b := &budget{left: e.maxSize}
	switch format {
	case FormatZip:
		err = e.unzip(ctx, archive, r, b)
	default:
		err = e.untar(ctx, archive, format, r, b)
	}
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("extracting %s: %w", filepath.Base(archive), err)
	}

	root, err := treeRoot(dest)
	if err != nil {
		return "", err
	}
	e.logger.Debug("extracted", "archive", archive, "format", format, "root", root)
	return root, nil
}

func (e *Extractor) untar(ctx context.Context, archive string, format Format, r sandbox, b *budget) (err error) {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var in io.Reader = f
	switch format {
	case FormatTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		in = gz
	case FormatTarZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	tr := tar.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		target, err := safeJoin(r.lexical, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := r.mkdir(target); err != nil {
				return fmt.Errorf("%s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := r.writeEntry(target, tr, hdr.FileInfo().Mode(), b); err != nil {
				return fmt.Errorf("%s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := r.symlink(target, hdr.Linkname); err != nil {
				return fmt.Errorf("%s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			if err := r.hardlink(target, hdr.Linkname); err != nil {
				return fmt.Errorf("%s: %w", hdr.Name, err)
			}
		default:
			e.logger.Debug("skipping tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func (e *Extractor) unzip(ctx context.Context, archive string, r sandbox, b *budget) (err error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, file := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(r.lexical, file.Name)
		if err != nil {
			return err
		}
		mode := file.Mode()
		switch {
		case mode.IsDir():
			if err := r.mkdir(target); err != nil {
				return fmt.Errorf("%s: %w", file.Name, err)
			}
		case mode&fs.ModeSymlink != 0:
			link, err := readAll(file)
			if err != nil {
				return err
			}
			if err := r.symlink(target, link); err != nil {
				return fmt.Errorf("%s: %w", file.Name, err)
			}
		default:
			rc, err := file.Open()
			if err != nil {
				return fmt.Errorf("%s: %w", file.Name, err)
			}
			err = r.writeEntry(target, rc, mode, b)
			_ = rc.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", file.Name, err)
			}
		}
	}
	return nil
}

func readAll(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	return string(data), err
}

// safeJoin resolves an archive entry name below dest.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	if clean == "" || clean == "." {
		return dest, nil
	}
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, clean), nil
}

// sandbox is an extraction directory. Entry names are checked lexically by
// safeJoin; sandbox additionally resolves the links already written below it
// so no write goes through a link that leads outside.
type sandbox struct {
	lexical  string
	resolved string
}

func newSandbox(dest string) (sandbox, error) {
	resolved, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return sandbox{}, err
	}
	return sandbox{lexical: dest, resolved: resolved}, nil
}

func (r sandbox) contains(p string) bool {
	rel, err := filepath.Rel(r.resolved, p)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}

// resolve returns the path p names on disk: its longest existing prefix
// with links resolved, followed by the missing components as they are.
func (r sandbox) resolve(p string) (string, error) {
	var missing []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// place maps target to the path a write really touches. The final
// component is not resolved, so callers never follow a link at target.
func (r sandbox) place(target string) (string, error) {
	dir, err := r.resolve(filepath.Dir(target))
	if err != nil {
		return "", err
	}
	if !r.contains(dir) {
		return "", fmt.Errorf("%w: %s leads outside through a link", ErrUnsafePath, target)
	}
	return filepath.Join(dir, filepath.Base(target)), nil
}

func (r sandbox) mkdir(target string) error {
	dir, err := r.resolve(target)
	if err != nil {
		return err
	}
	if !r.contains(dir) {
		return fmt.Errorf("%w: %s leads outside through a link", ErrUnsafePath, target)
	}
	return os.MkdirAll(dir, 0o755)
}

// symlink creates target pointing at link, refusing links that resolve
// outside the sandbox from where they are really created.
func (r sandbox) symlink(target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: absolute link %s", ErrUnsafePath, link)
	}
	p, err := r.place(target)
	if err != nil {
		return err
	}
	if !r.contains(filepath.Join(filepath.Dir(p), link)) {
		return fmt.Errorf("%w: link %s", ErrUnsafePath, link)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.Symlink(link, p)
}

func (r sandbox) hardlink(target, name string) error {
	src, err := safeJoin(r.lexical, name)
	if err != nil {
		return err
	}
	if src, err = r.place(src); err != nil {
		return err
	}
	p, err := r.place(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.Link(src, p)
}

func (r sandbox) writeEntry(target string, in io.Reader, mode fs.FileMode, b *budget) (err error) {
	p, err := r.place(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if fi, err := os.Lstat(p); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	perm := mode.Perm() | 0o200
	out, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(in, b.left+1))
	b.left -= n
	if err != nil {
		return err
	}
	if b.left < 0 {
		return ErrTooLarge
	}
	return nil
}

// treeRoot descends into dest when it holds exactly one directory.
func treeRoot(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}
	return dest, nil
}
