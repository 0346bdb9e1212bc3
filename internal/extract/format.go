// SPDX-License-Identifier: MPL-2.0

package extract

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
)

const (
	FormatUnknown Format = iota
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatZip
)

// ErrUnknownFormat is returned for files that are not a supported archive.
var ErrUnknownFormat = errors.New("unsupported archive format")

var (
	suffixes = []struct {
		suffix string
		format Format
	}{
		{".tar.gz", FormatTarGzip},
		{".tgz", FormatTarGzip},
		{".tar.zst", FormatTarZstd},
		{".tzst", FormatTarZstd},
		{".tar", FormatTar},
		{".zip", FormatZip},
	}

	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	zipMagic  = []byte("PK\x03\x04")
	tarMagic  = []byte("ustar")
)

// Format is an archive container and compression pair.
type Format int

func (f Format) String() string {
	switch f {
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatZip:
		return "zip"
	default:
		return "unknown"
	}
}

// FormatOf guesses the format from the file name.
func FormatOf(name string) Format {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format
		}
	}
	return FormatUnknown
}

// stem strips a recognized archive suffix from name.
func stem(name string) string {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return name[:len(name)-len(s.suffix)]
		}
	}
	return name
}

// sniff reads the leading bytes of path to identify its format.
func sniff(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGzip, nil
	case bytes.HasPrefix(head, zstdMagic):
		return FormatTarZstd, nil
	case bytes.HasPrefix(head, zipMagic):
		return FormatZip, nil
	case len(head) >= 262 && bytes.Equal(head[257:262], tarMagic):
		return FormatTar, nil
	default:
		return FormatUnknown, nil
	}
}
