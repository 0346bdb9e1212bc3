// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kiln-pm/kiln/internal/lifecycle"
)

// ChecksumsFile is the digest list published next to mirror archives.
const ChecksumsFile = "CHECKSUMS"

var (
	// ErrNoChecksum is returned when a digest list has no entry for a file.
	ErrNoChecksum = errors.New("no checksum published")

	errNoValidEntries = errors.New("no valid checksum entries found")
)

type (
	// ChecksumEntry is one line of a sha256sum-format digest list.
	ChecksumEntry struct {
		Hash     string
		Filename string
	}

	// ChecksumError is a digest mismatch. It unwraps to
	// lifecycle.ErrChecksumMismatch.
	ChecksumError struct {
		Filename string
		Expected string
		Got      string
	}
)

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Filename, e.Expected, e.Got)
}

func (e *ChecksumError) Unwrap() error { return lifecycle.ErrChecksumMismatch }

// ParseChecksums reads "<sha256>  <filename>" lines. Binary-mode markers
// ("*name") are accepted; malformed lines are skipped.
func ParseChecksums(r io.Reader) ([]ChecksumEntry, error) {
	var entries []ChecksumEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		hash, name, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		name = strings.TrimPrefix(strings.TrimLeft(name, " "), "*")
		if name == "" || !isValidHexHash(hash) {
			continue
		}
		entries = append(entries, ChecksumEntry{Hash: strings.ToLower(hash), Filename: name})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	if len(entries) == 0 {
		return nil, errNoValidEntries
	}
	return entries, nil
}

// FindChecksum returns the hash listed for filename.
func FindChecksum(entries []ChecksumEntry, filename string) (string, error) {
	for _, e := range entries {
		if e.Filename == filename {
			return e.Hash, nil
		}
	}
	return "", fmt.Errorf("%s: %w", filename, ErrNoChecksum)
}

// VerifyFile compares the SHA-256 of path with expected, ignoring case.
func VerifyFile(path, expected string) error {
	got, err := ComputeFileHash(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expected) {
		return &ChecksumError{Filename: path, Expected: strings.ToLower(expected), Got: got}
	}
	return nil
}

// ComputeFileHash streams path through SHA-256.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isValidHexHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
