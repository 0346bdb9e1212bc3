// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiln-pm/kiln/internal/lifecycle"
)

func sum(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

func TestParseChecksums(t *testing.T) {
	t.Parallel()

	a, b := sum("a"), strings.ToUpper(sum("b"))
	input := strings.Join([]string{
		a + "  zlib-1.3.tar.gz",
		"",
		"not a checksum line",
		"abc123  too-short.tar.gz",
		b + " *binary-mode.zip",
	}, "\n")

	entries, err := ParseChecksums(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0] != (ChecksumEntry{Hash: a, Filename: "zlib-1.3.tar.gz"}) {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Filename != "binary-mode.zip" || entries[1].Hash != strings.ToLower(b) {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestParseChecksums_NoValidEntries(t *testing.T) {
	t.Parallel()

	if _, err := ParseChecksums(strings.NewReader("\n\ngarbage\n")); !errors.Is(err, errNoValidEntries) {
		t.Fatalf("err = %v", err)
	}
}

func TestFindChecksum(t *testing.T) {
	t.Parallel()

	entries := []ChecksumEntry{{Hash: "h1", Filename: "a.tar.gz"}, {Hash: "h2", Filename: "b.tar.gz"}}
	if got, err := FindChecksum(entries, "b.tar.gz"); err != nil || got != "h2" {
		t.Errorf("FindChecksum = %q, %v", got, err)
	}
	if _, err := FindChecksum(entries, "c.tar.gz"); !errors.Is(err, ErrNoChecksum) {
		t.Errorf("err = %v", err)
	}
}

func TestVerifyFile(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "f.tar.gz")
	if err := os.WriteFile(p, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{"match", sum("payload"), false},
		{"case insensitive", strings.ToUpper(sum("payload")), false},
		{"mismatch", sum("other"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyFile(p, tt.expected)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ce *ChecksumError
				if !errors.As(err, &ce) || ce.Got != sum("payload") {
					t.Errorf("err = %#v", err)
				}
				if !errors.Is(err, lifecycle.ErrChecksumMismatch) {
					t.Error("mismatch does not unwrap to lifecycle.ErrChecksumMismatch")
				}
			}
		})
	}
}

func TestVerifyFile_Missing(t *testing.T) {
	t.Parallel()

	if err := VerifyFile(filepath.Join(t.TempDir(), "nope"), sum("x")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}
