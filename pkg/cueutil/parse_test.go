// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Pkg: {
	name:     string & =~"^[a-z]+$"
	version?: string
	files?: [...string]
}
`

type testPkg struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Files   []string `json:"files"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		opts    []Option
		wantErr string
		want    string
	}{
		{name: "valid", data: `name: "zlib", version: "1.3"`, want: "zlib"},
		{name: "schema violation", data: `name: "Zlib"`, opts: []Option{WithFilename("pkg.cue")}, wantErr: "pkg.cue: name"},
		{name: "syntax error", data: `name: `, wantErr: "<input>"},
		{name: "too large", data: `name: "zlib"`, opts: []Option{WithMaxFileSize(4)}, wantErr: "exceeds maximum"},
		{name: "unknown field closed", data: `name: "zlib", extra: 1`, wantErr: "extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := ParseAndDecodeString[testPkg](testSchema, []byte(tt.data), "#Pkg", tt.opts...)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Value.Name != tt.want {
				t.Errorf("Name = %q, want %q", res.Value.Name, tt.want)
			}
		})
	}
}

func TestParseAndDecode_MissingDefinition(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecodeString[testPkg](testSchema, []byte(`name: "a"`), "#Nope")
	if err == nil || !strings.Contains(err.Error(), "#Nope") {
		t.Fatalf("expected missing-definition error, got %v", err)
	}
}

func TestParseAndDecode_Concrete(t *testing.T) {
	t.Parallel()

	schema := `#Pkg: {name: string, version: string}`
	if _, err := ParseAndDecodeString[testPkg](schema, []byte(`name: "a"`), "#Pkg", WithConcrete()); err == nil {
		t.Fatal("expected error for non-concrete version")
	}
}

func TestFormatError_NonCUE(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x.cue") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	base := errors.New("boom")
	err := FormatError(base, "x.cue")
	if !errors.Is(err, base) {
		t.Errorf("non-CUE error should stay wrapped, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "x.cue: ") {
		t.Errorf("missing file prefix: %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"name"}, "name"},
		{[]string{"artifacts", "zlib", "mirrors", "0"}, "artifacts.zlib.mirrors[0]"},
		{[]string{"0"}, "0"},
		{[]string{"a", "10", "b"}, "a[10].b"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "f"); err != nil {
		t.Errorf("at limit: %v", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "f"); err == nil {
		t.Error("over limit should fail")
	}
}
