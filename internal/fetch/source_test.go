// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"errors"
	"testing"
)

func TestParseSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id      string
		want    Source
		wantErr bool
	}{
		{id: "authors/J/JD/JDOE/zlib-1.3.tar.gz", want: Source{Kind: SourceMirror, Path: "authors/J/JD/JDOE/zlib-1.3.tar.gz"}},
		{id: "/lead/slash.tgz", want: Source{Kind: SourceMirror, Path: "lead/slash.tgz"}},
		{id: "gh:kiln-pm/zlib@v1.3.0", want: Source{Kind: SourceGitHub, Owner: "kiln-pm", Repo: "zlib", Tag: "v1.3.0"}},
		{id: "gh:kiln-pm/zlib", want: Source{Kind: SourceGitHub, Owner: "kiln-pm", Repo: "zlib"}},
		{id: "git+https://example.com/zlib.git#v1.3", want: Source{Kind: SourceGit, URL: "https://example.com/zlib.git", Ref: "v1.3"}},
		{id: "git+https://example.com/zlib.git", want: Source{Kind: SourceGit, URL: "https://example.com/zlib.git"}},
		{id: "", wantErr: true},
		{id: "gh:noslash", wantErr: true},
		{id: "gh:a/b/c", wantErr: true},
		{id: "git+not a url", wantErr: true},
		{id: "authors/../../etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSource(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSource) {
					t.Fatalf("err = %v, want ErrInvalidSource", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseSource(%q) = %+v, want %+v", tt.id, got, tt.want)
			}
		})
	}
}
