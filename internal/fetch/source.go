// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// SourceMirror is a path below the configured mirrors.
	SourceMirror SourceKind = iota
	// SourceGitHub is a GitHub release asset.
	SourceGitHub
	// SourceGit is a git repository ref.
	SourceGit

	githubPrefix = "gh:"
	gitPrefix    = "git+"
)

// ErrInvalidSource is returned for package ids that cannot be parsed.
var ErrInvalidSource = errors.New("invalid package id")

type (
	// SourceKind selects the transport for a package id.
	SourceKind int

	// Source is a parsed package id.
	Source struct {
		Kind SourceKind
		// Path is the mirror-relative path for SourceMirror.
		Path string
		// Owner, Repo and Tag describe a SourceGitHub release; an empty Tag
		// means the newest stable release.
		Owner string
		Repo  string
		Tag   string
		// URL and Ref describe a SourceGit repository; an empty Ref means
		// the default branch.
		URL string
		Ref string
	}
)

func (k SourceKind) String() string {
	switch k {
	case SourceGitHub:
		return "github"
	case SourceGit:
		return "git"
	default:
		return "mirror"
	}
}

// ParseSource parses a package id.
func ParseSource(id string) (Source, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return Source{}, fmt.Errorf("%w: empty", ErrInvalidSource)

	case strings.HasPrefix(id, githubPrefix):
		rest := strings.TrimPrefix(id, githubPrefix)
		repoPart, tag, _ := strings.Cut(rest, "@")
		owner, repo, ok := strings.Cut(repoPart, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return Source{}, fmt.Errorf("%w: %q: want gh:owner/repo[@tag]", ErrInvalidSource, id)
		}
		return Source{Kind: SourceGitHub, Owner: owner, Repo: repo, Tag: tag}, nil

	case strings.HasPrefix(id, gitPrefix):
		raw, ref, _ := strings.Cut(strings.TrimPrefix(id, gitPrefix), "#")
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" {
			return Source{}, fmt.Errorf("%w: %q: want git+<url>[#ref]", ErrInvalidSource, id)
		}
		return Source{Kind: SourceGit, URL: raw, Ref: ref}, nil

	default:
		clean := strings.TrimLeft(id, "/")
		if strings.Contains(clean, "..") {
			return Source{}, fmt.Errorf("%w: %q escapes the mirror root", ErrInvalidSource, id)
		}
		return Source{Kind: SourceMirror, Path: clean}, nil
	}
}
