// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kiln-pm/kiln/pkg/version"
)

// ManifestEntry is one line of a bundle's Contents section.
type ManifestEntry struct {
	Name    string
	Version version.Version
	Note    string
	// Err is set when the version column could not be parsed; Version is then zero.
	Err error
}

var (
	headingRe  = regexp.MustCompile(`^(#{1,6}\s+|=head\d\s+)(.*)$`)
	contentsRe = regexp.MustCompile(`(?i)^contents\s*$`)

	manifestExts = map[string]bool{".md": true, ".txt": true, ".pod": true, "": true}
)

// ParseManifestLines parses the body of a Contents section: one
// "name [version] [- free text]" entry per non-blank line.
func ParseManifestLines(r io.Reader) ([]ManifestEntry, error) {
	var out []ManifestEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if e, ok := parseManifestLine(sc.Text()); ok {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}

func parseManifestLine(line string) (ManifestEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ManifestEntry{}, false
	}
	var e ManifestEntry
	head, note, _ := strings.Cut(line, " - ")
	e.Note = strings.TrimSpace(note)
	fields := strings.Fields(head)
	if len(fields) == 0 || fields[0] == "-" {
		return ManifestEntry{}, false
	}
	e.Name = fields[0]
	if len(fields) > 1 && fields[1] != "-" && fields[1] != "undef" {
		v, err := version.Parse(fields[1])
		if err != nil {
			e.Err = err
		} else {
			e.Version = v
		}
	}
	return e, true
}

// ParseManifest extracts entries from every Contents section in r. A
// section starts at a "# Contents" or "=head1 CONTENTS" heading and ends at
// the next heading.
func ParseManifest(r io.Reader) ([]ManifestEntry, error) {
	var out []ManifestEntry
	in := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if m := headingRe.FindStringSubmatch(line); m != nil {
			in = contentsRe.MatchString(strings.TrimSpace(m[2]))
			continue
		}
		if !in {
			continue
		}
		if e, ok := parseManifestLine(line); ok {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}

// scanManifests reads the Contents sections of every text file in the tree,
// in lexical path order.
func scanManifests(root string) ([]ManifestEntry, error) {
	var out []ManifestEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !manifestExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		entries, err := ParseManifest(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, entries...)
		return nil
	})
	return out, err
}

// ExpandBundle lists the members of an extracted bundle in discovery order.
// Duplicate names keep their first occurrence. Names the catalog cannot
// resolve are recorded as ErrUnresolvedMember warnings and skipped. Every
// member's minimum version is recorded in the bundle's Prereqs.
func ExpandBundle(a *Artifact, env *Env) ([]Requirement, error) {
	st := a.Status()
	if st.Extracted == "" {
		return nil, newError(ErrPreconditionFailed, a, StageExpand, errors.New("not extracted"))
	}

	entries, err := scanManifests(st.Extracted)
	if err != nil {
		return nil, newError(ErrExtract, a, StageExpand, err)
	}
	return resolveMembers(a, env, entries), nil
}

func resolveMembers(a *Artifact, env *Env, entries []ManifestEntry) []Requirement {
	st := a.Status()
	seen := map[string]bool{}
	var members []Requirement
	for _, e := range entries {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true

		if e.Err != nil {
			st.Notef("%s: ignoring version column: %v", e.Name, e.Err)
			env.log().Warn("ignoring member version", "artifact", a.Name, "member", e.Name, "err", e.Err)
		}
		var child *Artifact
		ok := false
		if env.Catalog != nil {
			child, ok = env.Catalog.Lookup(e.Name)
		}
		if !ok {
			env.warn(a, newError(ErrUnresolvedMember, a, StageExpand, fmt.Errorf("%q not in catalog", e.Name)))
			continue
		}
		st.MergePrereqs(map[string]version.Version{child.Name: e.Version})
		members = append(members, Require(child, e.Version))
	}
	st.Notef("bundle lists %d members", len(members))
	return members
}
