// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/cueutil"

	"github.com/charmbracelet/log"
)

// DirMiss returns a miss handler reading single-entry documents named
// <name>.cue from dir. Entries loaded this way carry no author.
func DirMiss(dir string, logger *log.Logger) MissFunc {
	resolver := New()
	return func(name string) (*lifecycle.Artifact, bool) {
		if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return nil, false
		}
		path := filepath.Join(dir, name+".cue")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false
		}
		res, err := cueutil.ParseAndDecode[artifactDoc](schema, data, "#Entry", cueutil.WithFilename(path), cueutil.WithConcrete())
		if err != nil {
			if logger != nil {
				logger.Warn("ignoring invalid catalog entry", "path", path, "err", err)
			}
			return nil, false
		}
		if res.Value.Name != name {
			if logger != nil {
				logger.Warn("catalog entry name does not match its file", "path", path, "name", res.Value.Name)
			}
			return nil, false
		}
		res.Value.Author = ""
		a, err := resolver.build(*res.Value)
		if err != nil {
			if logger != nil {
				logger.Warn("ignoring invalid catalog entry", "path", path, "err", err)
			}
			return nil, false
		}
		return a, true
	}
}
