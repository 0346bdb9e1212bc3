// SPDX-License-Identifier: MPL-2.0

package builder

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/cueutil"
	"github.com/kiln-pm/kiln/pkg/version"
)

//go:embed build_schema.cue
var buildSchema []byte

// Descriptor is a decoded build.cue.
type Descriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Requires maps prerequisite names to minimum versions.
	Requires map[string]string `json:"requires"`
	Env      map[string]string `json:"env"`
	Prepare  string            `json:"prepare"`
	Build    string            `json:"build"`
	Test     string            `json:"test"`
	Install  string            `json:"install"`
}

// LoadDescriptor reads build.cue from dir.
func LoadDescriptor(dir string) (*Descriptor, error) {
	path := filepath.Join(dir, lifecycle.ScriptDescriptor)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := cueutil.ParseAndDecode[Descriptor](buildSchema, data, "#Build",
		cueutil.WithFilename(path), cueutil.WithConcrete())
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Prereqs parses the requires map.
func (d *Descriptor) Prereqs() (map[string]version.Version, error) {
	out := make(map[string]version.Version, len(d.Requires))
	for name, raw := range d.Requires {
		v, err := version.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("requires %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// scanPrereqs reads prerequisites from build.cue when the tree has one.
func scanPrereqs(dir string) (map[string]version.Version, error) {
	d, err := LoadDescriptor(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.Prereqs()
}
