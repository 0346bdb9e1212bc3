// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kiln-pm/kiln/internal/config"
)

// Uninstall removes the files and then the directories the installed index
// lists for the artifact in scope. Individual failures do not stop the
// remaining removals; failed file removals are counted and any count above
// zero fails the call. Directories that cannot be removed are only logged.
func (a *Artifact) Uninstall(_ context.Context, env *Env, scope config.Scope) (err error) {
	if scope == "" {
		scope = env.cfg().Scope
	}
	if env.Index == nil {
		return newError(ErrNotInstalled, a, StageUninstall, errors.New("no installed index"))
	}
	if _, ok := env.Index.InstalledVersion(a.Name); !ok {
		return newError(ErrNotInstalled, a, StageUninstall, nil)
	}

	start := time.Now()
	defer func() { env.observe(a, StageUninstall, start, err) }()

	files, err := env.Index.FilesOf(a.Name, scope)
	if err != nil {
		return newError(ErrInstallFailed, a, StageUninstall, err)
	}
	dirs, err := env.Index.DirectoriesOf(a.Name, scope)
	if err != nil {
		return newError(ErrInstallFailed, a, StageUninstall, err)
	}

	st := a.Status()
	logger := env.log()
	failures := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			failures++
			st.Notef("could not remove %s: %v", f, err)
			logger.Warn("could not remove file", "artifact", a.Name, "path", f, "err", err)
		}
	}

	for _, d := range deepestFirst(dirs) {
		if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
			st.Notef("kept directory %s: %v", d, err)
			logger.Warn("could not remove directory", "artifact", a.Name, "path", d, "err", err)
		}
	}

	if failures > 0 {
		return newError(ErrInstallFailed, a, StageUninstall,
			fmt.Errorf("%d of %d files not removed", failures, len(files)))
	}
	if err := env.Index.Forget(a.Name, scope); err != nil {
		return newError(ErrInstallFailed, a, StageUninstall, fmt.Errorf("update index: %w", err))
	}
	st.Installed = false
	st.Uninstalled = true
	st.Notef("uninstalled %d files", len(files))
	return nil
}

func deepestFirst(dirs []string) []string {
	out := slices.Clone(dirs)
	slices.SortFunc(out, func(x, y string) int {
		dx := strings.Count(filepath.Clean(x), string(filepath.Separator))
		dy := strings.Count(filepath.Clean(y), string(filepath.Separator))
		if c := cmp.Compare(dy, dx); c != 0 {
			return c
		}
		return strings.Compare(y, x)
	})
	return out
}
