// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

const (
	TargetPrepare BuildTarget = iota + 1
	TargetCreate
)

// BuildTarget selects how far Build goes.
type BuildTarget int

func (a *Artifact) buildRequest(env *Env) BuildRequest {
	return BuildRequest{
		Name:    a.Name,
		Dir:     a.Status().Extracted,
		Prefix:  env.cfg().Prefix,
		Verbose: env.cfg().Verbose,
		Log:     env.log().StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer(),
	}
}

func (a *Artifact) activeBuilder(env *Env, stage Stage) (Builder, error) {
	st := a.Status()
	if st.Installer == InstallerNone {
		return nil, newError(ErrPreconditionFailed, a, stage, errors.New("build system not classified"))
	}
	b := env.builder(st.Installer)
	if b == nil || !b.Available() {
		return nil, newError(ErrBuildFailed, a, stage, fmt.Errorf("no %s builder available", st.Installer))
	}
	return b, nil
}

// Build runs Prepare (once) and, for TargetCreate, Create followed by the
// test run. It returns the distribution handle.
func (a *Artifact) Build(ctx context.Context, env *Env, target BuildTarget, opts Options) (string, error) {
	b, err := a.activeBuilder(env, StagePrepare)
	if err != nil {
		return "", err
	}
	st := a.Status()
	req := a.buildRequest(env)

	if !st.Prepared || opts.Force {
		if err := a.prepare(ctx, env, b, req); err != nil {
			return "", err
		}
	}
	st.Dist = req.Dir
	if target == TargetPrepare {
		return st.Dist, nil
	}

	if !st.Created || opts.Force {
		start := time.Now()
		err := b.Create(ctx, req)
		env.observe(a, StageCreate, start, err)
		if err != nil {
			st.Notef("create failed: %v", err)
			return "", newError(ErrBuildFailed, a, StageCreate, err)
		}
		st.Created = true
		st.Note("created")
	}

	if opts.SkipTest || env.cfg().SkipTest {
		st.Tested = VerdictSkipped
		return st.Dist, nil
	}
	if st.Tested != VerdictOK || opts.Force {
		if err := a.test(ctx, env, b, req); err != nil {
			return "", err
		}
	}
	return st.Dist, nil
}

func (a *Artifact) prepare(ctx context.Context, env *Env, b Builder, req BuildRequest) (err error) {
	st := a.Status()
	start := time.Now()
	defer func() { env.observe(a, StagePrepare, start, err) }()

	if err := b.Prepare(ctx, req); err != nil {
		st.Notef("prepare failed: %v", err)
		return newError(ErrBuildFailed, a, StagePrepare, err)
	}
	reqs, err := b.Prereqs(ctx, req)
	if err != nil {
		return newError(ErrBuildFailed, a, StagePrepare, fmt.Errorf("scan prerequisites: %w", err))
	}
	st.MergePrereqs(reqs)
	st.Prepared = true
	st.Notef("prepared, %d prerequisites", len(reqs))
	return nil
}

func (a *Artifact) test(ctx context.Context, env *Env, b Builder, req BuildRequest) (err error) {
	st := a.Status()
	start := time.Now()
	defer func() { env.observe(a, StageTest, start, err) }()

	res, err := b.Test(ctx, req)
	if err != nil {
		st.Tested = VerdictFailed
		st.Notef("test run failed: %v", err)
		env.report(ctx, a, StageTest, true)
		return newError(ErrBuildFailed, a, StageTest, err)
	}
	if !res.Ran {
		st.Tested = VerdictSkipped
		return nil
	}
	if res.Output != "" {
		st.Note(res.Output)
	}
	env.report(ctx, a, StageTest, !res.Passed)
	if !res.Passed {
		st.Tested = VerdictFailed
		return newError(ErrBuildFailed, a, StageTest, errors.New("tests failed"))
	}
	st.Tested = VerdictOK
	return nil
}

// InstallBuilt has the builder install into a staging directory, promotes
// the staged files under the prefix and records them in the installed index.
func (a *Artifact) InstallBuilt(ctx context.Context, env *Env, opts Options) (err error) {
	st := a.Status()
	if !st.Created {
		return newError(ErrPreconditionFailed, a, StageInstall, errors.New("not built"))
	}
	if st.Installed && !opts.Force {
		return nil
	}
	b, err := a.activeBuilder(env, StageInstall)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { env.observe(a, StageInstall, start, err) }()

	staging := env.dir("stage", a.Name)
	if err := os.RemoveAll(staging); err != nil {
		return newError(ErrInstallFailed, a, StageInstall, err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return newError(ErrInstallFailed, a, StageInstall, err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	req := a.buildRequest(env)
	req.DestDir = staging
	if err := b.InstallBuilt(ctx, req); err != nil {
		st.Notef("install failed: %v", err)
		return newError(ErrInstallFailed, a, StageInstall, err)
	}

	files, dirs, err := promote(staging, req.Prefix)
	if err != nil {
		return newError(ErrInstallFailed, a, StageInstall, err)
	}
	if err := a.record(env, opts, files, dirs); err != nil {
		return err
	}
	st.Installed = true
	st.Uninstalled = false
	st.Notef("installed %d files", len(files))
	return nil
}

func (a *Artifact) record(env *Env, opts Options, files, dirs []string) error {
	if env.Index == nil {
		return nil
	}
	scope := opts.Scope
	if scope == "" {
		scope = env.cfg().Scope
	}
	err := env.Index.Record(InstallRecord{
		Name:        a.Name,
		Version:     a.Version,
		Scope:       scope,
		Files:       files,
		Directories: dirs,
		InstalledAt: time.Now().UTC(),
	})
	if err != nil {
		return newError(ErrInstallFailed, a, StageInstall, fmt.Errorf("record install: %w", err))
	}
	return nil
}

// promote copies the tree staged under staging+prefix into prefix. It
// returns the installed files and the directories it had to create.
func promote(staging, prefix string) (files, dirs []string, err error) {
	src := filepath.Join(staging, prefix)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(prefix, rel)

		switch {
		case d.IsDir():
			if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
				if err := os.MkdirAll(target, 0o755); err != nil {
					return err
				}
				if rel != "." {
					dirs = append(dirs, target)
				}
			}
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(link, target); err != nil {
				return err
			}
		default:
			if err := copyFile(path, target); err != nil {
				return err
			}
		}
		files = append(files, target)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("promote staged files: %w", err)
	}
	return files, dirs, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
