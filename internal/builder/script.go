// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ErrStepFailed is returned when a build.cue step exits non-zero.
var ErrStepFailed = errors.New("build step failed")

type (
	// Script builds trees described by build.cue.
	Script struct {
		environ func() []string
	}

	// StepError reports a failed build.cue step.
	StepError struct {
		Step     string
		ExitCode int
	}
)

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step exited with status %d", e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error { return ErrStepFailed }

var _ lifecycle.Builder = (*Script)(nil)

// NewScript creates the build.cue backend.
func NewScript() *Script {
	return &Script{environ: os.Environ}
}

// Available is always true; the interpreter is built in.
func (s *Script) Available() bool { return true }

// Prepare validates build.cue and runs its prepare step.
func (s *Script) Prepare(ctx context.Context, req lifecycle.BuildRequest) error {
	return s.step(ctx, req, "prepare", nil)
}

// Prereqs returns build.cue's requires.
func (s *Script) Prereqs(_ context.Context, req lifecycle.BuildRequest) (map[string]version.Version, error) {
	d, err := LoadDescriptor(req.Dir)
	if err != nil {
		return nil, err
	}
	return d.Prereqs()
}

// Create runs the build step.
func (s *Script) Create(ctx context.Context, req lifecycle.BuildRequest) error {
	return s.step(ctx, req, "build", nil)
}

// Test runs the test step. A non-zero exit is a failed run.
func (s *Script) Test(ctx context.Context, req lifecycle.BuildRequest) (lifecycle.TestResult, error) {
	d, err := LoadDescriptor(req.Dir)
	if err != nil {
		return lifecycle.TestResult{}, err
	}
	if strings.TrimSpace(d.Test) == "" {
		return lifecycle.TestResult{}, nil
	}
	out := &capture{}
	err = s.step(ctx, req, "test", out)
	var stepErr *StepError
	switch {
	case err == nil:
		return lifecycle.TestResult{Ran: true, Passed: true, Output: out.String()}, nil
	case errors.As(err, &stepErr):
		return lifecycle.TestResult{Ran: true, Passed: false, Output: out.String()}, nil
	default:
		return lifecycle.TestResult{}, err
	}
}

// InstallBuilt runs the install step with DESTDIR set.
func (s *Script) InstallBuilt(ctx context.Context, req lifecycle.BuildRequest) error {
	return s.step(ctx, req, "install", nil)
}

func (s *Script) step(ctx context.Context, req lifecycle.BuildRequest, name string, out io.Writer) error {
	d, err := LoadDescriptor(req.Dir)
	if err != nil {
		return err
	}
	var src string
	switch name {
	case "prepare":
		src = d.Prepare
	case "build":
		src = d.Build
	case "test":
		src = d.Test
	case "install":
		src = d.Install
	}
	if strings.TrimSpace(src) == "" {
		return nil
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(src), lifecycle.ScriptDescriptor+":"+name)
	if err != nil {
		return fmt.Errorf("parsing %s step: %w", name, err)
	}

	w := sink(req.Log)
	if out != nil {
		w = io.MultiWriter(w, out)
	}
	runner, err := interp.New(
		interp.Dir(req.Dir),
		interp.Env(expand.ListEnviron(s.env(req, d)...)),
		interp.StdIO(nil, w, w),
	)
	if err != nil {
		return fmt.Errorf("creating interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return &StepError{Step: name, ExitCode: int(status)}
		}
		return fmt.Errorf("%s step: %w", name, err)
	}
	return nil
}

// env layers build.cue's env over the host environment, then the variables
// kiln owns.
func (s *Script) env(req lifecycle.BuildRequest, d *Descriptor) []string {
	env := s.environ()
	for _, k := range slices.Sorted(maps.Keys(d.Env)) {
		env = append(env, k+"="+d.Env[k])
	}
	return append(env,
		"PREFIX="+req.Prefix,
		"DESTDIR="+req.DestDir,
		"KILN_NAME="+req.Name,
	)
}
