// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"
)

// Make builds trees with a Makefile using the host make binary.
type Make struct {
	binary string
	// lookPath is replaced in tests.
	lookPath func(string) (string, error)
}

var _ lifecycle.Builder = (*Make)(nil)

// NewMake creates the Make backend. An empty binary means "make".
func NewMake(binary string) *Make {
	if binary == "" {
		binary = "make"
	}
	return &Make{binary: binary, lookPath: exec.LookPath}
}

// Available reports whether the make binary is on PATH.
func (m *Make) Available() bool {
	_, err := m.lookPath(m.binary)
	return err == nil
}

// Prepare runs ./configure when the tree ships one and no Makefile exists
// yet. Trees that already carry a Makefile need no preparation.
func (m *Make) Prepare(ctx context.Context, req lifecycle.BuildRequest) error {
	if _, err := os.Stat(filepath.Join(req.Dir, lifecycle.MakeDescriptor)); err == nil {
		return nil
	}
	configure := filepath.Join(req.Dir, "configure")
	info, err := os.Stat(configure)
	if err != nil || info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s has neither %s nor an executable configure", req.Dir, lifecycle.MakeDescriptor)
	}
	return run(ctx, req, nil, configure, "--prefix="+req.Prefix)
}

// Prereqs reads requires from a build.cue shipped next to the Makefile.
func (m *Make) Prereqs(_ context.Context, req lifecycle.BuildRequest) (map[string]version.Version, error) {
	return scanPrereqs(req.Dir)
}

// Create runs the default target.
func (m *Make) Create(ctx context.Context, req lifecycle.BuildRequest) error {
	return run(ctx, req, nil, m.binary, m.args(req)...)
}

// Test runs the test or check target when the Makefile defines one. A
// failing target is a failed run, not an error.
func (m *Make) Test(ctx context.Context, req lifecycle.BuildRequest) (lifecycle.TestResult, error) {
	target, err := testTarget(filepath.Join(req.Dir, lifecycle.MakeDescriptor))
	if err != nil {
		return lifecycle.TestResult{}, err
	}
	if target == "" {
		return lifecycle.TestResult{}, nil
	}
	out := &capture{}
	err = run(ctx, req, out, m.binary, append(m.args(req), target)...)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return lifecycle.TestResult{Ran: true, Passed: true, Output: out.String()}, nil
	case errors.As(err, &exitErr):
		return lifecycle.TestResult{Ran: true, Passed: false, Output: out.String()}, nil
	default:
		return lifecycle.TestResult{}, err
	}
}

// InstallBuilt runs the install target into req.DestDir.
func (m *Make) InstallBuilt(ctx context.Context, req lifecycle.BuildRequest) error {
	return run(ctx, req, nil, m.binary, append(m.args(req), "DESTDIR="+req.DestDir, "install")...)
}

func (m *Make) args(req lifecycle.BuildRequest) []string {
	args := []string{"-C", req.Dir, "PREFIX=" + req.Prefix}
	if !req.Verbose {
		args = append(args, "--no-print-directory")
	}
	return args
}

// testTarget returns "test" or "check" when the Makefile declares it.
func testTarget(makefile string) (string, error) {
	f, err := os.Open(makefile)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	found := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		for _, t := range []string{"test", "check"} {
			if strings.HasPrefix(line, t+":") {
				found[t] = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	switch {
	case found["test"]:
		return "test", nil
	case found["check"]:
		return "check", nil
	default:
		return "", nil
	}
}

// run executes name in req.Dir with output sent to req.Log and, when set, out.
func run(ctx context.Context, req lifecycle.BuildRequest, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), "PREFIX="+req.Prefix, "KILN_NAME="+req.Name)
	w := sink(req.Log)
	if out != nil {
		w = io.MultiWriter(w, out)
	}
	cmd.Stdout, cmd.Stderr = w, w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", filepath.Base(name), strings.Join(args, " "), err)
	}
	return nil
}
