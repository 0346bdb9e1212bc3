// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/kiln-pm/kiln/internal/fetch"
	"github.com/kiln-pm/kiln/internal/issue"
	"github.com/kiln-pm/kiln/internal/lifecycle"
)

// issueStyle is the glamour style for long-form issue text.
var issueStyle = "dark"

var errUnknownArtifact = errors.New("unknown artifact")

// issueKinds maps error kinds to catalog entries, most specific first.
var issueKinds = []struct {
	err error
	id  issue.Id
}{
	{errUnknownArtifact, issue.ArtifactNotFoundID},
	{lifecycle.ErrChecksumMismatch, issue.ChecksumMismatchID},
	{lifecycle.ErrUntrustedArtifact, issue.UntrustedArtifactID},
	{lifecycle.ErrPrereqCycle, issue.DependencyCycleID},
	{lifecycle.ErrProtectedArtifact, issue.ProtectedArtifactID},
	{lifecycle.ErrNotInstalled, issue.NotInstalledID},
	{lifecycle.ErrUnknownFeature, issue.UnknownFeatureID},
	{lifecycle.ErrFetch, issue.FetchFailedID},
	{fetch.ErrNoMirrors, issue.FetchFailedID},
	{lifecycle.ErrBuildFailed, issue.BuildFailedID},
	{lifecycle.ErrInstallFailed, issue.InstallFailedID},
}

func unknownArtifact(name string) error {
	return issue.For("resolve", name).
		Hint("check the catalog file configured under 'catalog', or add " + name + ".cue to the catalog.d directory").
		WithIssue(issue.ArtifactNotFoundID).
		Wrap(errUnknownArtifact)
}

// issueFor picks the catalog entry explaining err.
func issueFor(err error) (issue.Id, bool) {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue, true
	}
	for _, k := range issueKinds {
		if errors.Is(err, k.err) {
			return k.id, true
		}
	}
	return 0, false
}

// formatErrorForDisplay formats an error for user display. Actionable
// errors carry their suggestions; verbose mode adds the cause chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// renderError writes err and, when one applies, the long-form issue text.
func renderError(w io.Writer, err error, verbose bool) {
	fmt.Fprintln(w, ErrorStyle.Render("error: ")+formatErrorForDisplay(err, verbose))
	id, ok := issueFor(err)
	if !ok {
		return
	}
	rendered, rerr := issue.Get(id).Render(issueStyle)
	if rerr != nil {
		return
	}
	fmt.Fprint(w, rendered)
}

// fail renders err and converts it to an ExitError.
func (a *App) fail(err error) error {
	renderError(a.stderr, err, a.verbose)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitError{Code: exitCodeFor(err), Err: err}
}
