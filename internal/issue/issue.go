// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	ArtifactNotFoundID Id = iota + 1
	FetchFailedID
	ChecksumMismatchID
	UntrustedArtifactID
	ClassificationAmbiguousID
	BuildFailedID
	InstallFailedID
	ProtectedArtifactID
	NotInstalledID
	UnknownFeatureID
	ConfigLoadFailedID
	DependencyCycleID
)

type (
	// Id identifies an entry in the issue catalog.
	//
	//nolint:revive // Id matches the catalog's historical naming
	Id int

	// MarkdownMsg is Markdown rendered to the terminal through glamour.
	MarkdownMsg string

	// HttpLink is a documentation URL appended under "See also".
	//
	//nolint:revive // HttpLink matches the catalog's historical naming
	HttpLink string

	// Issue is a catalog entry: a long-form explanation of a failure class
	// plus remediation steps.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id { return i.id }

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Render returns the issue rendered with the glamour style at stylePath
// (a standard style name such as "dark" or "notty" also works).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	artifactNotFoundIssue = &Issue{
		id: ArtifactNotFoundID,
		mdMsg: `
# Unknown artifact

The name did not match any artifact in the catalog, and no package id
could be resolved for it.

## Things you can try
- Check the spelling, names are case sensitive
- Refresh the catalog file configured under ` + "`catalog`" + `
- Pass a package id (` + "`author/name-1.2.tar.gz`" + `) instead of a name`,
	}

	fetchFailedIssue = &Issue{
		id: FetchFailedID,
		mdMsg: `
# Download failed

None of the configured mirrors served the archive.

## Things you can try
- Check network access to the mirrors listed in your config
~~~
$ kiln config show
~~~
- Add another mirror under ` + "`mirrors`" + ` and retry`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchID,
		mdMsg: `
# Checksum mismatch

The downloaded archive does not match the digest published in the
mirror's CHECKSUMS file. The file was removed and nothing was installed.

## Things you can try
- Retry later, the mirror may be mid-sync
- Use another mirror
- Report the mismatch to the mirror operator if it persists`,
	}

	untrustedArtifactIssue = &Issue{
		id: UntrustedArtifactID,
		mdMsg: `
# Signature verification failed

The artifact's signed MANIFEST could not be verified, or a file does not
match the manifest. kiln refuses to build it.

## Things you can try
- Import the author's key into your keyring
- Set ` + "`signature.keyring`" + ` to an armored public keyring
- Disable ` + "`signature_required`" + ` only if you trust the source`,
	}

	classificationAmbiguousIssue = &Issue{
		id: ClassificationAmbiguousID,
		mdMsg: `
# No build descriptor

The extracted tree has neither a ` + "`Makefile`" + ` nor a ` + "`build.cue`" + `.
kiln assumed a Makefile, which usually fails at the prepare step.`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedID,
		mdMsg: `
# Build failed

A build step exited with a non-zero status.

## Things you can try
- Re-run with ` + "`--verbose`" + ` to see the builder output
- Install the missing prerequisites and retry with ` + "`--force`" + ``,
	}

	installFailedIssue = &Issue{
		id: InstallFailedID,
		mdMsg: `
# Install failed

The artifact was built but could not be copied into the prefix.

## Things you can try
- Check write permissions on the install prefix
- Use ` + "`--scope user`" + ` to install under your home directory`,
	}

	protectedArtifactIssue = &Issue{
		id: ProtectedArtifactID,
		mdMsg: `
# Core artifact

This artifact ships with kiln itself and cannot be reinstalled or removed
through the generic install path. Use ` + "`kiln selfupdate core`" + ` instead.`,
	}

	notInstalledIssue = &Issue{
		id: NotInstalledID,
		mdMsg: `
# Not installed

The installed index has no record of this artifact in the selected scope.

## Things you can try
~~~
$ kiln status <name>
~~~`,
	}

	unknownFeatureIssue = &Issue{
		id: UnknownFeatureID,
		mdMsg: `
# Unknown feature

The scope passed to selfupdate is neither a reserved word (core,
dependencies, features, all) nor a declared feature.

~~~
$ kiln features
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedID,
		mdMsg: `
# Configuration could not be loaded

## Things you can try
- Validate the file against the schema printed by
~~~
$ kiln config show
~~~
- Unset stale ` + "`KILN_*`" + ` environment variables`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleID,
		mdMsg: `
# Prerequisite cycle

Two or more artifacts require each other to build. kiln stopped
following prerequisites at the first repeated name.`,
	}

	issues = map[Id]*Issue{
		artifactNotFoundIssue.Id():        artifactNotFoundIssue,
		fetchFailedIssue.Id():             fetchFailedIssue,
		checksumMismatchIssue.Id():        checksumMismatchIssue,
		untrustedArtifactIssue.Id():       untrustedArtifactIssue,
		classificationAmbiguousIssue.Id(): classificationAmbiguousIssue,
		buildFailedIssue.Id():             buildFailedIssue,
		installFailedIssue.Id():           installFailedIssue,
		protectedArtifactIssue.Id():       protectedArtifactIssue,
		notInstalledIssue.Id():            notInstalledIssue,
		unknownFeatureIssue.Id():          unknownFeatureIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		dependencyCycleIssue.Id():         dependencyCycleIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return int(a.id - b.id) })
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
