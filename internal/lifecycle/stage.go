// SPDX-License-Identifier: MPL-2.0

package lifecycle

const (
	StageFetch Stage = iota + 1
	StageExtract
	StageExpand
	StageClassify
	StageVerify
	StagePrepare
	StageCreate
	StageTest
	StageInstall
	StageUninstall
)

const (
	// VerdictUnset means the check has not run since the last flush.
	VerdictUnset Verdict = iota
	VerdictOK
	VerdictFailed
	// VerdictSkipped means configuration disabled the check.
	VerdictSkipped
)

const (
	InstallerNone InstallerKind = iota
	// InstallerMake builds with a top-level Makefile.
	InstallerMake
	// InstallerScript builds with the steps declared in build.cue.
	InstallerScript
)

const (
	// MakeDescriptor marks a tree built by InstallerMake.
	MakeDescriptor = "Makefile"
	// ScriptDescriptor marks a tree built by InstallerScript.
	ScriptDescriptor = "build.cue"
)

type (
	// Stage names one step of the pipeline.
	Stage int

	// Verdict is the outcome of a verification check.
	Verdict int

	// InstallerKind is the build system chosen for an extracted tree.
	InstallerKind int
)

var stageNames = map[Stage]string{
	StageFetch:     "fetch",
	StageExtract:   "extract",
	StageExpand:    "expand",
	StageClassify:  "classify",
	StageVerify:    "verify",
	StagePrepare:   "prepare",
	StageCreate:    "create",
	StageTest:      "test",
	StageInstall:   "install",
	StageUninstall: "uninstall",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictFailed:
		return "failed"
	case VerdictSkipped:
		return "skipped"
	default:
		return "unset"
	}
}

func (k InstallerKind) String() string {
	switch k {
	case InstallerMake:
		return "make"
	case InstallerScript:
		return "script"
	default:
		return "none"
	}
}

// Descriptor returns the file that marks a tree as built by k.
func (k InstallerKind) Descriptor() string {
	switch k {
	case InstallerMake:
		return MakeDescriptor
	case InstallerScript:
		return ScriptDescriptor
	default:
		return ""
	}
}
