// SPDX-License-Identifier: MPL-2.0

// Package builder implements the two build-system backends.
//
// The Make backend drives a Makefile with the host make binary, running an
// optional ./configure first. The Script backend reads build.cue, whose
// prepare, build, test and install steps are shell scripts run by an
// embedded POSIX shell interpreter. Both install into DESTDIR so the
// caller can promote the staged files.
package builder
