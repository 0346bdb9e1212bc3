// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the kiln command line: installing, removing and
// inspecting artifacts, self-update and the read-only status server.
package cmd
