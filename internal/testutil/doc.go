// SPDX-License-Identifier: MPL-2.0

// Package testutil provides fixture helpers for tests that need source
// trees on disk.
package testutil
