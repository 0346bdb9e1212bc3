// SPDX-License-Identifier: MPL-2.0

// Package config handles kiln's host configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/kiln/config.cue (or the XDG equivalent on Linux,
// ~/Library/Application Support/kiln/config.cue on macOS, %APPDATA%\kiln\config.cue on
// Windows), then overlaid with KILN_* environment variables. The resulting Config carries
// the policy knobs the artifact lifecycle consults: preferred build system, force,
// verification requirements, prerequisite policy and preferred feature choices.
//
// Files are validated against the embedded CUE schema (config_schema.cue) before they
// are merged, so typos and type mismatches fail with the offending CUE path.
package config
