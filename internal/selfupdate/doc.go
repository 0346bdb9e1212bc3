// SPDX-License-Identifier: MPL-2.0

// Package selfupdate decides which artifacts kiln itself needs and runs
// them through the lifecycle orchestrator.
//
//   - resolver.go: maps a scope (core, dependencies, features, all, or a
//     feature name) to versioned requirements, in a fixed order
//   - features.go: the requirement table and feature descriptors
//   - driver.go: filters out what is already sufficient and installs the
//     rest, best effort
package selfupdate
