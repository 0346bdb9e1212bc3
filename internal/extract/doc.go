// SPDX-License-Identifier: MPL-2.0

// Package extract unpacks fetched archives (.tar.gz, .tgz, .tar.zst, .tar,
// .zip) into build trees. Directories, such as git checkouts, are used in
// place.
package extract
