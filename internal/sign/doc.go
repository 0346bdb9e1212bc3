// SPDX-License-Identifier: MPL-2.0

// Package sign verifies the signed manifest of an extracted tree.
//
// A tree is signed when it carries MANIFEST, a sha256sum-format list of
// every file in the tree, and MANIFEST.asc, an armored detached signature
// over MANIFEST. The signature is checked with the gpg binary when it is
// installed, otherwise against an armored public keyring in-process.
package sign
