// SPDX-License-Identifier: MPL-2.0

// Package fetch retrieves artifact sources and validates them against
// published checksums.
//
// A package id selects the transport:
//
//	authors/J/JD/JDOE/zlib-1.3.tar.gz   path below each configured mirror
//	gh:owner/repo@v1.3.0                GitHub release asset
//	git+https://host/repo.git#v1.3.0    git tag, branch or pinned commit
//
// Mirror archives are checked against the CHECKSUMS file next to them,
// release assets against the release's checksums.txt, and git sources
// only verify when pinned to a full commit hash.
package fetch
