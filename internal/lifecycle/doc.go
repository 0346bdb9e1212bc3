// SPDX-License-Identifier: MPL-2.0

// Package lifecycle drives a single artifact through fetch, extract,
// classify, verify, build and install, caching each stage's result on the
// artifact's Status so repeated requests are cheap. Bundles expand into
// member artifacts that run through the same pipeline.
//
// Collaborators (fetcher, extractor, builders, installed index, ...) are
// interfaces carried explicitly in an Env; nothing here reaches for
// process-wide state.
package lifecycle
