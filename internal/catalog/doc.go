// SPDX-License-Identifier: MPL-2.0

// Package catalog maps artifact names to artifacts. It is loaded from a CUE
// index file and can fall back to a miss handler for names the index does
// not list.
package catalog
