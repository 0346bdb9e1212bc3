// SPDX-License-Identifier: MPL-2.0

// Package issue carries kiln's user-facing error vocabulary: ActionableError
// for operation/resource/suggestion context, and a catalog of long-form
// Markdown explanations rendered with glamour.
package issue
