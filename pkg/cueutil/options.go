// SPDX-License-Identifier: MPL-2.0

package cueutil

// DefaultMaxFileSize caps CUE documents read from disk or the network.
const DefaultMaxFileSize int64 = 4 << 20

type (
	// Option configures ParseAndDecode.
	Option func(*options)

	options struct {
		filename    string
		maxFileSize int64
		concrete    bool
	}
)

func defaultOptions() options {
	return options{maxFileSize: DefaultMaxFileSize}
}

// WithFilename names the document in error messages.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(o *options) { o.maxFileSize = n }
}

// WithConcrete requires every field of the unified value to be concrete.
func WithConcrete() Option {
	return func(o *options) { o.concrete = true }
}
