package zipstore

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// WithTailSize sets the number of trailing bytes fetched by Open.
// The window must cover the central directory and end record.
// Values <= 0 use DefaultTailSize.
func WithTailSize(n int64) Option {
	return func(a *Archive) {
		if n <= 0 {
			n = DefaultTailSize
		}
		a.tailSize = n
	}
}

// WithStrictHeaders verifies each member's local header before its first
// read. Members whose header does not match the reconstructed offset fail
// with ErrUnsupportedMember or ErrMalformedArchive.
//
// Verification costs one extra range request per member and is remembered
// for the lifetime of the Archive.
func WithStrictHeaders() Option {
	return func(a *Archive) {
		a.strict = true
	}
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}
