package store

import (
	"log/slog"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/cache"
	zhttp "github.com/meigma/zipstore/http"
)

// DefaultConcurrency is the number of concurrent range requests GetMany issues.
const DefaultConcurrency = 8

// Option configures a Store.
type Option func(*Store)

// WithRoot scopes the store to a directory of the archive. Keys are resolved
// relative to it and listings exclude everything outside it.
func WithRoot(prefix string) Option {
	return func(s *Store) {
		s.root = zipstore.NormalizePath(prefix)
	}
}

// WithConcurrency sets the maximum number of concurrent fetches in GetMany.
// Values <= 0 use DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n <= 0 {
			n = DefaultConcurrency
		}
		s.concurrency = n
	}
}

// WithLogger sets the logger for store operations. It is also passed to the
// archive and byte sources created by Open.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithArchiveOptions passes options to zipstore.Open. Only used by Open.
func WithArchiveOptions(opts ...zipstore.Option) Option {
	return func(s *Store) {
		s.open.archive = append(s.open.archive, opts...)
	}
}

// WithHTTPOptions passes options to the HTTP byte source. Only used by Open.
func WithHTTPOptions(opts ...zhttp.Option) Option {
	return func(s *Store) {
		s.open.http = append(s.open.http, opts...)
	}
}

// WithBlockCache caches range reads of remote archives in blocks.
// Only used by Open.
func WithBlockCache(store cache.BlockStore, opts ...cache.Option) Option {
	return func(s *Store) {
		s.open.blocks = store
		s.open.cache = append(s.open.cache, opts...)
	}
}

// openConfig holds settings consumed by Open when building the archive.
type openConfig struct {
	archive []zipstore.Option
	http    []zhttp.Option
	blocks  cache.BlockStore
	cache   []cache.Option
}
