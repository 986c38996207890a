// Package store exposes a zipstore Archive as a read-only key/value store
// for chunked-array libraries.
//
// Keys are slash-separated member names. Directory keys exist and can be
// listed but have no value.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/cache"
	zhttp "github.com/meigma/zipstore/http"
	"github.com/meigma/zipstore/internal/pathutil"
)

// ErrKeyNotFound is returned when a key has no member. It matches
// fs.ErrNotExist.
var ErrKeyNotFound = fmt.Errorf("store: key not found: %w", fs.ErrNotExist)

// Store is a read-only key/value view of an Archive.
// It is safe for concurrent use.
type Store struct {
	archive     *zipstore.Archive
	root        string
	concurrency int
	logger      *slog.Logger
	closer      io.Closer
	open        openConfig
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// New returns a Store over an open archive.
func New(archive *zipstore.Archive, opts ...Option) (*Store, error) {
	if archive == nil {
		return nil, errors.New("store: archive is nil")
	}
	s := newStore(opts...)
	s.archive = archive
	if err := s.checkRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(opts ...Option) *Store {
	s := &Store{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the archive at location and returns a Store over it.
//
// An http or https URL is read with range requests, through the block cache
// when WithBlockCache is set. Any other location is opened as a local file.
// The returned Store must be closed.
func Open(ctx context.Context, location string, opts ...Option) (*Store, error) {
	s := newStore(opts...)
	archiveOpts := s.open.archive
	if s.logger != nil {
		archiveOpts = append([]zipstore.Option{zipstore.WithLogger(s.logger)}, archiveOpts...)
	}

	if !isURL(location) {
		af, err := zipstore.OpenFile(ctx, location, archiveOpts...)
		if err != nil {
			return nil, err
		}
		s.archive = af.Archive
		s.closer = af
	} else {
		src, err := s.remoteSource(location)
		if err != nil {
			return nil, err
		}
		a, err := zipstore.Open(ctx, src, archiveOpts...)
		if err != nil {
			return nil, err
		}
		s.archive = a
	}

	if err := s.checkRoot(); err != nil {
		s.Close()
		return nil, err
	}
	s.log().Debug("store opened", "location", location, "root", s.root, "files", s.archive.Len())
	return s, nil
}

func (s *Store) remoteSource(location string) (zipstore.ByteSource, error) {
	httpOpts := s.open.http
	if s.logger != nil {
		httpOpts = append([]zhttp.Option{zhttp.WithLogger(s.logger)}, httpOpts...)
	}
	src, err := zhttp.NewSource(location, httpOpts...)
	if err != nil {
		return nil, err
	}
	if s.open.blocks == nil {
		return src, nil
	}
	cacheOpts := s.open.cache
	if s.logger != nil {
		cacheOpts = append([]cache.Option{cache.WithLogger(s.logger)}, cacheOpts...)
	}
	return cache.NewSource(src, s.open.blocks, cacheOpts...)
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func (s *Store) checkRoot() error {
	if s.root == "" {
		return nil
	}
	m, ok := s.archive.Lookup(s.root)
	if !ok {
		return fmt.Errorf("root %q: %w", s.root, ErrKeyNotFound)
	}
	if _, ok := m.(*zipstore.Dir); !ok {
		return fmt.Errorf("root %q: %w", s.root, zipstore.ErrNotDirectory)
	}
	return nil
}

// Close releases the local archive file opened by Open, if any.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Archive returns the underlying archive.
func (s *Store) Archive() *zipstore.Archive {
	return s.archive
}

// Root returns the directory the store is scoped to; "" is the archive root.
func (s *Store) Root() string {
	return s.root
}

// name maps a store key to a member name. Keys that climb above the store
// root map to a name that matches no member.
func (s *Store) name(key string) string {
	key = pathutil.Normalize(key)
	if pathutil.Escapes(key) {
		return key
	}
	return pathutil.Join(s.root, key)
}

// key maps a member name back to a store key.
func (s *Store) key(name string) string {
	if s.root == "" {
		return name
	}
	return strings.TrimPrefix(name, s.root+"/")
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.GetRange(ctx, key, 0, zipstore.ToEnd)
}

// GetRange returns bytes [start, end) of the value at key with the slice
// semantics of zipstore.Archive.ReadRange.
func (s *Store) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	data, err := s.archive.ReadRange(ctx, s.name(key), start, end)
	if errors.Is(err, zipstore.ErrMemberNotFound) {
		return nil, fmt.Errorf("get %q: %w", key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, err
	}
	s.log().Debug("get", "key", key, "bytes", len(data))
	return data, nil
}

// GetMany fetches several keys concurrently, one range request per key.
// Missing keys are omitted from the result; any other failure cancels the
// remaining fetches.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]byte, len(keys))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			data, err := s.Get(ctx, key)
			if errors.Is(err, ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether key names a file or a directory.
func (s *Store) Exists(key string) bool {
	_, ok := s.archive.Lookup(s.name(key))
	return ok
}

// Lookup returns the member at key.
func (s *Store) Lookup(key string) (zipstore.Member, bool) {
	return s.archive.Lookup(s.name(key))
}

// Verify checks the local header of the file at key.
// See zipstore.Archive.Verify.
func (s *Store) Verify(ctx context.Context, key string) error {
	err := s.archive.Verify(ctx, s.name(key))
	if errors.Is(err, zipstore.ErrMemberNotFound) {
		return fmt.Errorf("verify %q: %w", key, ErrKeyNotFound)
	}
	return err
}

// IsDir reports whether key names a directory.
func (s *Store) IsDir(key string) bool {
	m, ok := s.archive.Lookup(s.name(key))
	if !ok {
		return false
	}
	_, ok = m.(*zipstore.Dir)
	return ok
}

// List returns the base names of the immediate children of the directory at
// key, in archive order. The empty key lists the store root.
func (s *Store) List(key string) ([]string, error) {
	children, err := s.archive.Children(s.name(key))
	if errors.Is(err, zipstore.ErrMemberNotFound) {
		return nil, fmt.Errorf("list %q: %w", key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, len(children))
	for i, child := range children {
		names[i] = pathutil.Base(child)
	}
	return names, nil
}

// ListPrefix returns the keys of all files under the directory prefix,
// sorted. The empty prefix returns every key in the store.
func (s *Store) ListPrefix(prefix string) []string {
	full := s.name(prefix)
	var keys []string
	for f := range s.archive.Files() {
		if full != "" && !pathutil.HasPrefix(f.Name, full) {
			continue
		}
		if f.Name == full {
			continue
		}
		keys = append(keys, s.key(f.Name))
	}
	slices.Sort(keys)
	return keys
}

// Keys returns every file key in the store, sorted.
func (s *Store) Keys() []string {
	return s.ListPrefix("")
}

// Len returns the number of file keys in the store.
func (s *Store) Len() int {
	if s.root == "" {
		return s.archive.Len()
	}
	return len(s.Keys())
}
