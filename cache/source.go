package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Source wraps a ByteSource with block-level caching of range reads.
//
// The archive size is learned from FetchTail. Range reads issued before the
// first successful FetchTail bypass the cache.
type Source struct {
	src              ByteSource
	store            BlockStore
	sourceID         string
	blockSize        int64
	maxBlocksPerRead int
	logger           *slog.Logger
	fetchGroup       singleflight.Group // deduplicates concurrent fetches for same block

	mu   sync.RWMutex
	size int64
	id   string
}

// Option configures a cached Source.
type Option func(*Source)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) Option {
	return func(s *Source) {
		s.blockSize = n
	}
}

// WithMaxBlocksPerRead bypasses caching when a range read spans more than n
// blocks. Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) Option {
	return func(s *Source) {
		s.maxBlocksPerRead = n
	}
}

// WithSourceID sets the identifier used in block keys. It is required when
// the wrapped source does not implement Identified.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithLogger sets the logger for cache hits and misses.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource returns a ByteSource that caches range reads from src in store.
func NewSource(src ByteSource, store BlockStore, opts ...Option) (*Source, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	if store == nil {
		return nil, errors.New("block cache: store is nil")
	}
	s := &Source{
		src:              src,
		store:            store,
		blockSize:        DefaultBlockSize,
		maxBlocksPerRead: DefaultMaxBlocksPerRead,
		size:             -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.blockSize <= 0 {
		return nil, errors.New("block cache: block size must be > 0")
	}
	if _, ok := src.(Identified); !ok && s.sourceID == "" {
		return nil, errors.New("block cache: source has no identifier")
	}
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// FetchTail implements ByteSource. The tail is always fetched from the
// wrapped source; its result fixes the size and identity used for blocks.
func (s *Source) FetchTail(ctx context.Context, n int64) ([]byte, int64, error) {
	tail, size, err := s.src.FetchTail(ctx, n)
	if err != nil {
		return nil, 0, err
	}

	id := s.sourceID
	if id == "" {
		id = s.src.(Identified).SourceID() //nolint:errcheck // checked in NewSource
	}
	s.mu.Lock()
	s.size = size
	s.id = id
	s.mu.Unlock()
	return tail, size, nil
}

// FetchRange implements ByteSource.
func (s *Source) FetchRange(ctx context.Context, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("fetch range [%d, +%d): negative position", off, length)
	}
	if length == 0 {
		return []byte{}, nil
	}

	s.mu.RLock()
	size, id := s.size, s.id
	s.mu.RUnlock()
	if size < 0 || off+length > size {
		return s.src.FetchRange(ctx, off, length)
	}

	startBlock := off / s.blockSize
	endBlock := (off + length - 1) / s.blockSize
	if s.maxBlocksPerRead > 0 && endBlock-startBlock+1 > int64(s.maxBlocksPerRead) {
		return s.src.FetchRange(ctx, off, length)
	}

	out := make([]byte, length)
	for blockIndex := startBlock; blockIndex <= endBlock; blockIndex++ {
		blockStart := blockIndex * s.blockSize
		blockEnd := min(blockStart+s.blockSize, size)

		data, err := s.block(ctx, id, blockIndex, blockStart, blockEnd-blockStart)
		if err != nil {
			return nil, err
		}

		copyStart := max(off, blockStart)
		copyEnd := min(off+length, blockEnd)
		copy(out[copyStart-off:copyEnd-off], data[copyStart-blockStart:copyEnd-blockStart])
	}
	return out, nil
}

// block returns one archive block, fetching it at most once across
// concurrent callers.
func (s *Source) block(ctx context.Context, id string, index, off, length int64) ([]byte, error) {
	key := BlockKey(id, s.blockSize, index)
	if data, ok := s.store.Get(key); ok {
		if int64(len(data)) == length {
			s.log().Debug("block cache hit", "block", index)
			return data, nil
		}
		_ = s.store.Delete(key) //nolint:errcheck // best-effort cleanup of a truncated block
	}

	result, err, _ := s.fetchGroup.Do(key.String(), func() (any, error) {
		s.log().Debug("block cache miss", "block", index)
		data, err := s.src.FetchRange(ctx, off, length)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != length {
			return nil, fmt.Errorf("block %d: got %d bytes, want %d", index, len(data), length)
		}
		if err := s.store.Put(key, data); err != nil {
			s.log().Debug("block cache write failed", "block", index, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// SourceID returns the identifier used in block keys, empty before the
// first FetchTail unless set with WithSourceID.
func (s *Source) SourceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id != "" {
		return s.id
	}
	return s.sourceID
}
