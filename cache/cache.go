// Package cache provides block-level caching for zipstore byte sources.
//
// A cached Source splits member range reads into fixed-size blocks of the
// archive and keeps each block in a BlockStore keyed by the source identity,
// block size, and block index. Repeated reads of the same member, or of
// neighbouring small members, are then served without a network round trip.
//
// The tail window fetched by Open is never cached: it always reflects the
// current archive.
package cache

import (
	"context"
	"strconv"

	"github.com/opencontainers/go-digest"
)

// ByteSource provides ranged access to an archive.
// It matches zipstore.ByteSource.
type ByteSource interface {
	FetchTail(ctx context.Context, n int64) (tail []byte, size int64, err error)
	FetchRange(ctx context.Context, off, length int64) ([]byte, error)
}

// Identified is implemented by sources that can name their content.
//
// SourceID must be stable for unchanged content and distinct across
// different archives; it is part of every block key.
type Identified interface {
	SourceID() string
}

// BlockStore stores archive blocks by key.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type BlockStore interface {
	// Get returns the cached block for key.
	// Returns nil, false if the block is not cached.
	Get(key digest.Digest) ([]byte, bool)

	// Put stores a block. Failing to store is not fatal to reads.
	Put(key digest.Digest, data []byte) error

	// Delete removes a cached block. Missing blocks are a no-op.
	Delete(key digest.Digest) error

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)
}

// DefaultBlockSize is the default block size used by cached sources.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead caps cached blocks per range read to avoid caching
// large sequential reads.
const DefaultMaxBlocksPerRead = 16

// BlockKey returns the store key of a block.
func BlockKey(sourceID string, blockSize, blockIndex int64) digest.Digest {
	return digest.FromString(sourceID + "|" + strconv.FormatInt(blockSize, 10) + "|" + strconv.FormatInt(blockIndex, 10))
}
