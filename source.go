package zipstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ByteSource provides ranged access to a remote archive.
//
// Implementations exist for HTTP objects (package http), local files
// (OpenFile), and in-memory data (NewBytesSource). Cancellation of an
// in-flight request is the implementation's responsibility.
type ByteSource interface {
	// FetchTail returns up to n trailing bytes of the archive together with
	// the archive's total size.
	FetchTail(ctx context.Context, n int64) (tail []byte, size int64, err error)

	// FetchRange returns exactly the bytes [off, off+length).
	FetchRange(ctx context.Context, off, length int64) ([]byte, error)
}

// BytesSource is a ByteSource over an in-memory archive image.
type BytesSource struct {
	data     []byte
	sourceID string
}

// NewBytesSource returns a ByteSource backed by data. The slice is retained
// and must not be modified afterwards.
func NewBytesSource(data []byte) *BytesSource {
	sum := sha256.Sum256(data)
	return &BytesSource{data: data, sourceID: "bytes:" + hex.EncodeToString(sum[:])}
}

// FetchTail implements ByteSource.
func (s *BytesSource) FetchTail(ctx context.Context, n int64) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	size := int64(len(s.data))
	n = min(max(n, 0), size)
	return s.data[size-n:], size, nil
}

// FetchRange implements ByteSource.
func (s *BytesSource) FetchRange(ctx context.Context, off, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := int64(len(s.data))
	if off < 0 || length < 0 || off > size || length > size-off {
		return nil, fmt.Errorf("range [%d, %d) outside %d bytes", off, off+length, size)
	}
	return s.data[off : off+length], nil
}

// Size returns the length of the archive image.
func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

// SourceID returns a content-derived identifier.
func (s *BytesSource) SourceID() string {
	return s.sourceID
}

// Interface compliance.
var _ ByteSource = (*BytesSource)(nil)
