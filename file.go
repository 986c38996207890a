package zipstore

import (
	"context"
	"fmt"
	"io"
	"os"
)

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

// newFileSource creates a fileSource from an open file.
func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive file: %w", err)
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// FetchTail implements ByteSource.
func (s *fileSource) FetchTail(ctx context.Context, n int64) ([]byte, int64, error) {
	n = min(max(n, 0), s.size)
	buf, err := s.FetchRange(ctx, s.size-n, n)
	if err != nil {
		return nil, 0, err
	}
	return buf, s.size, nil
}

// FetchRange implements ByteSource.
func (s *fileSource) FetchRange(ctx context.Context, off, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && int64(n) == length) {
		return nil, fmt.Errorf("read %d bytes at %d: %w", length, off, err)
	}
	return buf, nil
}

// ArchiveFile wraps an Archive with its underlying file handle.
// Close must be called to release file resources.
type ArchiveFile struct {
	*Archive
	file *os.File
}

// Close closes the underlying archive file.
func (af *ArchiveFile) Close() error {
	if af.file == nil {
		return nil
	}
	err := af.file.Close()
	af.file = nil
	return err
}

// OpenFile opens a local ZIP archive for random access.
//
// Only the trailing window is read up front; member content is read on
// demand. The returned ArchiveFile must be closed to release file resources.
func OpenFile(ctx context.Context, path string, opts ...Option) (*ArchiveFile, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}

	source, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	a, err := Open(ctx, source, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ArchiveFile{
		Archive: a,
		file:    f,
	}, nil
}

// Interface compliance.
var (
	_ ByteSource                 = (*fileSource)(nil)
	_ interface{ Close() error } = (*ArchiveFile)(nil)
)
