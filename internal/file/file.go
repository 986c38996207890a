// Package file implements fs.File and fs.FileInfo for archive members.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/zipstore/internal/pathutil"
	"github.com/meigma/zipstore/internal/tailzip"
)

// Fetcher reads length bytes of a member's content starting at off.
// Implementations must return exactly length bytes or an error.
type Fetcher interface {
	FetchMember(ctx context.Context, f *tailzip.File, off, length int64) ([]byte, error)
}

// File implements fs.File over a stored member. Every Read or ReadAt call
// issues one range request for the bytes it returns.
type File struct {
	fetcher Fetcher
	member  *tailzip.File
	offset  int64
	closed  bool
}

// Interface compliance.
var (
	_ fs.File     = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
	_ io.Seeker   = (*File)(nil)
)

// Open returns a File positioned at the start of the member.
func Open(fetcher Fetcher, member *tailzip.File) *File {
	return &File{fetcher: fetcher, member: member}
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.member.Name, Err: fs.ErrClosed}
	}
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}

// ReadAt implements io.ReaderAt. Reads that extend past the member end
// return the available bytes along with io.EOF.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.member.Name, Err: fs.ErrClosed}
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := f.member.Size
	if off >= size {
		return 0, io.EOF
	}

	expected := int64(len(p))
	if remaining := size - off; remaining < expected {
		expected = remaining
	}
	data, err := f.fetcher.FetchMember(context.Background(), f.member, off, expected)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "seek", Path: f.member.Name, Err: fs.ErrClosed}
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.member.Size + offset
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}
	f.offset = abs
	return abs, nil
}

// Stat returns file info.
func (f *File) Stat() (fs.FileInfo, error) {
	return NewInfo(f.member), nil
}

// Close marks the file closed. It holds no other resources.
func (f *File) Close() error {
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.member.Name, Err: fs.ErrClosed}
	}
	f.closed = true
	return nil
}

// Info implements fs.FileInfo for file members.
type Info struct {
	member *tailzip.File
	name   string
}

// NewInfo creates an Info for a file member.
func NewInfo(member *tailzip.File) *Info {
	c := *member
	return &Info{member: &c, name: pathutil.Base(member.Name)}
}

func (fi *Info) Name() string       { return fi.name }
func (fi *Info) Size() int64        { return fi.member.Size }
func (fi *Info) Mode() fs.FileMode  { return 0o444 }
func (fi *Info) ModTime() time.Time { return time.Time{} }
func (fi *Info) IsDir() bool        { return false }
func (fi *Info) Sys() any           { return fi.member }

// Member returns the underlying archive member.
func (fi *Info) Member() *tailzip.File {
	return fi.member
}

// DirInfo implements fs.FileInfo for synthetic directories.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info fs.FileInfo
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo) *DirEntry {
	return &DirEntry{info: info}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, nil }
