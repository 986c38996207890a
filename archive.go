package zipstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"math"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/zipstore/internal/file"
	"github.com/meigma/zipstore/internal/pathutil"
	"github.com/meigma/zipstore/internal/tailzip"
)

// DefaultTailSize is the number of trailing bytes fetched by Open.
const DefaultTailSize = 1 << 20

// ToEnd marks an unspecified end position in ReadRange.
const ToEnd int64 = math.MaxInt64

// Member is either a *File or a *Dir.
type Member = tailzip.Member

// File is a regular archive member.
type File = tailzip.File

// Dir is a directory node synthesized from member names.
type Dir = tailzip.Dir

// Archive provides random access to the members of a remote ZIP archive.
//
// An Archive is built by Open from a single tail fetch and is immutable
// afterwards; all methods are safe for concurrent use. Every content read
// issues exactly one range request against the byte source.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS.
type Archive struct {
	source   ByteSource
	table    *tailzip.Table
	size     int64
	tailLen  int64
	tailSize int64
	strict   bool
	logger   *slog.Logger

	verified    sync.Map           // name -> verifyResult
	verifyGroup singleflight.Group // zero value is valid
}

type verifyResult struct {
	err error
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open fetches the trailing window of the archive behind src and builds its
// member table.
//
// Open fails with ErrTailFetch when the window cannot be retrieved and with
// ErrMalformedArchive when the window does not contain the complete central
// directory. No Archive exists until Open succeeds.
func Open(ctx context.Context, src ByteSource, opts ...Option) (*Archive, error) {
	if src == nil {
		return nil, errors.New("zipstore: nil byte source")
	}
	a := &Archive{
		source:   src,
		tailSize: DefaultTailSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	tail, size, err := src.FetchTail(ctx, a.tailSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTailFetch, err)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: invalid archive size %d", ErrTailFetch, size)
	}
	a.log().Debug("tail fetched", "size", size, "tail", len(tail))

	table, err := tailzip.Parse(tail, size)
	if err != nil {
		return nil, fmt.Errorf("parse central directory: %w", err)
	}
	a.table = table
	a.size = size
	a.tailLen = int64(len(tail))

	a.log().Debug("archive opened", "files", table.Len(), "strict", a.strict)
	return a, nil
}

// Read returns the full content of the named member.
func (a *Archive) Read(ctx context.Context, name string) ([]byte, error) {
	return a.ReadRange(ctx, name, 0, ToEnd)
}

// ReadRange returns the bytes [start, end) of the named member's content.
//
// Negative positions count from the end of the member, so ReadRange(ctx,
// name, -k, ToEnd) returns the last k bytes. end is clamped to the member
// size. An empty range returns an empty, non-nil slice without touching the
// byte source.
func (a *Archive) ReadRange(ctx context.Context, name string, start, end int64) ([]byte, error) {
	name = pathutil.Normalize(name)
	f, err := a.lookupFile("read", name)
	if err != nil {
		return nil, err
	}

	off, length, ok := resolveRange(f.Size, start, end)
	if !ok {
		return []byte{}, nil
	}
	return a.fetch(ctx, "read", f, off, length)
}

// resolveRange converts slice positions to an offset and length within a
// member of the given size. ok is false for an empty range.
func resolveRange(size, start, end int64) (off, length int64, ok bool) {
	if start < 0 {
		start = max(0, size+start)
	}
	if end < 0 {
		end = max(0, size+end)
	}
	end = min(end, size)
	if start >= size || end <= start {
		return 0, 0, false
	}
	return start, end - start, true
}

// FetchMember reads length bytes of f's content starting at off.
func (a *Archive) FetchMember(ctx context.Context, f *tailzip.File, off, length int64) ([]byte, error) {
	return a.fetch(ctx, "read", f, off, length)
}

func (a *Archive) fetch(ctx context.Context, op string, f *File, off, length int64) ([]byte, error) {
	if a.strict {
		if err := a.verifyOnce(ctx, f); err != nil {
			return nil, &fs.PathError{Op: op, Path: f.Name, Err: err}
		}
	}

	a.log().Debug("range read", "path", f.Name, "offset", f.ContentOffset+off, "length", length)
	data, err := a.source.FetchRange(ctx, f.ContentOffset+off, length)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: f.Name, Err: fmt.Errorf("%w: %w", ErrRangeRead, err)}
	}
	if int64(len(data)) != length {
		return nil, &fs.PathError{Op: op, Path: f.Name,
			Err: fmt.Errorf("%w: got %d bytes, want %d", ErrRangeRead, len(data), length)}
	}
	return data, nil
}

// lookupFile resolves a normalized name to a readable file member.
func (a *Archive) lookupFile(op, name string) (*File, error) {
	m, ok := a.table.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: ErrMemberNotFound}
	}
	f, ok := m.(*File)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: ErrMemberIsDirectory}
	}
	if !f.Stored() {
		return nil, &fs.PathError{Op: op, Path: name,
			Err: fmt.Errorf("%w: compression method %d", ErrUnsupportedMember, f.Method)}
	}
	return f, nil
}

// Verify fetches the local header of the named member and checks that its
// reconstructed content offset is correct: the header must carry the
// expected signature, the stored method, the same name, and no extra field.
func (a *Archive) Verify(ctx context.Context, name string) error {
	name = pathutil.Normalize(name)
	f, err := a.lookupFile("verify", name)
	if err != nil {
		return err
	}
	if err := a.verifyHeader(ctx, f); err != nil {
		return &fs.PathError{Op: "verify", Path: name, Err: err}
	}
	return nil
}

func (a *Archive) verifyHeader(ctx context.Context, f *File) error {
	n := tailzip.LocalHeaderLen(f)
	h, err := a.source.FetchRange(ctx, f.HeaderOffset, n)
	if err != nil {
		return fmt.Errorf("%w: local header: %w", ErrRangeRead, err)
	}
	return tailzip.CheckLocalHeader(f, h)
}

// verifyOnce checks the local header of f at most once per Archive.
// Range read failures are not remembered.
func (a *Archive) verifyOnce(ctx context.Context, f *File) error {
	if v, ok := a.verified.Load(f.Name); ok {
		return v.(verifyResult).err //nolint:errcheck // only verifyResult is stored
	}

	_, err, _ := a.verifyGroup.Do(f.Name, func() (any, error) {
		if v, ok := a.verified.Load(f.Name); ok {
			return nil, v.(verifyResult).err //nolint:errcheck // only verifyResult is stored
		}
		err := a.verifyHeader(ctx, f)
		if err != nil && errors.Is(err, ErrRangeRead) {
			return nil, err
		}
		if err != nil {
			a.log().Warn("local header rejected", "path", f.Name, "error", err)
		}
		a.verified.Store(f.Name, verifyResult{err: err})
		return nil, err
	})
	return err
}

// Lookup returns a copy of the member with the given name after
// normalization.
func (a *Archive) Lookup(name string) (Member, bool) {
	m, ok := a.table.Lookup(pathutil.Normalize(name))
	if !ok {
		return nil, false
	}
	return cloneMember(m), true
}

// cloneMember returns a copy of m that shares nothing with the table.
func cloneMember(m Member) Member {
	switch m := m.(type) {
	case *File:
		c := *m
		return &c
	case *Dir:
		return &Dir{Name: m.Name, Children: slices.Clone(m.Children)}
	}
	return m
}

// Children returns the full names of the immediate children of the named
// directory in archive order. The root is "".
func (a *Archive) Children(name string) ([]string, error) {
	name = pathutil.Normalize(name)
	m, ok := a.table.Lookup(name)
	if !ok {
		if name == "" {
			return nil, nil
		}
		return nil, &fs.PathError{Op: "list", Path: name, Err: ErrMemberNotFound}
	}
	d, ok := m.(*Dir)
	if !ok {
		return nil, &fs.PathError{Op: "list", Path: name, Err: ErrNotDirectory}
	}
	return slices.Clone(d.Children), nil
}

// Members returns a copy of every member, files and directories, sorted by
// name.
func (a *Archive) Members() iter.Seq2[string, Member] {
	return func(yield func(string, Member) bool) {
		for name, m := range a.table.All() {
			if !yield(name, cloneMember(m)) {
				return
			}
		}
	}
}

// Files returns copies of the file members sorted by name.
func (a *Archive) Files() iter.Seq[*File] {
	return func(yield func(*File) bool) {
		for f := range a.table.Files() {
			c := *f
			if !yield(&c) {
				return
			}
		}
	}
}

// Len returns the number of file members.
func (a *Archive) Len() int {
	return a.table.Len()
}

// Size returns the total size of the archive in bytes.
func (a *Archive) Size() int64 {
	return a.size
}

// TailSize returns the number of trailing bytes Open received.
func (a *Archive) TailSize() int64 {
	return a.tailLen
}

// Interface compliance.
var _ file.Fetcher = (*Archive)(nil)
