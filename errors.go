package zipstore

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/zipstore/internal/tailzip"
)

// Sentinel errors re-exported from internal/tailzip.
var (
	// ErrMalformedArchive is returned by Open when the tail window does not
	// hold a complete, consistent central directory.
	ErrMalformedArchive = tailzip.ErrMalformed

	// ErrUnsupportedMember is returned when a member is compressed, or when
	// Verify finds a local header the offset reconstruction cannot serve.
	ErrUnsupportedMember = tailzip.ErrUnsupported
)

// Sentinel errors specific to the zipstore package.
var (
	// ErrTailFetch is returned by Open when the trailing window could not be
	// fetched or the source did not report the archive size.
	ErrTailFetch = errors.New("zipstore: tail fetch failed")

	// ErrMemberNotFound is returned when a path is absent from the archive.
	// It matches fs.ErrNotExist.
	ErrMemberNotFound = fmt.Errorf("zipstore: member not found: %w", fs.ErrNotExist)

	// ErrMemberIsDirectory is returned when content is requested for a
	// directory node.
	ErrMemberIsDirectory = errors.New("zipstore: member is a directory")

	// ErrNotDirectory is returned when children are requested for a file.
	ErrNotDirectory = errors.New("zipstore: member is not a directory")

	// ErrRangeRead is returned when the byte source fails to deliver the
	// exact requested range. The archive remains usable.
	ErrRangeRead = errors.New("zipstore: range read failed")
)
