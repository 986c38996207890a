// Package zipstore provides random access to the members of a remote ZIP
// archive using HTTP range requests.
//
// Open fetches a single trailing window of the archive, parses the central
// directory it contains, and reconstructs the absolute content offset of
// every member. Afterwards each read is exactly one range request for the
// requested bytes; nothing else is downloaded.
//
// # Quick Start
//
// Open an archive served over HTTP and read a member:
//
//	src, err := http.NewSource("https://example.com/data.zarr.zip")
//	if err != nil {
//	    return err
//	}
//	archive, err := zipstore.Open(ctx, src)
//	if err != nil {
//	    return err
//	}
//	meta, err := archive.Read(ctx, "group/.zarray")
//
// ReadRange uses slice semantics: negative positions count from the end of
// the member and out-of-range requests return an empty slice.
//
//	last, err := archive.ReadRange(ctx, "group/0.0", -16, zipstore.ToEnd)
//
// # Archive Shape
//
// Offsets are reconstructed from the central directory alone, assuming each
// member is stored uncompressed and its local header has no extra field.
// Compressed members fail with ErrUnsupportedMember. Use Verify, or
// WithStrictHeaders, to check the local header of a member before trusting
// its offset. The pack command of cmd/zipstore writes archives of the
// expected shape.
//
// # File System
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS.
// Directories are synthesized from member names.
//
// # Caching
//
// Wrap a byte source with cache.NewSource to keep fetched blocks in a
// cache.BlockStore such as disk.BlockCache.
package zipstore
