// Package tailzip reconstructs a ZIP member table from the trailing bytes of
// an archive.
//
// Only the end-of-central-directory record and the central directory are
// read. Content offsets are rebuilt from the recorded local header offsets on
// the assumption that every member is stored uncompressed and that no local
// header carries extra-field bytes.
package tailzip

import "errors"

// Record layout constants from the ZIP application note (APPNOTE 4.3).
const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50

	// FileHeaderLen is the fixed portion of a local file header.
	FileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22

	maxCommentLen = 0xffff

	uint16max = 0xffff
	uint32max = 0xffffffff
)

// Compression methods.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
)

// Sentinel errors.
var (
	// ErrMalformed is returned when the window does not hold a complete,
	// consistent central directory.
	ErrMalformed = errors.New("zipstore: malformed archive")

	// ErrUnsupported is returned for members the offset reconstruction
	// cannot serve: compressed content or local headers with extra fields.
	ErrUnsupported = errors.New("zipstore: unsupported member")
)
