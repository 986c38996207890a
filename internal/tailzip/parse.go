package tailzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/meigma/zipstore/internal/pathutil"
)

// Parse builds a member table from the trailing window of an archive whose
// full size is archiveSize. The window must contain the complete central
// directory and end-of-central-directory record.
//
// Content offsets are reconstructed as
//
//	(archiveSize + 30 - len(tail)) + headerOffset + len(rawName)
//
// where headerOffset is the window-relative local header offset. The result
// is only correct for stored members whose local header has no extra field.
func Parse(tail []byte, archiveSize int64) (*Table, error) {
	if archiveSize < int64(len(tail)) {
		return nil, fmt.Errorf("%w: window of %d bytes exceeds archive size %d", ErrMalformed, len(tail), archiveSize)
	}

	eocdPos, err := findDirectoryEnd(tail)
	if err != nil {
		return nil, err
	}
	end := readDirectoryEnd(tail[eocdPos:])
	if err := end.validate(); err != nil {
		return nil, err
	}
	records, err := readDirectory(tail, eocdPos, end)
	if err != nil {
		return nil, err
	}

	windowStart := archiveSize - int64(len(tail))
	b := newBuilder(len(records))
	for i := range records {
		rec := &records[i]
		if strings.HasSuffix(rec.name, "/") {
			continue
		}
		name := pathutil.Normalize(rec.name)
		if name == "" || pathutil.Escapes(name) {
			continue
		}

		f := &File{
			Name:          name,
			RawName:       rec.name,
			Size:          int64(rec.uncompressedSize),
			ContentOffset: windowStart + FileHeaderLen + rec.headerOffset + int64(len(rec.name)),
			HeaderOffset:  windowStart + rec.headerOffset,
			Method:        rec.method,
		}
		if f.HeaderOffset < 0 {
			return nil, fmt.Errorf("%w: %s: local header offset %d precedes the archive", ErrMalformed, name, f.HeaderOffset)
		}
		if f.Stored() && f.ContentOffset+f.Size > archiveSize {
			return nil, fmt.Errorf("%w: %s: content [%d, %d) extends past archive size %d",
				ErrMalformed, name, f.ContentOffset, f.ContentOffset+f.Size, archiveSize)
		}
		b.add(f)
	}
	return b.table(), nil
}

// LocalHeaderLen returns the number of bytes to fetch from f.HeaderOffset
// to check its local header.
func LocalHeaderLen(f *File) int64 {
	return FileHeaderLen + int64(len(f.RawName))
}

// CheckLocalHeader validates the local header bytes of f against the
// assumptions behind its reconstructed content offset.
func CheckLocalHeader(f *File, h []byte) error {
	if int64(len(h)) < LocalHeaderLen(f) {
		return fmt.Errorf("%w: %s: local header truncated (%d bytes)", ErrMalformed, f.Name, len(h))
	}
	le := binary.LittleEndian
	if le.Uint32(h) != fileHeaderSignature {
		return fmt.Errorf("%w: %s: bad local header signature", ErrMalformed, f.Name)
	}
	if method := le.Uint16(h[8:]); method != MethodStore {
		return fmt.Errorf("%w: %s: compression method %d", ErrUnsupported, f.Name, method)
	}
	nameLen := int(le.Uint16(h[26:]))
	if nameLen != len(f.RawName) || !bytes.Equal(h[FileHeaderLen:FileHeaderLen+nameLen], []byte(f.RawName)) {
		return fmt.Errorf("%w: %s: local header name does not match central directory", ErrMalformed, f.Name)
	}
	if extraLen := le.Uint16(h[28:]); extraLen != 0 {
		return fmt.Errorf("%w: %s: local header carries %d extra field bytes", ErrUnsupported, f.Name, extraLen)
	}
	return nil
}
