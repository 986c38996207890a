package tailzip

import (
	"encoding/binary"
	"fmt"
)

// directoryEnd is the end-of-central-directory record.
type directoryEnd struct {
	diskNbr            uint16
	dirDiskNbr         uint16
	dirRecordsThisDisk uint16
	directoryRecords   uint16
	directorySize      uint32
	directoryOffset    uint32
	commentLen         uint16
}

// record is one central directory file header.
type record struct {
	name             string
	flags            uint16
	method           uint16
	compressedSize   uint32
	uncompressedSize uint32

	// headerOffset is the local header offset relative to the start of the
	// window, as a reader that never saw the archive start would compute it.
	// It is negative for members that begin before the window.
	headerOffset int64
}

// findDirectoryEnd returns the position of the end-of-central-directory
// record in b, scanning backwards over the largest span a trailing comment
// allows. The first candidate whose comment fits in b wins; bytes past the
// comment are ignored.
func findDirectoryEnd(b []byte) (int, error) {
	if len(b) < directoryEndLen {
		return 0, fmt.Errorf("%w: window of %d bytes cannot hold an end of central directory record", ErrMalformed, len(b))
	}
	stop := max(0, len(b)-directoryEndLen-maxCommentLen)
	for i := len(b) - directoryEndLen; i >= stop; i-- {
		if binary.LittleEndian.Uint32(b[i:]) != directoryEndSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(b[i+20:]))
		if i+directoryEndLen+commentLen <= len(b) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: end of central directory record not found", ErrMalformed)
}

func readDirectoryEnd(b []byte) *directoryEnd {
	le := binary.LittleEndian
	return &directoryEnd{
		diskNbr:            le.Uint16(b[4:]),
		dirDiskNbr:         le.Uint16(b[6:]),
		dirRecordsThisDisk: le.Uint16(b[8:]),
		directoryRecords:   le.Uint16(b[10:]),
		directorySize:      le.Uint32(b[12:]),
		directoryOffset:    le.Uint32(b[16:]),
		commentLen:         le.Uint16(b[20:]),
	}
}

func (d *directoryEnd) validate() error {
	if d.diskNbr != 0 || d.dirDiskNbr != 0 {
		return fmt.Errorf("%w: multi-disk archives are not supported", ErrMalformed)
	}
	if d.directoryRecords == uint16max || d.directorySize == uint32max || d.directoryOffset == uint32max {
		return fmt.Errorf("%w: zip64 archives are not supported", ErrMalformed)
	}
	if d.dirRecordsThisDisk != d.directoryRecords {
		return fmt.Errorf("%w: record count mismatch (%d on disk, %d total)",
			ErrMalformed, d.dirRecordsThisDisk, d.directoryRecords)
	}
	return nil
}

// readDirectory parses the central directory that ends at eocdPos.
func readDirectory(b []byte, eocdPos int, end *directoryEnd) ([]record, error) {
	start := eocdPos - int(end.directorySize)
	if start < 0 {
		return nil, fmt.Errorf("%w: central directory of %d bytes does not fit in a %d byte window",
			ErrMalformed, end.directorySize, len(b))
	}

	// concat maps recorded offsets into window coordinates.
	concat := int64(start) - int64(end.directoryOffset)

	le := binary.LittleEndian
	records := make([]record, 0, end.directoryRecords)
	pos := start
	for i := 0; i < int(end.directoryRecords); i++ {
		if pos+directoryHeaderLen > eocdPos {
			return nil, fmt.Errorf("%w: central directory truncated at record %d", ErrMalformed, i)
		}
		h := b[pos : pos+directoryHeaderLen]
		if le.Uint32(h) != directoryHeaderSignature {
			return nil, fmt.Errorf("%w: bad central directory signature at record %d", ErrMalformed, i)
		}
		nameLen := int(le.Uint16(h[28:]))
		extraLen := int(le.Uint16(h[30:]))
		commentLen := int(le.Uint16(h[32:]))
		next := pos + directoryHeaderLen + nameLen + extraLen + commentLen
		if next > eocdPos {
			return nil, fmt.Errorf("%w: central directory truncated at record %d", ErrMalformed, i)
		}

		rec := record{
			name:             string(b[pos+directoryHeaderLen : pos+directoryHeaderLen+nameLen]),
			flags:            le.Uint16(h[8:]),
			method:           le.Uint16(h[10:]),
			compressedSize:   le.Uint32(h[20:]),
			uncompressedSize: le.Uint32(h[24:]),
		}
		offset := le.Uint32(h[42:])
		if rec.uncompressedSize == uint32max || rec.compressedSize == uint32max || offset == uint32max {
			return nil, fmt.Errorf("%w: %s: zip64 members are not supported", ErrMalformed, rec.name)
		}
		rec.headerOffset = int64(offset) + concat
		records = append(records, rec)
		pos = next
	}
	if pos != eocdPos {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d central directory records",
			ErrMalformed, eocdPos-pos, end.directoryRecords)
	}
	return records, nil
}
