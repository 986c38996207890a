// Package testutil provides archive fixtures and mock byte sources for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Member describes one archive entry to build.
type Member struct {
	Name string
	Data []byte

	// Method is zip.Store unless set.
	Method uint16

	// Extra is written verbatim into the local and central headers.
	Extra []byte
}

// Options tunes archive construction.
type Options struct {
	// Prefix is written before the archive, as in self-extracting archives.
	// Recorded offsets do not account for it.
	Prefix []byte

	// Comment is the archive comment stored after the end record.
	Comment string
}

// BuildZip builds an archive from members in order.
func BuildZip(tb testing.TB, members []Member) []byte {
	tb.Helper()
	return BuildZipWithOptions(tb, members, Options{})
}

// BuildZipWithOptions builds an archive from members with extra options.
func BuildZipWithOptions(tb testing.TB, members []Member, opts Options) []byte {
	tb.Helper()

	var buf bytes.Buffer
	buf.Write(opts.Prefix)
	// Offsets stay relative to the archive start, not the buffer start.
	zw := zip.NewWriter(&buf)
	if opts.Comment != "" {
		if err := zw.SetComment(opts.Comment); err != nil {
			tb.Fatalf("set comment: %v", err)
		}
	}
	for _, m := range members {
		// Modified stays zero so the writer adds no timestamp extra field.
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   m.Name,
			Method: m.Method,
			Extra:  m.Extra,
		})
		if err != nil {
			tb.Fatalf("create %s: %v", m.Name, err)
		}
		if len(m.Data) == 0 {
			continue
		}
		if _, err := w.Write(m.Data); err != nil {
			tb.Fatalf("write %s: %v", m.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

// StoredMembers converts a name→content map into stored members in
// deterministic order.
func StoredMembers(files map[string][]byte, order ...string) []Member {
	members := make([]Member, 0, len(files))
	for _, name := range order {
		members = append(members, Member{Name: name, Data: files[name], Method: zip.Store})
	}
	return members
}

// ExtraField encodes a single extra-field block with the given header ID.
func ExtraField(id uint16, data []byte) []byte {
	b := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(b, id)
	binary.LittleEndian.PutUint16(b[2:], uint16(len(data))) //nolint:gosec // test data is small
	copy(b[4:], data)
	return b
}

// WriteArchive writes data to a temp file and returns its path.
func WriteArchive(tb testing.TB, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "archive.zip")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write archive: %v", err)
	}
	return path
}

// HelloArchive returns the two-member archive used across package tests:
// x.txt = "hello" and dir/y.txt = "world!".
func HelloArchive(tb testing.TB) []byte {
	tb.Helper()
	return BuildZip(tb, []Member{
		{Name: "x.txt", Data: []byte("hello")},
		{Name: "dir/y.txt", Data: []byte("world!")},
	})
}
