package zipstore

import (
	"context"
	"io"
	"io/fs"
	"slices"
	"strings"

	"github.com/meigma/zipstore/internal/file"
	"github.com/meigma/zipstore/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// fsName maps an fs.FS path to a member name. The root "." maps to "".
func fsName(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return "", nil
	}
	return name, nil
}

// Open implements fs.FS.
//
// Files are read lazily: every Read or ReadAt issues one range request.
// The returned file also implements io.ReaderAt and io.Seeker.
func (a *Archive) Open(name string) (fs.File, error) {
	member, err := fsName("open", name)
	if err != nil {
		return nil, err
	}
	if a.isDir(member) {
		return &openDir{a: a, name: member}, nil
	}
	f, err := a.lookupFile("open", member)
	if err != nil {
		return nil, err
	}
	return file.Open(a, f), nil
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	member, err := fsName("stat", name)
	if err != nil {
		return nil, err
	}
	if a.isDir(member) {
		return dirInfo(member), nil
	}
	m, ok := a.table.Lookup(member)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: ErrMemberNotFound}
	}
	return file.NewInfo(m.(*File)), nil //nolint:errcheck // directories handled above
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	member, err := fsName("readfile", name)
	if err != nil {
		return nil, err
	}
	return a.Read(context.Background(), member)
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns the entries of the named directory sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	member, err := fsName("readdir", name)
	if err != nil {
		return nil, err
	}
	if !a.isDir(member) {
		if _, ok := a.table.Lookup(member); ok {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
		}
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrMemberNotFound}
	}
	return a.dirEntries(member), nil
}

// isDir reports whether name is a directory. The root always is.
func (a *Archive) isDir(name string) bool {
	if name == "" {
		return true
	}
	m, ok := a.table.Lookup(name)
	if !ok {
		return false
	}
	_, ok = m.(*Dir)
	return ok
}

func (a *Archive) dirEntries(name string) []fs.DirEntry {
	children, _ := a.Children(name) //nolint:errcheck // name is a directory
	entries := make([]fs.DirEntry, 0, len(children))
	for _, child := range children {
		m, _ := a.table.Lookup(child)
		switch m := m.(type) {
		case *File:
			entries = append(entries, file.NewDirEntry(file.NewInfo(m)))
		case *Dir:
			entries = append(entries, file.NewDirEntry(dirInfo(m.Name)))
		}
	}
	slices.SortFunc(entries, func(x, y fs.DirEntry) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return entries
}

func dirInfo(name string) *file.DirInfo {
	if name == "" {
		return file.NewDirInfo(".")
	}
	return file.NewDirInfo(pathutil.Base(name))
}

// openDir implements fs.File and fs.ReadDirFile for directory nodes.
type openDir struct {
	a       *Archive
	name    string
	entries []fs.DirEntry
	offset  int
	loaded  bool
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: ErrMemberIsDirectory}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return dirInfo(d.name), nil
}

func (d *openDir) Close() error {
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		d.entries = d.a.dirEntries(d.name)
		d.loaded = true
	}

	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(remaining))
	d.offset += n
	return remaining[:n], nil
}
