package tailzip

import (
	"iter"
	"slices"

	"github.com/meigma/zipstore/internal/pathutil"
)

// Member is either a *File or a *Dir.
type Member interface {
	member()
}

// File is a regular archive member backed by a byte range of the archive.
type File struct {
	// Name is the normalized member name.
	Name string

	// RawName is the name exactly as recorded in the central directory.
	RawName string

	// Size is the declared uncompressed size in bytes.
	Size int64

	// ContentOffset is the absolute offset of the first content byte in the
	// full archive.
	ContentOffset int64

	// HeaderOffset is the absolute offset of the member's local file header.
	HeaderOffset int64

	// Method is the compression method recorded in the central directory.
	Method uint16
}

// Dir is a directory node. Directories are synthesized from member names;
// an explicit archive entry is never required.
type Dir struct {
	// Name is the normalized directory name; the root is "".
	Name string

	// Children holds the full names of the immediate children in archive
	// order, without duplicates.
	Children []string
}

func (*File) member() {}
func (*Dir) member()  {}

// Stored reports whether the member content is stored uncompressed.
func (f *File) Stored() bool {
	return f.Method == MethodStore
}

// Table maps normalized names to members. It is immutable once built.
type Table struct {
	members map[string]Member
	names   []string
	files   int
}

// Lookup returns the member with the given normalized name.
func (t *Table) Lookup(name string) (Member, bool) {
	m, ok := t.members[name]
	return m, ok
}

// Len returns the number of file members.
func (t *Table) Len() int {
	return t.files
}

// All returns every member, files and directories, sorted by name.
func (t *Table) All() iter.Seq2[string, Member] {
	return func(yield func(string, Member) bool) {
		for _, name := range t.names {
			if !yield(name, t.members[name]) {
				return
			}
		}
	}
}

// Files returns the file members sorted by name.
func (t *Table) Files() iter.Seq[*File] {
	return func(yield func(*File) bool) {
		for _, name := range t.names {
			if f, ok := t.members[name].(*File); ok {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// builder accumulates files and their ancestor directories.
type builder struct {
	files    map[string]*File
	order    []string
	children map[string][]string
	seen     map[string]struct{}
}

func newBuilder(n int) *builder {
	return &builder{
		files:    make(map[string]*File, n),
		order:    make([]string, 0, n),
		children: make(map[string][]string),
		seen:     make(map[string]struct{}),
	}
}

// add registers f and links it into every ancestor directory.
func (b *builder) add(f *File) {
	if _, dup := b.files[f.Name]; !dup {
		b.order = append(b.order, f.Name)
	}
	b.files[f.Name] = f

	name := f.Name
	for {
		parent := pathutil.Parent(name)
		edge := parent + "\x00" + name
		if _, ok := b.seen[edge]; ok {
			return
		}
		b.seen[edge] = struct{}{}
		b.children[parent] = append(b.children[parent], name)
		if parent == "" {
			return
		}
		name = parent
	}
}

func (b *builder) table() *Table {
	t := &Table{members: make(map[string]Member, len(b.files)+len(b.children))}
	for _, name := range b.order {
		if _, isDir := b.children[name]; isDir {
			continue
		}
		t.members[name] = b.files[name]
		t.files++
	}
	for name, children := range b.children {
		t.members[name] = &Dir{Name: name, Children: children}
	}
	t.names = make([]string, 0, len(t.members))
	for name := range t.members {
		t.names = append(t.names, name)
	}
	slices.Sort(t.names)
	return t
}
