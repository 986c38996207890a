// Package pathutil provides path manipulation for slash-separated member names.
package pathutil

import (
	"path"
	"strings"
)

// Normalize converts a member name or user path to its canonical form.
//
// It strips leading and trailing slashes, collapses repeated slashes, and
// resolves "." and ".." elements. The archive root is the empty string.
// A path that climbs above the root keeps its leading ".." elements; see
// Escapes.
func Normalize(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Escapes reports whether a normalized name climbs above the root.
// Such a name never matches a member.
func Escapes(name string) bool {
	return name == ".." || strings.HasPrefix(name, "../")
}

// Base returns the last element of a normalized name.
// The root ("") has base ".".
func Base(name string) string {
	if name == "" {
		return "."
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Parent returns the name with its last element removed.
// Top-level names have the root ("") as parent.
func Parent(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// Join joins a directory name and a child element.
func Join(dir, elem string) string {
	if dir == "" {
		return elem
	}
	if elem == "" {
		return dir
	}
	return dir + "/" + elem
}

// HasPrefix reports whether name lies at or below the directory prefix.
func HasPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	return len(name) == len(prefix) || name[len(prefix)] == '/'
}
