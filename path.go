package zipstore

import "github.com/meigma/zipstore/internal/pathutil"

// NormalizePath converts a user-provided path to the member name form.
//
// It performs the following transformations:
//   - Strips leading slashes: "/group/var" → "group/var"
//   - Strips trailing slashes: "group/var/" → "group/var"
//   - Collapses consecutive slashes: "group//var" → "group/var"
//   - Resolves dot elements: "group/./var/../tmp" → "group/tmp"
//   - Converts "/", "." and "" to the root ("")
//
// A path whose ".." elements climb above the root never matches a member.
func NormalizePath(p string) string {
	return pathutil.Normalize(p)
}
