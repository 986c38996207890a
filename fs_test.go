package zipstore

import (
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zipstore/internal/testutil"
)

func newFSArchive(t *testing.T) *Archive {
	t.Helper()
	files := map[string][]byte{
		"group/.zgroup":     []byte(`{"zarr_format":2}`),
		"group/var/.zarray": []byte(`{"chunks":[2,2]}`),
		"group/var/0.0":     []byte("chunk-00"),
		"group/var/0.1":     []byte("chunk-01"),
		"readme.md":         []byte("# data\n"),
	}
	order := []string{"readme.md", "group/.zgroup", "group/var/.zarray", "group/var/0.1", "group/var/0.0"}
	a, _ := openMock(t, testutil.BuildZip(t, testutil.StoredMembers(files, order...)))
	return a
}

func TestArchiveFS(t *testing.T) {
	t.Parallel()

	a := newFSArchive(t)
	require.NoError(t, fstest.TestFS(a,
		"readme.md", "group/.zgroup", "group/var/.zarray", "group/var/0.0", "group/var/0.1",
	))
}

func TestArchiveOpen(t *testing.T) {
	t.Parallel()

	a := newFSArchive(t)

	f, err := a.Open("group/var/0.1")
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "chunk-01", string(got))

	ra, ok := f.(io.ReaderAt)
	require.True(t, ok)
	buf := make([]byte, 2)
	_, err = ra.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "01", string(buf))

	_, err = a.Open("missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = a.Open("/readme.md")
	require.ErrorIs(t, err, fs.ErrInvalid)

	d, err := a.Open("group")
	require.NoError(t, err)
	_, err = d.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrMemberIsDirectory)
}

func TestArchiveStat(t *testing.T) {
	t.Parallel()

	a := newFSArchive(t)

	info, err := a.Stat("group/var/.zarray")
	require.NoError(t, err)
	assert.Equal(t, ".zarray", info.Name())
	assert.Equal(t, int64(16), info.Size())
	assert.False(t, info.IsDir())

	info, err = a.Stat("group/var")
	require.NoError(t, err)
	assert.Equal(t, "var", info.Name())
	assert.True(t, info.IsDir())

	info, err = a.Stat(".")
	require.NoError(t, err)
	assert.Equal(t, ".", info.Name())
	assert.True(t, info.IsDir())

	_, err = a.Stat("group/nope")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestArchiveReadDir(t *testing.T) {
	t.Parallel()

	a := newFSArchive(t)

	entries, err := a.ReadDir("group/var")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{".zarray", "0.0", "0.1"}, names, "entries are sorted by name")

	entries, err = a.ReadDir(".")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "group", entries[0].Name())
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "readme.md", entries[1].Name())

	_, err = a.ReadDir("readme.md")
	require.ErrorIs(t, err, ErrNotDirectory)
	_, err = a.ReadDir("nope")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestArchiveOpenDirReadDirN(t *testing.T) {
	t.Parallel()

	a := newFSArchive(t)
	f, err := a.Open("group/var")
	require.NoError(t, err)
	defer f.Close()

	dir, ok := f.(fs.ReadDirFile)
	require.True(t, ok)

	first, err := dir.ReadDir(2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	rest, err := dir.ReadDir(2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	_, err = dir.ReadDir(2)
	require.ErrorIs(t, err, io.EOF)
}

func TestArchiveFSWalk(t *testing.T) {
	t.Parallel()

	a := newFSArchive(t)
	var files []string
	err := fs.WalkDir(a, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"group/.zgroup", "group/var/.zarray", "group/var/0.0", "group/var/0.1", "readme.md"}, files)

	sub, err := fs.Sub(a, "group/var")
	require.NoError(t, err)
	got, err := fs.ReadFile(sub, "0.0")
	require.NoError(t, err)
	assert.Equal(t, "chunk-00", string(got))
}
