package main

import (
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/internal/testutil"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCommands_HelloArchive(t *testing.T) {
	t.Parallel()

	path := testutil.WriteArchive(t, testutil.HelloArchive(t))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ls root", []string{"ls", path}, "x.txt\ndir\n"},
		{"ls dir", []string{"ls", path, "dir"}, "y.txt\n"},
		{"ls long", []string{"ls", "-l", path}, "           5  x.txt\n           -  dir/\n"},
		{"cat", []string{"cat", path, "x.txt"}, "hello"},
		{"cat nested", []string{"cat", path, "dir/y.txt"}, "world!"},
		{"cat range", []string{"cat", "--offset", "1", "--length", "3", path, "x.txt"}, "ell"},
		{"cat tail", []string{"cat", "--offset=-3", path, "dir/y.txt"}, "ld!"},
		{"cat tail length", []string{"cat", "--offset=-3", "--length", "2", path, "dir/y.txt"}, "ld"},
		{"tree", []string{"tree", path}, ".\n├── x.txt\n└── dir/\n    └── y.txt\n"},
		{"verify", []string{"verify", path}, "2 members, 0 failed\n"},
		{"root flag", []string{"ls", "--root", "dir", path}, "y.txt\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := run(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatCommand(t *testing.T) {
	t.Parallel()

	path := testutil.WriteArchive(t, testutil.HelloArchive(t))

	out, err := run(t, "stat", path, "x.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "type:           file\n")
	assert.Contains(t, out, "size:           5\n")
	assert.Contains(t, out, "content offset: 35\n")
	assert.Contains(t, out, "header offset:  0\n")

	out, err = run(t, "stat", path, "dir")
	require.NoError(t, err)
	assert.Contains(t, out, "type:           directory\n")
	assert.Contains(t, out, "entries:        1\n")

	_, err = run(t, "stat", path, "missing")
	require.Error(t, err)
}

func TestCatCommand_Errors(t *testing.T) {
	t.Parallel()

	path := testutil.WriteArchive(t, testutil.HelloArchive(t))

	_, err := run(t, "cat", path, "missing.txt")
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = run(t, "cat", path, "dir")
	require.ErrorIs(t, err, zipstore.ErrMemberIsDirectory)

	_, err = run(t, "cat", filepath.Join(t.TempDir(), "absent.zip"), "x.txt")
	require.Error(t, err)
}

func TestVerifyCommand_ReportsFailures(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.Member{
		{Name: "ok.txt", Data: []byte("plain")},
		{Name: "packed.txt", Data: bytes.Repeat([]byte("z"), 256), Method: zip.Deflate},
	})
	path := testutil.WriteArchive(t, data)

	out, err := run(t, "verify", path)
	require.ErrorIs(t, err, errVerifyFailed)
	assert.Contains(t, out, "FAIL packed.txt")
	assert.NotContains(t, out, "FAIL ok.txt")
	assert.Contains(t, out, "2 members, 1 failed\n")
}

func TestPackCommand(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "beta")
	writeFile(t, filepath.Join(src, "sub", "deeper", "c.bin"), "gamma")
	dest := filepath.Join(t.TempDir(), "out.zip")

	out, err := run(t, "pack", src, dest)
	require.NoError(t, err)
	assert.Equal(t, "packed 3 files into "+dest+"\n", out)

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	t.Cleanup(func() { _ = zr.Close() })
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.Equal(t, zip.Store, f.Method, f.Name)
		assert.Empty(t, f.Extra, f.Name)
	}
	assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/deeper/c.bin"}, names)

	got, err := run(t, "cat", dest, "sub/deeper/c.bin")
	require.NoError(t, err)
	assert.Equal(t, "gamma", got)

	got, err = run(t, "ls", dest, "sub")
	require.NoError(t, err)
	assert.Equal(t, "b.txt\ndeeper\n", got)

	got, err = run(t, "verify", dest)
	require.NoError(t, err)
	assert.Equal(t, "3 members, 0 failed\n", got)
}

func TestPackCommand_DestInsideSource(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "zz", "b.txt"), "beta")
	dest := filepath.Join(src, "out.zip")

	out, err := run(t, "pack", src, dest)
	require.NoError(t, err)
	assert.Equal(t, "packed 2 files into "+dest+"\n", out)

	got, err := run(t, "ls", dest)
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nzz\n", got)

	// A stale archive from an earlier run is skipped as well.
	out, err = run(t, "pack", src, dest)
	require.NoError(t, err)
	assert.Equal(t, "packed 2 files into "+dest+"\n", out)
}

func TestPackCommand_EmptyDir(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out.zip")
	_, err := run(t, "pack", t.TempDir(), dest)
	require.ErrorIs(t, err, errNoFiles)
	assert.NoFileExists(t, dest)
}

func TestCommands_HTTP(t *testing.T) {
	t.Parallel()

	data := testutil.HelloArchive(t)
	var authorized atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token" {
			authorized.Add(1)
		}
		http.ServeContent(w, r, "a.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	cacheDir := t.TempDir()
	for range 2 {
		out, err := run(t, "cat",
			"-H", "Authorization: Bearer token",
			"--cache-dir", cacheDir,
			"--tail-size", "4096",
			server.URL+"/a.zip", "dir/y.txt")
		require.NoError(t, err)
		assert.Equal(t, "world!", out)
	}
	assert.Equal(t, int32(3), authorized.Load(), "two tail fetches and one cached block")
}

func TestConfigFile(t *testing.T) {
	t.Parallel()

	path := testutil.WriteArchive(t, testutil.HelloArchive(t))
	cfgPath := filepath.Join(t.TempDir(), "zipstore.yaml")
	writeFile(t, cfgPath, "root: dir\nstrict: true\n")

	out, err := run(t, "ls", "--config", cfgPath, path)
	require.NoError(t, err)
	assert.Equal(t, "y.txt\n", out)

	out, err = run(t, "ls", "--config", cfgPath, "--root", "", path)
	require.NoError(t, err)
	assert.Equal(t, "x.txt\ndir\n", out, "flags override the file")
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, `
tail_size: 4096
cache_dir: /tmp/blocks
headers:
  Authorization: Bearer abc
retries: 3
timeout: 30s
`)
	cfg, err := loadConfig(good)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), cfg.TailSize)
	assert.Equal(t, "/tmp/blocks", cfg.CacheDir)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "Bearer abc", cfg.httpHeaders().Get("Authorization"))

	cfg, err = loadConfig("")
	require.NoError(t, err)
	assert.Zero(t, cfg.TailSize)
	assert.Nil(t, cfg.httpHeaders())

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "retries: -1\n")
	_, err = loadConfig(bad)
	require.ErrorContains(t, err, "retries must be >= 0")

	malformed := filepath.Join(dir, "malformed.yaml")
	writeFile(t, malformed, "tail_size: [\n")
	_, err = loadConfig(malformed)
	require.Error(t, err)

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMergeConfig(t *testing.T) {
	t.Parallel()

	file := Config{TailSize: 4096, Root: "a", Retries: 2}
	flags := Config{TailSize: zipstore.DefaultTailSize, Root: "b", Retries: 0, Concurrency: 8}
	changed := map[string]bool{"root": true}

	got := mergeConfig(file, flags, func(name string) bool { return changed[name] })
	assert.Equal(t, int64(4096), got.TailSize, "file wins over an unchanged flag")
	assert.Equal(t, "b", got.Root, "a changed flag wins over the file")
	assert.Equal(t, 2, got.Retries)
	assert.Equal(t, 8, got.Concurrency, "flag default fills an empty setting")
}

func TestParseHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		name, val string
		wantErr   bool
	}{
		{in: "Authorization: Bearer x", name: "Authorization", val: "Bearer x"},
		{in: "X-Empty:", name: "X-Empty", val: ""},
		{in: "  Spaced  :  v  ", name: "Spaced", val: "v"},
		{in: "no-colon", wantErr: true},
		{in: ": value", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			name, val, err := parseHeader(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.val, val)
		})
	}
}
