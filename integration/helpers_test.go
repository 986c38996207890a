//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/zipstore/internal/testutil"
)

// --- Server Container Setup ---

var (
	serverOnce sync.Once
	serverURL  string
	serverErr  error

	// zarrFiles holds the members of zarr.zip, keyed by name.
	zarrFiles map[string][]byte
)

const htmlRoot = "/usr/share/nginx/html"

// getServer returns the base URL of the shared archive server, starting the
// container if needed. The container is shared across all tests.
func getServer(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	serverOnce.Do(func() {
		dir, err := os.MkdirTemp("", "zipstore-integration-")
		if err != nil {
			serverErr = err
			return
		}
		archives := writeFixtures(tb, dir)
		serverURL, serverErr = startServerContainer(context.Background(), archives)
	})

	if serverErr != nil {
		tb.Fatalf("start archive server: %v", serverErr)
	}
	return serverURL
}

// startServerContainer starts nginx serving the given host files from its
// document root and returns the base URL.
func startServerContainer(ctx context.Context, archives []string) (string, error) {
	files := make([]testcontainers.ContainerFile, len(archives))
	for i, path := range archives {
		files[i] = testcontainers.ContainerFile{
			HostFilePath:      path,
			ContainerFilePath: htmlRoot + "/" + filepath.Base(path),
			FileMode:          0o644,
		}
	}

	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		Files:        files,
		WaitingFor:   wait.ForHTTP("/hello.zip").WithPort("80/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start nginx container: %w", err)
	}

	// Container cleanup is handled by the testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve server host: %w", err)
	}
	port, err := container.MappedPort(ctx, "80/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve server port: %w", err)
	}
	return fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// archiveURL returns the URL of a fixture archive.
func archiveURL(tb testing.TB, name string) string {
	tb.Helper()
	return getServer(tb) + "/" + name
}

// --- Fixtures ---

// writeFixtures writes every fixture archive into dir and returns their paths.
func writeFixtures(tb testing.TB, dir string) []string {
	tb.Helper()

	var zarrOrder []string
	zarrFiles, zarrOrder = makeZarrFiles(8, 8, 4096)
	zarr := testutil.BuildZip(tb, testutil.StoredMembers(zarrFiles, zarrOrder...))

	fixtures := map[string][]byte{
		"hello.zip": testutil.HelloArchive(tb),
		"zarr.zip":       zarr,
		"prefixed.zip": testutil.BuildZipWithOptions(tb, testutil.StoredMembers(map[string][]byte{
			"a.txt":     []byte("prefixed alpha"),
			"sub/b.txt": []byte("prefixed beta"),
		}, "a.txt", "sub/b.txt"), testutil.Options{
			Prefix:  makeRandomContent(1000),
			Comment: "archive behind a stub",
		}),
	}

	paths := make([]string, 0, len(fixtures))
	for name, data := range fixtures {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // Served by the test container
			tb.Fatalf("write fixture %s: %v", name, err)
		}
		paths = append(paths, path)
	}
	return paths
}

// makeZarrFiles builds a chunked array hierarchy with rows*cols chunks of
// random content.
func makeZarrFiles(rows, cols, chunkSize int) (map[string][]byte, []string) {
	files := map[string][]byte{
		".zgroup":       []byte(`{"zarr_format":2}`),
		"field/.zarray": []byte(fmt.Sprintf(`{"shape":[%d,%d],"chunks":[1,1]}`, rows, cols)),
	}
	order := []string{".zgroup", "field/.zarray"}
	for r := range rows {
		for c := range cols {
			key := fmt.Sprintf("field/%d.%d", r, c)
			files[key] = makeRandomContent(chunkSize)
			order = append(order, key)
		}
	}
	return files, order
}

// makeRandomContent creates random binary content.
func makeRandomContent(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}
