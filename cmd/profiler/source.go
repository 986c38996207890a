package main

import (
	"bytes"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/cache"
	"github.com/meigma/zipstore/cache/disk"
	zhttp "github.com/meigma/zipstore/http"
)

// newSource returns the byte source to profile against. Without -data-url
// the archive is read from memory. With "local" it is served by an
// in-process HTTP server.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newSource(cfg config, data []byte, cacheDir string) (zipstore.ByteSource, func(), error) {
	if cfg.dataURL == "" {
		return zipstore.NewBytesSource(data), func() {}, nil
	}

	url := cfg.dataURL
	cleanup := func() {}
	if cfg.dataURL == "local" {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			nethttp.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
		}))
		url = server.URL + "/archive.zip"
		cleanup = server.Close
	}

	client := &nethttp.Client{Transport: newThrottledTransport(cfg.dataHTTPLatency, cfg.dataHTTPBPS)}
	src, err := zhttp.NewSource(url, zhttp.WithClient(client), zhttp.WithRetry(cfg.retries))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.cache != "disk" {
		return src, cleanup, nil
	}

	blocks, err := disk.New(cacheDir)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open block cache: %w", err)
	}
	cached, err := cache.NewSource(src, blocks, cache.WithBlockSize(cfg.blockSize))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return cached, cleanup, nil
}

// throttledTransport delays every round trip and paces response bodies to
// simulate a remote object store.
type throttledTransport struct {
	base    nethttp.RoundTripper
	latency time.Duration
	bps     int64
}

func newThrottledTransport(latency time.Duration, bps int64) nethttp.RoundTripper {
	base := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
	if latency <= 0 && bps <= 0 {
		return base
	}
	return &throttledTransport{base: base, latency: latency, bps: bps}
}

func (t *throttledTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if t.latency > 0 {
		time.Sleep(t.latency)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil || t.bps <= 0 || resp.Body == nil {
		return resp, err
	}
	resp.Body = &pacedBody{ReadCloser: resp.Body, bps: t.bps, start: time.Now()}
	return resp, nil
}

// pacedBody sleeps so that reads never exceed bps bytes per second.
type pacedBody struct {
	io.ReadCloser
	bps   int64
	start time.Time
	read  int64
}

func (b *pacedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)
	due := time.Duration(b.read * int64(time.Second) / b.bps)
	if wait := due - time.Since(b.start); wait > 0 {
		time.Sleep(wait)
	}
	return n, err
}

var byteUnits = []struct {
	suffix string
	scale  int64
}{
	{"gb", 1 << 30}, {"g", 1 << 30},
	{"mb", 1 << 20}, {"m", 1 << 20},
	{"kb", 1 << 10}, {"k", 1 << 10},
	{"b", 1},
}

// parseBytesPerSecond parses rates such as "512k", "10MBps", or "1g/s".
func parseBytesPerSecond(value string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(value))
	text = strings.TrimSuffix(text, "/s")
	text = strings.TrimSuffix(text, "ps")

	scale := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(text, u.suffix) {
			text, scale = strings.TrimSuffix(text, u.suffix), u.scale
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}
	return n * scale, nil
}
