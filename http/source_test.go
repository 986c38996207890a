package http

import (
	"bytes"
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContentServer(t *testing.T, data []byte, etag *atomic.Value) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if etag != nil {
			w.Header().Set("ETag", etag.Load().(string)) //nolint:errcheck // test stores strings only
		}
		nethttp.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSource_FetchTail(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	server := newContentServer(t, data, nil)

	tests := []struct {
		name string
		n    int64
		want string
	}{
		{name: "suffix", n: 4, want: "cdef"},
		{name: "whole object", n: 16, want: string(data)},
		{name: "larger than object", n: 1 << 20, want: string(data)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, err := NewSource(server.URL)
			require.NoError(t, err)
			assert.Equal(t, int64(-1), src.Size())

			tail, size, err := src.FetchTail(context.Background(), tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(tail))
			assert.Equal(t, int64(len(data)), size)
			assert.Equal(t, int64(len(data)), src.Size())
		})
	}

	src, err := NewSource(server.URL)
	require.NoError(t, err)
	_, _, err = src.FetchTail(context.Background(), 0)
	require.Error(t, err)
}

func TestSource_FetchRange(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server := newContentServer(t, data, nil)
	src, err := NewSource(server.URL)
	require.NoError(t, err)

	got, err := src.FetchRange(context.Background(), 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	got, err = src.FetchRange(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = src.FetchRange(context.Background(), -1, 2)
	require.Error(t, err)

	_, err = src.FetchRange(context.Background(), 8, 10)
	require.Error(t, err, "range past the end is a short read")
}

func TestSource_RangeNotSupported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("full body"))
	}))
	t.Cleanup(server.Close)

	src, err := NewSource(server.URL)
	require.NoError(t, err)

	_, _, err = src.FetchTail(context.Background(), 4)
	require.ErrorIs(t, err, ErrRangeNotSupported)
	_, err = src.FetchRange(context.Background(), 0, 4)
	require.ErrorIs(t, err, ErrRangeNotSupported)
}

func TestSource_NotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.NotFoundHandler())
	t.Cleanup(server.Close)

	src, err := NewSource(server.URL, WithRetry(3), WithRetryInterval(time.Millisecond))
	require.NoError(t, err)

	_, _, err = src.FetchTail(context.Background(), 4)
	require.ErrorContains(t, err, "404")
}

func TestSource_ShortBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/100")
		w.WriteHeader(nethttp.StatusPartialContent)
		_, _ = w.Write([]byte("abc"))
	}))
	t.Cleanup(server.Close)

	src, err := NewSource(server.URL)
	require.NoError(t, err)

	_, err = src.FetchRange(context.Background(), 0, 10)
	require.ErrorContains(t, err, "short range read")
}

func TestSource_Retry(t *testing.T) {
	t.Parallel()

	data := []byte("retry me")
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		nethttp.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := NewSource(server.URL, WithRetry(3), WithRetryInterval(time.Millisecond))
	require.NoError(t, err)

	got, err := src.FetchRange(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "retry", string(got))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	noRetry, err := NewSource(server.URL)
	require.NoError(t, err)
	_, err = noRetry.FetchRange(context.Background(), 0, 5)
	require.ErrorContains(t, err, "503")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSource_ConditionalHeaders(t *testing.T) {
	t.Parallel()

	data := []byte("versioned content")
	var etag atomic.Value
	etag.Store(`"v1"`)
	server := newContentServer(t, data, &etag)

	src, err := NewSource(server.URL, WithConditionalHeaders())
	require.NoError(t, err)

	_, _, err = src.FetchTail(context.Background(), 7)
	require.NoError(t, err)
	idBefore := src.SourceID()
	assert.True(t, strings.HasPrefix(idBefore, "sha256:"))

	got, err := src.FetchRange(context.Background(), 0, 9)
	require.NoError(t, err)
	assert.Equal(t, "versioned", string(got))

	etag.Store(`"v2"`)
	_, err = src.FetchRange(context.Background(), 0, 9)
	require.ErrorIs(t, err, ErrModified)
}

func TestSource_Headers(t *testing.T) {
	t.Parallel()

	data := []byte("secret")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" || r.Header.Get("X-Extra") != "1" {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		nethttp.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := NewSource(server.URL,
		WithHeaders(nethttp.Header{"Authorization": []string{"Bearer token"}}),
		WithHeader("X-Extra", "1"),
	)
	require.NoError(t, err)

	got, err := src.FetchRange(context.Background(), 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))

	bare, err := NewSource(server.URL)
	require.NoError(t, err)
	_, err = bare.FetchRange(context.Background(), 0, 6)
	require.ErrorContains(t, err, "401")
}

func TestSource_SourceID(t *testing.T) {
	t.Parallel()

	a, err := NewSource("https://example.com/a.zip")
	require.NoError(t, err)
	b, err := NewSource("https://example.com/b.zip")
	require.NoError(t, err)
	assert.NotEqual(t, a.SourceID(), b.SourceID())

	custom, err := NewSource("https://example.com/a.zip", WithSourceID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", custom.SourceID())

	_, err = NewSource("ftp://example.com/a.zip")
	require.Error(t, err)
}

func TestSource_ContextCanceled(t *testing.T) {
	t.Parallel()

	server := newContentServer(t, []byte("data"), nil)
	src, err := NewSource(server.URL, WithRetry(5), WithRetryInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.FetchRange(ctx, 0, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseContentRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value            string
		start, end, size int64
		wantErr          bool
	}{
		{value: "bytes 0-9/100", start: 0, end: 9, size: 100},
		{value: " bytes 90-99/100 ", start: 90, end: 99, size: 100},
		{value: "bytes 0-9/*", wantErr: true},
		{value: "bytes */100", wantErr: true},
		{value: "items 0-9/100", wantErr: true},
		{value: "bytes 9-0/100", wantErr: true},
		{value: "bytes 0-100/100", wantErr: true},
		{value: "", wantErr: true},
	}
	for _, tt := range tests {
		start, end, size, err := parseContentRange(tt.value)
		if tt.wantErr {
			assert.Error(t, err, tt.value)
			continue
		}
		require.NoError(t, err, tt.value)
		assert.Equal(t, [3]int64{tt.start, tt.end, tt.size}, [3]int64{start, end, size}, tt.value)
	}
}
