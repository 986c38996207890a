// Package http implements a zipstore byte source over HTTP range requests.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencontainers/go-digest"
)

// ErrRangeNotSupported is returned when the server answers a range request
// with the full object.
var ErrRangeNotSupported = errors.New("range requests not supported")

// ErrModified is returned when conditional headers are enabled and the
// remote object changed after the tail fetch.
var ErrModified = errors.New("remote content modified")

// DefaultRetryInterval is the initial backoff between retried requests.
const DefaultRetryInterval = 100 * time.Millisecond

// Source implements zipstore.ByteSource via HTTP range requests.
//
// The archive size and cache validators are learned from the tail fetch;
// no separate HEAD request is issued.
type Source struct {
	url                   string
	client                *nethttp.Client
	headers               nethttp.Header
	sourceID              string
	useConditionalHeaders bool
	retries               int
	retryInterval         time.Duration
	logger                *slog.Logger

	mu           sync.RWMutex
	size         int64
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithSourceID overrides the default source identifier used for caching.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithConditionalHeaders sends If-Match or If-Unmodified-Since with range
// reads, using the validators returned by the tail fetch. A changed object
// then fails with ErrModified instead of returning bytes at stale offsets.
// This is disabled by default because some servers reject conditional range
// requests.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.useConditionalHeaders = true
	}
}

// WithRetry retries failed requests up to n times with exponential backoff.
// Only network errors, 429, and 5xx responses are retried.
func WithRetry(n int) Option {
	return func(s *Source) {
		s.retries = max(n, 0)
	}
}

// WithRetryInterval sets the initial backoff between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithLogger sets the logger for request events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource creates a Source for the object at rawURL. No request is made
// until FetchTail or FetchRange is called.
func NewSource(rawURL string, opts ...Option) (*Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	s := &Source{
		url:           rawURL,
		client:        nethttp.DefaultClient,
		retryInterval: DefaultRetryInterval,
		size:          -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// URL returns the object URL.
func (s *Source) URL() string {
	return s.url
}

// Size returns the total size of the remote content, or -1 before the
// first successful FetchTail.
func (s *Source) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// SourceID returns a stable identifier for the remote content. It includes
// the validators seen by FetchTail when the server sent any.
func (s *Source) SourceID() string {
	if s.sourceID != "" {
		return s.sourceID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultSourceID()
}

// defaultSourceID builds a source identifier from the URL and available metadata.
func (s *Source) defaultSourceID() string {
	var key string
	switch {
	case s.etag != "":
		key = fmt.Sprintf("url:%s|etag:%s", s.url, s.etag)
	case s.lastModified != "":
		key = fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.lastModified, s.size)
	default:
		key = fmt.Sprintf("url:%s|size:%d", s.url, s.size)
	}
	return digest.FromString(key).String()
}

// FetchTail returns up to n trailing bytes of the object using a suffix
// range request. The total size is taken from the Content-Range header.
func (s *Source) FetchTail(ctx context.Context, n int64) ([]byte, int64, error) {
	if n <= 0 {
		return nil, 0, fmt.Errorf("fetch tail %d: non-positive length", n)
	}

	var (
		tail []byte
		size int64
	)
	err := s.retry(ctx, "tail", func() error {
		resp, err := s.do(ctx, fmt.Sprintf("bytes=-%d", n), false)
		if err != nil {
			return err
		}
		defer drain(resp)

		if err := checkStatus(resp); err != nil {
			return err
		}
		start, end, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return backoff.Permanent(err)
		}
		length := end - start + 1
		if end != total-1 || length > n {
			return backoff.Permanent(fmt.Errorf("unexpected tail range %d-%d/%d for suffix %d", start, end, total, n))
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			return fmt.Errorf("read tail: %w", err)
		}

		s.mu.Lock()
		s.size = total
		s.etag = resp.Header.Get("ETag")
		s.lastModified = resp.Header.Get("Last-Modified")
		s.mu.Unlock()

		tail, size = buf, total
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	s.log().Debug("tail fetched", "url", s.url, "size", size, "length", len(tail))
	return tail, size, nil
}

// FetchRange returns exactly the bytes [off, off+length) of the object.
// A response with fewer bytes is an error.
func (s *Source) FetchRange(ctx context.Context, off, length int64) ([]byte, error) {
	if off < 0 {
		return nil, fmt.Errorf("fetch range %d: negative offset", off)
	}
	if length < 0 {
		return nil, fmt.Errorf("fetch range length %d: negative length", length)
	}
	if length == 0 {
		return []byte{}, nil
	}

	var data []byte
	err := s.retry(ctx, "range", func() error {
		resp, err := s.do(ctx, fmt.Sprintf("bytes=%d-%d", off, off+length-1), true)
		if err != nil {
			return err
		}
		defer drain(resp)

		if err := checkStatus(resp); err != nil {
			return err
		}
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			start, _, _, err := parseContentRange(cr)
			if err != nil {
				return backoff.Permanent(err)
			}
			if start != off {
				return backoff.Permanent(fmt.Errorf("range starts at %d, want %d", start, off))
			}
		}
		buf := make([]byte, length)
		n, err := io.ReadFull(resp.Body, buf)
		if err != nil {
			return fmt.Errorf("short range read: got %d of %d bytes: %w", n, length, err)
		}
		data = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// retry runs op, retrying transient failures when WithRetry is set.
func (s *Source) retry(ctx context.Context, kind string, op func() error) error {
	if s.retries == 0 {
		err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retries)), ctx) //nolint:gosec // retries is non-negative
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.log().Debug("retrying request", "url", s.url, "kind", kind, "wait", wait, "error", err)
	})
}

// do performs a GET request for the given Range header value.
func (s *Source) do(ctx context.Context, rangeHeader string, withConditions bool) (*nethttp.Response, error) {
	req, err := s.newRequest(ctx, withConditions)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Range", rangeHeader)
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return resp, nil
}

// newRequest creates an HTTP request with configured headers and optional conditional headers.
func (s *Source) newRequest(ctx context.Context, withConditions bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if withConditions && s.useConditionalHeaders {
		s.mu.RLock()
		etag, lastModified := s.etag, s.lastModified
		s.mu.RUnlock()
		if etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", etag)
		}
		if lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", lastModified)
		}
	}
	return req, nil
}

// checkStatus accepts 206 and classifies everything else as a permanent or
// retryable failure.
func checkStatus(resp *nethttp.Response) error {
	switch code := resp.StatusCode; {
	case code == nethttp.StatusPartialContent:
		return nil
	case code == nethttp.StatusOK:
		return backoff.Permanent(ErrRangeNotSupported)
	case code == nethttp.StatusPreconditionFailed:
		return backoff.Permanent(ErrModified)
	case code == nethttp.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("range request failed: %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("range request failed: %s", resp.Status))
	}
}

// drain discards and closes the response body to enable connection reuse.
func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
	_ = resp.Body.Close()
}

// parseContentRange parses a Content-Range header value of the form
// "bytes start-end/size".
func parseContentRange(value string) (start, end, size int64, err error) {
	invalid := fmt.Errorf("invalid Content-Range %q", value)
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, 0, 0, invalid
	}
	rng, total, ok := strings.Cut(strings.TrimPrefix(value, "bytes "), "/")
	if !ok || total == "*" {
		return 0, 0, 0, invalid
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, invalid
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if size, err = strconv.ParseInt(total, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if start < 0 || end < start || size <= end {
		return 0, 0, 0, invalid
	}
	return start, end, size, nil
}
