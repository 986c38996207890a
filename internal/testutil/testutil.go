package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInjected is returned by MockByteSource when a failure is injected.
var ErrInjected = errors.New("testutil: injected failure")

// MockByteSource implements an in-memory ranged byte source for tests.
// It records every request it serves.
type MockByteSource struct {
	data     []byte
	sourceID string

	tailCalls  atomic.Int64
	rangeCalls atomic.Int64

	mu        sync.Mutex
	ranges    [][2]int64
	failTail  error
	failRange func(off, length int64) error
	shortBy   int
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// FetchTail returns up to n trailing bytes and the total size.
func (m *MockByteSource) FetchTail(ctx context.Context, n int64) ([]byte, int64, error) {
	m.tailCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	failTail := m.failTail
	m.mu.Unlock()
	if failTail != nil {
		return nil, 0, failTail
	}
	size := int64(len(m.data))
	n = min(n, size)
	out := make([]byte, n)
	copy(out, m.data[size-n:])
	return out, size, nil
}

// FetchRange returns bytes [off, off+length) of the backing data.
func (m *MockByteSource) FetchRange(ctx context.Context, off, length int64) ([]byte, error) {
	m.rangeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.ranges = append(m.ranges, [2]int64{off, length})
	failRange := m.failRange
	shortBy := m.shortBy
	m.mu.Unlock()

	if failRange != nil {
		if err := failRange(off, length); err != nil {
			return nil, err
		}
	}
	size := int64(len(m.data))
	if off < 0 || length < 0 || off+length > size {
		return nil, fmt.Errorf("range [%d, %d) outside %d bytes", off, off+length, size)
	}
	end := off + length - int64(min(shortBy, int(length)))
	out := make([]byte, end-off)
	copy(out, m.data[off:end])
	return out, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// FailTail makes every FetchTail call return err.
func (m *MockByteSource) FailTail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTail = err
}

// FailRange installs a hook consulted before every FetchRange call.
func (m *MockByteSource) FailRange(fn func(off, length int64) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRange = fn
}

// ShortReads makes FetchRange return n fewer bytes than requested.
func (m *MockByteSource) ShortReads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortBy = n
}

// TailCalls returns the number of FetchTail calls served.
func (m *MockByteSource) TailCalls() int64 {
	return m.tailCalls.Load()
}

// RangeCalls returns the number of FetchRange calls served.
func (m *MockByteSource) RangeCalls() int64 {
	return m.rangeCalls.Load()
}

// Ranges returns the (offset, length) pairs requested so far.
func (m *MockByteSource) Ranges() [][2]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]int64, len(m.ranges))
	copy(out, m.ranges)
	return out
}
