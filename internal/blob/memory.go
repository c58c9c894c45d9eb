package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// MemStore is an in-memory Store for tests and local development.
// It counts backend invocations so tests can assert that policy rejections
// happen before any backend call.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// BaseURL is the prefix of issued "signed" URLs. Defaults to
	// https://blobs.invalid when empty.
	BaseURL string

	// SignErr, when set, is returned by SignedURL to simulate backend
	// signing failures.
	SignErr error

	calls atomic.Int64
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// Put stores an object.
func (m *MemStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Calls reports how many backend operations have been performed.
func (m *MemStore) Calls() int64 { return m.calls.Load() }

// SignedURL issues a deterministic fake signed URL.
func (m *MemStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.calls.Add(1)
	if m.SignErr != nil {
		return "", m.SignErr
	}
	base := m.BaseURL
	if base == "" {
		base = "https://blobs.invalid"
	}
	return fmt.Sprintf("%s/%s?X-Expires=%d", base, url.PathEscape(key), int(ttl.Seconds())), nil
}

// Exists reports key presence.
func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.calls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Download returns the stored bytes for key.
func (m *MemStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.calls.Add(1)
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
