package stores

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by MemoryStore.Get of a path which doesn't exist.
var ErrNotFound = fmt.Errorf("path not found")

// MemoryStore is an in-memory implementation of Store for testing.
type MemoryStore struct {
	URL          *url.URL
	Content      map[string][]byte
	ContentTypes map[string]string
	ModTimes     map[string]time.Time
	mu           sync.RWMutex
}

func NewMemoryStore(ep *url.URL) *MemoryStore {
	return &MemoryStore{
		URL:          ep,
		Content:      make(map[string][]byte),
		ContentTypes: make(map[string]string),
		ModTimes:     make(map[string]time.Time),
	}
}

func (m *MemoryStore) Provider() string { return "memory" }

func (m *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var _, exists = m.Content[path]
	return exists, nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var content, exists = m.Content[path]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemoryStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	var buf = make([]byte, contentLength)
	if _, err := content.ReadAt(buf, 0); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Content[path] = buf
	m.ContentTypes[path] = contentType
	m.ModTimes[path] = time.Now()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for fullPath := range m.Content {
		if !strings.HasPrefix(fullPath, prefix) {
			continue
		}
		if err := callback(strings.TrimPrefix(fullPath, prefix), m.ModTimes[fullPath]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Content, path)
	delete(m.ContentTypes, path)
	delete(m.ModTimes, path)
	return nil
}

func (m *MemoryStore) IsAuthError(err error) bool {
	return false
}

// Bytes returns a copy of the content at |path|, or nil if it doesn't exist.
func (m *MemoryStore) Bytes(path string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.Content[path]; ok {
		return append([]byte(nil), b...)
	}
	return nil
}
