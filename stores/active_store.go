package stores

import (
	"context"
	"io"
	"time"
)

// ActiveStore wraps a Store implementation with instrumentation.
type ActiveStore struct {
	Key   Endpoint // Endpoint from which this ActiveStore was built.
	Store Store
}

// NewActiveStore creates a new ActiveStore with the given Endpoint and Store.
// Production code should use Get() for proper initialization and caching.
func NewActiveStore(ep Endpoint, store Store) *ActiveStore {
	return &ActiveStore{Key: ep, Store: store}
}

// Provider returns the name of the wrapped storage backend.
func (s *ActiveStore) Provider() string { return s.Store.Provider() }

// IsAuthError returns true if |err| is an authorization failure of the backend.
func (s *ActiveStore) IsAuthError(err error) bool { return s.Store.IsAuthError(err) }

// Exists checks if content exists at the given path.
func (s *ActiveStore) Exists(ctx context.Context, path string) (bool, error) {
	var started = time.Now()
	var exists, err = s.Store.Exists(ctx, path)
	s.observe("exists", started, err)

	return exists, err
}

// Get returns an io.ReadCloser for content at the given path.
func (s *ActiveStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var started = time.Now()
	var rc, err = s.Store.Get(ctx, path)
	s.observe("get", started, err)

	return rc, err
}

// Put durably writes content to the store at the given path.
func (s *ActiveStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	var started = time.Now()
	var err = s.Store.Put(ctx, path, content, contentLength, contentType)
	s.observe("put", started, err)

	if err == nil && contentLength > 0 {
		storePutBytesTotal.WithLabelValues(string(s.Key)).Add(float64(contentLength))
	}
	return err
}

// List enumerates all objects under the given prefix.
func (s *ActiveStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var started = time.Now()
	var err = s.Store.List(ctx, prefix, callback)
	s.observe("list", started, err)

	return err
}

// Remove content at the given path.
func (s *ActiveStore) Remove(ctx context.Context, path string) error {
	var started = time.Now()
	var err = s.Store.Remove(ctx, path)
	s.observe("remove", started, err)

	return err
}

func (s *ActiveStore) observe(op string, started time.Time, err error) {
	var status = "success"
	if err != nil {
		status = "error"
	}
	storeOperationTotal.WithLabelValues(string(s.Key), op, status).Inc()
	storeOperationDuration.WithLabelValues(string(s.Key), op, status).Observe(time.Since(started).Seconds())
}
