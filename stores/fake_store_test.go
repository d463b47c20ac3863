package stores

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// fakeStore is a Store of tests. Each operation runs its func, if set, and
// otherwise succeeds over no content.
type fakeStore struct {
	provider string
	exists   func(path string) (bool, error)
	get      func(path string) (io.ReadCloser, error)
	put      func(path string, contentType string) error
	list     func(prefix string, cb func(string, time.Time) error) error
	// authErr is matched by IsAuthError, as a backend's rejected-credentials error.
	authErr error
}

func (s *fakeStore) Provider() string {
	if s.provider == "" {
		return "fake"
	}
	return s.provider
}

func (s *fakeStore) Exists(_ context.Context, path string) (bool, error) {
	if s.exists == nil {
		return false, nil
	}
	return s.exists(path)
}

func (s *fakeStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	if s.get == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return s.get(path)
}

func (s *fakeStore) Put(_ context.Context, path string, _ io.ReaderAt, _ int64, contentType string) error {
	if s.put == nil {
		return nil
	}
	return s.put(path, contentType)
}

func (s *fakeStore) List(_ context.Context, prefix string, cb func(string, time.Time) error) error {
	if s.list == nil {
		return nil
	}
	return s.list(prefix, cb)
}

func (s *fakeStore) Remove(context.Context, string) error { return nil }

func (s *fakeStore) IsAuthError(err error) bool {
	return s.authErr != nil && errors.Is(err, s.authErr)
}
