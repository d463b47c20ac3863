// Package stores provides an abstraction over the remote object stores which
// mirror the bill database and receive published reports.
package stores

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// Store provides an abstraction over a remote object store.
type Store interface {
	// Provider returns the name of the storage backend (e.g., "s3", "gcs", "graph", "fs").
	Provider() string

	// Exists checks if content exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// Get returns an io.ReadCloser for content at the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put durably writes content to the store at the given path,
	// replacing any content already there.
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error

	// List enumerates all objects under the given prefix.
	// The callback receives the path relative to the prefix and modification time for each object.
	// If the callback returns an error, listing is terminated and that error is returned.
	List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error

	// Remove deletes content at the given path.
	Remove(ctx context.Context, path string) error

	// IsAuthError returns true if the error represents an authorization failure
	// (e.g., missing permissions, bucket not found, access denied).
	IsAuthError(error) bool
}

// Constructor is a function that creates a Store instance from a URL.
// Each storage backend provides its own constructor implementation.
type Constructor func(*url.URL) (Store, error)

// Endpoint is the URL of a folder within a remote store, eg
// "s3://bucket/prefix/" or "graph://me/BRK/". Endpoints always end in '/'.
type Endpoint string

// Validate returns an error if the Endpoint is not a well-formed folder URL.
func (ep Endpoint) Validate() error {
	var u, err = url.Parse(string(ep))
	if err != nil {
		return fmt.Errorf("parsing endpoint %q: %w", string(ep), err)
	} else if !u.IsAbs() {
		return fmt.Errorf("endpoint %q is not absolute", string(ep))
	} else if !strings.HasSuffix(u.Path, "/") {
		return fmt.Errorf("endpoint path %q must end in '/'", u.Path)
	}
	return nil
}

// URL returns the parsed Endpoint. It panics if the Endpoint doesn't Validate.
func (ep Endpoint) URL() *url.URL {
	var u, err = url.Parse(string(ep))
	if err != nil {
		panic(err.Error())
	}
	return u
}

// Join returns the Endpoint of a sub-folder of |ep|.
func (ep Endpoint) Join(elem ...string) Endpoint {
	var u = ep.URL().JoinPath(elem...)
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return Endpoint(u.String())
}
