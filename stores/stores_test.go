package stores

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearStores is a test helper to reset the global state
func clearStores() {
	storesMu.Lock()
	defer storesMu.Unlock()
	constructors = make(map[string]Constructor)
	stores = make(map[Endpoint]*ActiveStore)
}

func TestEndpointValidation(t *testing.T) {
	require.NoError(t, Endpoint("s3://bucket/prefix/").Validate())
	require.NoError(t, Endpoint("graph://me/BRK/").Validate())
	require.EqualError(t, Endpoint("relative/path/").Validate(),
		`endpoint "relative/path/" is not absolute`)
	require.EqualError(t, Endpoint("s3://bucket/prefix").Validate(),
		`endpoint path "/prefix" must end in '/'`)

	require.Equal(t, Endpoint("graph://me/BRK/Relatorios/2024/05/"),
		Endpoint("graph://me/BRK/").Join("Relatorios", "2024", "05"))
}

func TestGetStore(t *testing.T) {
	clearStores()

	var built int
	RegisterProviders(map[string]Constructor{
		"file": func(u *url.URL) (Store, error) {
			built++
			// Use path component for provider identification in tests
			return &fakeStore{provider: u.Path}, nil
		},
	})

	s1, err := Get(Endpoint("file:///tmp/store1/"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/store1/", s1.Provider())

	// Get same store again - should return cached instance
	s2, err := Get(Endpoint("file:///tmp/store1/"))
	require.NoError(t, err)
	require.Same(t, s1, s2)

	s3, err := Get(Endpoint("file:///tmp/store2/"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/store2/", s3.Provider())
	require.NotSame(t, s1, s3)
	require.Equal(t, 2, built)

	_, err = Get(Endpoint("unknown://foo/"))
	require.EqualError(t, err, "unsupported store scheme: unknown")
}

func TestGetStoreConcurrently(t *testing.T) {
	clearStores()

	var mu sync.Mutex
	var built int
	RegisterProviders(map[string]Constructor{
		"mem": func(u *url.URL) (Store, error) {
			mu.Lock()
			built++
			mu.Unlock()
			return NewMemoryStore(u), nil
		},
	})

	var wg sync.WaitGroup
	var out = make([]*ActiveStore, 8)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i], _ = Get(Endpoint("mem://bucket/"))
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, built)
	for i := range out {
		require.Same(t, out[0], out[i])
	}
}

func TestConstructorErrorsAreNotCached(t *testing.T) {
	clearStores()

	var fail = true
	RegisterProviders(map[string]Constructor{
		"file": func(u *url.URL) (Store, error) {
			if fail {
				return nil, errors.New("init failed")
			}
			return &fakeStore{}, nil
		},
	})

	_, err := Get(Endpoint("file:///tmp/store/"))
	require.EqualError(t, err, "init failed")

	fail = false
	s, err := Get(Endpoint("file:///tmp/store/"))
	require.NoError(t, err)
	require.Equal(t, "fake", s.Provider())
}

func TestClientTranslatesErrors(t *testing.T) {
	var ctx = context.Background()
	var authErr = errors.New("403 forbidden")
	var next error

	var cs = &fakeStore{
		exists: func(string) (bool, error) { return next == nil, next },
		get: func(string) (io.ReadCloser, error) {
			if next != nil {
				return nil, next
			}
			return io.NopCloser(strings.NewReader("content")), nil
		},
		put: func(_, ct string) error {
			require.Equal(t, "application/x-sqlite3", ct)
			return next
		},
		authErr: authErr,
	}
	var folder = Endpoint("test://folder/")
	var client = &Client{Resolve: func(ep Endpoint) (*ActiveStore, error) {
		require.Equal(t, folder, ep)
		return NewActiveStore(ep, cs), nil
	}}

	// Success paths.
	h, err := client.Exists(ctx, folder, "db.sqlite")
	require.NoError(t, err)
	require.Equal(t, &FileHandle{Folder: folder, Name: "db.sqlite"}, h)
	require.Equal(t, "test://folder/db.sqlite", h.String())

	b, err := client.Download(ctx, *h)
	require.NoError(t, err)
	require.Equal(t, "content", string(b))

	_, err = client.Upload(ctx, folder, "db.sqlite", []byte("x"), "application/x-sqlite3")
	require.NoError(t, err)

	// Credentials expiry is surfaced as ErrAuthExpired.
	next = errors.Join(ErrAuthExpired, errors.New("401"))
	_, err = client.Download(ctx, *h)
	require.ErrorIs(t, err, ErrAuthExpired)
	_, err = client.Upload(ctx, folder, "db.sqlite", []byte("x"), "application/x-sqlite3")
	require.ErrorIs(t, err, ErrAuthExpired)

	// Everything else is a TransientIOError.
	next = authErr
	_, err = client.Exists(ctx, folder, "db.sqlite")
	var tio *TransientIOError
	require.ErrorAs(t, err, &tio)
	require.Equal(t, "exists", tio.Op)
	require.True(t, tio.AuthZ)
	require.ErrorIs(t, err, authErr)

	next = errors.New("connection reset")
	_, err = client.Upload(ctx, folder, "db.sqlite", []byte("x"), "application/x-sqlite3")
	require.ErrorAs(t, err, &tio)
	require.Equal(t, "upload", tio.Op)
	require.False(t, tio.AuthZ)
	require.EqualError(t, err, "upload test://folder/db.sqlite: connection reset")
}

func TestClientExistsOfMissingObject(t *testing.T) {
	var ms = NewMemoryStore(&url.URL{Scheme: "mem", Host: "bucket", Path: "/"})
	var client = &Client{Resolve: func(ep Endpoint) (*ActiveStore, error) {
		return NewActiveStore(ep, ms), nil
	}}

	h, err := client.Exists(context.Background(), "mem://bucket/", "missing.db")
	require.NoError(t, err)
	require.Nil(t, h)

	_, err = client.Download(context.Background(), FileHandle{Folder: "mem://bucket/", Name: "missing.db"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunCheck(t *testing.T) {
	var ms = NewMemoryStore(&url.URL{Scheme: "mem", Host: "bucket", Path: "/"})
	var active = NewActiveStore("mem://bucket/", ms)
	require.NoError(t, RunCheck(context.Background(), active))
	require.Empty(t, ms.Content)

	var failing = NewActiveStore("cb://bucket/", &fakeStore{
		put: func(string, string) error { return errors.New("denied") },
	})
	require.EqualError(t, RunCheck(context.Background(), failing), "check PUT failed: denied")

	// Content mismatch on GET.
	failing = NewActiveStore("cb://bucket/", &fakeStore{})
	require.EqualError(t, RunCheck(context.Background(), failing),
		`check content mismatch: got "", want "connectivity-check\n"`)

	// LIST doesn't surface the object.
	failing = NewActiveStore("cb://bucket/", &fakeStore{
		get: func(string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("connectivity-check\n")), nil
		},
		list: func(_ string, cb func(string, time.Time) error) error {
			return cb("other", time.Now())
		},
	})
	require.EqualError(t, RunCheck(context.Background(), failing), "check LIST did not find test file")
}
