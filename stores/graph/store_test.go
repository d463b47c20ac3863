package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tesouraria/brkmon/credentials"
	"github.com/tesouraria/brkmon/stores"
)

func TestStoreRoundTrip(t *testing.T) {
	var drive, srv = newFakeDrive(t)
	var s = newTestStore(t, srv, "graph://me/BRK/", credentials.Static{Token: "tok"}, "")
	var ctx = context.Background()

	require.Equal(t, "graph", s.Provider())

	ok, err := s.Exists(ctx, "faturas.db")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "faturas.db", strings.NewReader("sqlite"), 6, "application/x-sqlite3"))
	require.Equal(t, "sqlite", string(drive.get("BRK/faturas.db")))

	ok, err = s.Exists(ctx, "faturas.db")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := s.Get(ctx, "faturas.db")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "sqlite", string(b))

	_, err = s.Get(ctx, "missing.db")
	var gErr *Error
	require.ErrorAs(t, err, &gErr)
	require.Equal(t, http.StatusNotFound, gErr.StatusCode)
	require.Equal(t, "itemNotFound", gErr.Code)

	require.NoError(t, s.Put(ctx, "Relatorios/2024/05/relatorio maio.xlsx", strings.NewReader("xlsx"), 4, ""))

	var listed []string
	require.NoError(t, s.List(ctx, "", func(path string, _ time.Time) error {
		listed = append(listed, path)
		return nil
	}))
	sort.Strings(listed)
	require.Equal(t, []string{"Relatorios/2024/05/relatorio maio.xlsx", "faturas.db"}, listed)

	listed = nil
	require.NoError(t, s.List(ctx, "Relatorios/2024/", func(path string, _ time.Time) error {
		listed = append(listed, path)
		return nil
	}))
	require.Equal(t, []string{"05/relatorio maio.xlsx"}, listed)

	// Listing a missing folder is empty.
	require.NoError(t, s.List(ctx, "nope/", func(string, time.Time) error {
		return fmt.Errorf("unexpected")
	}))

	require.NoError(t, s.Remove(ctx, "faturas.db"))
	require.Nil(t, drive.get("BRK/faturas.db"))
	require.Error(t, s.Remove(ctx, "faturas.db"))

	// Connectivity check succeeds against the drive.
	require.NoError(t, stores.RunCheck(ctx, stores.NewActiveStore("graph://me/BRK/", s)))
}

func TestUploadSession(t *testing.T) {
	var drive, srv = newFakeDrive(t)
	var s = newTestStore(t, srv, "graph://drive-123/BRK/", credentials.Static{Token: "tok"},
		"sessionThreshold=1000&chunkSize=327680")

	var content = bytes.Repeat([]byte("0123456789"), 100_000) // 1MB.
	require.NoError(t, s.Put(context.Background(), "faturas.db", bytes.NewReader(content), int64(len(content)), ""))

	require.Equal(t, content, drive.get("BRK/faturas.db"))
	require.Equal(t, 4, drive.chunks) // ceil(1e6 / 327680).
}

func TestExpiredCredentials(t *testing.T) {
	var _, srv = newFakeDrive(t)
	var creds = &rotatingCreds{token: "expired"}
	var s = newTestStore(t, srv, "graph://me/BRK/", creds, "")
	var ctx = context.Background()

	var _, err = s.Exists(ctx, "faturas.db")
	require.ErrorIs(t, err, stores.ErrAuthExpired)
	require.False(t, s.IsAuthError(err))

	err = s.Put(ctx, "faturas.db", strings.NewReader("x"), 1, "")
	require.ErrorIs(t, err, stores.ErrAuthExpired)

	// The Client surfaces ErrAuthExpired for the caller to refresh and retry.
	var client = &stores.Client{Resolve: func(ep stores.Endpoint) (*stores.ActiveStore, error) {
		return stores.NewActiveStore(ep, s), nil
	}}
	_, err = client.Upload(ctx, "graph://me/BRK/", "faturas.db", []byte("x"), "")
	require.ErrorIs(t, err, stores.ErrAuthExpired)

	refreshed, err := creds.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, refreshed)

	_, err = client.Upload(ctx, "graph://me/BRK/", "faturas.db", []byte("x"), "")
	require.NoError(t, err)

	// A provider without a token also presents as expired credentials.
	s = newTestStore(t, srv, "graph://me/BRK/", credentials.Static{}, "")
	_, err = s.Exists(ctx, "faturas.db")
	require.ErrorIs(t, err, stores.ErrAuthExpired)
	require.ErrorIs(t, err, credentials.ErrNoToken)
}

func TestForbiddenIsAuthError(t *testing.T) {
	var _, srv = newFakeDrive(t)
	var s = newTestStore(t, srv, "graph://me/BRK/", credentials.Static{Token: "read-only"}, "")

	var err = s.Put(context.Background(), "faturas.db", strings.NewReader("x"), 1, "")
	require.True(t, s.IsAuthError(err))
	require.EqualError(t, err, "graph: accessDenied (403): read-only token")
}

func TestNewValidation(t *testing.T) {
	var u, _ = url.Parse("graph:///BRK/")
	var _, err = New(u, credentials.Static{}, http.DefaultClient)
	require.ErrorContains(t, err, "must include a drive")

	u, _ = url.Parse("graph://me/BRK/?unknown=1")
	_, err = New(u, credentials.Static{}, http.DefaultClient)
	require.ErrorContains(t, err, "parsing store URL arguments")

	u, _ = url.Parse("graph://me/BRK/?chunkSize=1000")
	s, err := New(u, credentials.Static{}, http.DefaultClient)
	require.NoError(t, err)
	require.Equal(t, int64(defaultChunkSize), s.(*store).args.ChunkSize)
	require.Equal(t, "https://graph.microsoft.com/v1.0/me/drive/root:/BRK/a%20b.db:/content",
		s.(*store).itemURL("a b.db", ":/content"))
}

func newTestStore(t *testing.T, srv *httptest.Server, ep string, creds credentials.Provider, query string) stores.Store {
	var u, err = url.Parse(ep)
	require.NoError(t, err)

	var q = url.Values{"endpoint": []string{srv.URL}}
	if query != "" {
		extra, err := url.ParseQuery(query)
		require.NoError(t, err)
		for k, v := range extra {
			q[k] = v
		}
	}
	u.RawQuery = q.Encode()

	s, err := New(u, creds, srv.Client())
	require.NoError(t, err)
	return s
}

type rotatingCreds struct {
	mu    sync.Mutex
	token string
}

func (c *rotatingCreds) AuthHeaders(context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]string{"Authorization": "Bearer " + c.token}, nil
}

func (c *rotatingCreds) Refresh(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = "tok"
	return true, nil
}

func (c *rotatingCreds) HasToken() bool { return true }

// fakeDrive is a minimal path-addressed Graph drive.
type fakeDrive struct {
	mu      sync.Mutex
	items   map[string][]byte
	pending map[string][]byte
	chunks  int
}

func (d *fakeDrive) get(path string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.items[path]
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	var d = &fakeDrive{items: make(map[string][]byte), pending: make(map[string][]byte)}
	var srv *httptest.Server

	var notFound = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"itemNotFound","message":"The resource could not be found."}}`))
	}

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, "/upload/") {
			if r.Header.Get("Authorization") != "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var item = strings.TrimPrefix(r.URL.Path, "/upload/")
			var body, _ = io.ReadAll(r.Body)
			var start, end, total int
			_, _ = fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total)

			if start != len(d.pending[item]) || end-start+1 != len(body) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			d.pending[item] = append(d.pending[item], body...)
			d.chunks++

			if len(d.pending[item]) == total {
				d.items[item] = d.pending[item]
				delete(d.pending, item)
				w.WriteHeader(http.StatusCreated)
			} else {
				w.WriteHeader(http.StatusAccepted)
			}
			return
		}

		switch r.Header.Get("Authorization") {
		case "Bearer tok":
		case "Bearer read-only":
			if r.Method != "GET" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":"accessDenied","message":"read-only token"}}`))
				return
			}
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`))
			return
		}

		var path string
		switch {
		case strings.HasPrefix(r.URL.Path, "/me/drive/root"):
			path = strings.TrimPrefix(r.URL.Path, "/me/drive/root")
		case strings.HasPrefix(r.URL.Path, "/drives/drive-123/root"):
			path = strings.TrimPrefix(r.URL.Path, "/drives/drive-123/root")
		default:
			notFound(w)
			return
		}

		var children = func(dir string) {
			var seen = make(map[string]bool)
			var out []map[string]interface{}

			for name := range d.items {
				if dir != "" && !strings.HasPrefix(name, dir+"/") {
					continue
				}
				var rest = strings.TrimPrefix(strings.TrimPrefix(name, dir), "/")
				var first, _, nested = strings.Cut(rest, "/")
				if seen[first] {
					continue
				}
				seen[first] = true

				var entry = map[string]interface{}{
					"name":                 first,
					"lastModifiedDateTime": time.Now().UTC().Format(time.RFC3339),
				}
				if nested {
					entry["folder"] = map[string]int{"childCount": 1}
				} else {
					entry["file"] = map[string]string{}
				}
				out = append(out, entry)
			}
			if len(out) == 0 && dir != "" {
				notFound(w)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": out})
		}

		if path == "/children" {
			children("")
			return
		}
		path = strings.TrimPrefix(path, ":/")

		switch {
		case strings.HasSuffix(path, ":/children"):
			children(strings.TrimSuffix(path, ":/children"))

		case strings.HasSuffix(path, ":/createUploadSession"):
			var item = strings.TrimSuffix(path, ":/createUploadSession")
			_ = json.NewEncoder(w).Encode(map[string]string{"uploadUrl": srv.URL + "/upload/" + item})

		case strings.HasSuffix(path, ":/content"):
			var item = strings.TrimSuffix(path, ":/content")
			if r.Method == "PUT" {
				var body, _ = io.ReadAll(r.Body)
				_, existed := d.items[item]
				d.items[item] = body
				if existed {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusCreated)
				}
				_, _ = w.Write([]byte(`{"id":"x"}`))
			} else if b, ok := d.items[item]; ok {
				_, _ = w.Write(b)
			} else {
				notFound(w)
			}

		case r.Method == "DELETE":
			if _, ok := d.items[path]; !ok {
				notFound(w)
				return
			}
			delete(d.items, path)
			w.WriteHeader(http.StatusNoContent)

		default:
			if _, ok := d.items[path]; !ok {
				notFound(w)
				return
			}
			_, _ = w.Write([]byte(`{"id":"x","file":{}}`))
		}
	}))
	t.Cleanup(srv.Close)

	return d, srv
}
