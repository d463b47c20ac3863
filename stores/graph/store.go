// Package graph implements a Store backed by a folder of a Microsoft Graph
// drive (OneDrive or a SharePoint document library), authenticated with
// bearer credentials of a credentials.Provider.
//
// Store URLs take the form graph://<drive>/<folder>/, where <drive> is either
// "me" (the signed-in user's drive) or a drive ID.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/credentials"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
)

// DefaultEndpoint is the Microsoft Graph API root.
const DefaultEndpoint = "https://graph.microsoft.com/v1.0"

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a graph:// store URL.
type StoreQueryArgs struct {
	// Endpoint overrides DefaultEndpoint.
	Endpoint string `schema:"endpoint"`
	// SessionThreshold is the content length above which uploads use an
	// upload session rather than a single PUT. Defaults to 4MiB.
	SessionThreshold int64 `schema:"sessionThreshold"`
	// ChunkSize of upload session requests. It's rounded down to a multiple
	// of 320KiB, and defaults to 5MiB.
	ChunkSize int64 `schema:"chunkSize"`
}

const (
	defaultSessionThreshold = 4 << 20
	defaultChunkSize        = 5 << 20
	chunkAlignment          = 320 << 10
)

type store struct {
	args   StoreQueryArgs
	base   string // Drive root, eg "https://graph.microsoft.com/v1.0/me/drive".
	folder string // Folder of the drive, without leading or trailing slash.
	creds  credentials.Provider
	http   *http.Client
}

// NewConstructor returns a stores.Constructor of graph:// Stores which
// authenticate with |creds|.
func NewConstructor(creds credentials.Provider) stores.Constructor {
	return func(ep *url.URL) (stores.Store, error) {
		return New(ep, creds, http.DefaultClient)
	}
}

// New creates a new Graph Store from the provided URL.
func New(ep *url.URL, creds credentials.Provider, client *http.Client) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	if args.Endpoint == "" {
		args.Endpoint = DefaultEndpoint
	}
	if args.SessionThreshold <= 0 {
		args.SessionThreshold = defaultSessionThreshold
	}
	if args.ChunkSize = args.ChunkSize - args.ChunkSize%chunkAlignment; args.ChunkSize <= 0 {
		args.ChunkSize = defaultChunkSize
	}
	if ep.Host == "" {
		return nil, fmt.Errorf("graph:// URL must include a drive: graph://me/folder/ or graph://<drive-id>/folder/")
	}

	var base = strings.TrimSuffix(args.Endpoint, "/")
	if ep.Host == "me" {
		base += "/me/drive"
	} else {
		base += "/drives/" + url.PathEscape(ep.Host)
	}

	var s = &store{
		args:   args,
		base:   base,
		folder: strings.Trim(ep.Path, "/"),
		creds:  creds,
		http:   client,
	}

	log.WithFields(log.Fields{
		"drive":    ep.Host,
		"folder":   s.folder,
		"endpoint": args.Endpoint,
		"hasToken": creds.HasToken(),
	}).Info("constructed new Graph drive client")

	return s, nil
}

func (s *store) Provider() string { return "graph" }

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var resp, err = s.do(ctx, "GET", s.itemURL(path, "")+"?$select=id,file", nil, nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, readError(resp)
	}
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	// Graph responds with a redirect to a pre-authenticated download URL,
	// which the http.Client follows.
	var resp, err = s.do(ctx, "GET", s.itemURL(path, ":/content"), nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer drain(resp)
		return nil, readError(resp)
	}
	return resp.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	if contentLength > s.args.SessionThreshold {
		return s.putSession(ctx, path, content, contentLength)
	}

	var body = io.NewSectionReader(content, 0, contentLength)
	var headers = http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	var resp, err = s.do(ctx, "PUT", s.itemURL(path, ":/content"), body, headers)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return readError(resp)
	}
	return nil
}

// putSession uploads |content| in chunks through a resumable upload session.
func (s *store) putSession(ctx context.Context, path string, content io.ReaderAt, contentLength int64) error {
	var req = []byte(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`)
	var headers = http.Header{"Content-Type": []string{"application/json"}}

	var resp, err = s.do(ctx, "POST", s.itemURL(path, ":/createUploadSession"), bytes.NewReader(req), headers)
	if err != nil {
		return err
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	if resp.StatusCode != http.StatusOK {
		defer drain(resp)
		return readError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&session)
	drain(resp)

	if err != nil {
		return fmt.Errorf("decoding upload session: %w", err)
	} else if session.UploadURL == "" {
		return fmt.Errorf("upload session has no uploadUrl")
	}

	for offset := int64(0); offset < contentLength; offset += s.args.ChunkSize {
		var end = min(offset+s.args.ChunkSize, contentLength)

		// Upload URLs are pre-authenticated and must not carry an Authorization header.
		var chunk, err = http.NewRequestWithContext(ctx, "PUT", session.UploadURL,
			io.NewSectionReader(content, offset, end-offset))
		if err != nil {
			return err
		}
		chunk.ContentLength = end - offset
		chunk.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, contentLength))

		resp, err := s.http.Do(chunk)
		if err != nil {
			return err
		}
		var status = resp.StatusCode
		if status != http.StatusAccepted && status != http.StatusOK && status != http.StatusCreated {
			err = readError(resp)
		}
		drain(resp)

		if err != nil {
			// Best-effort cancellation of the abandoned session.
			if cancel, cErr := http.NewRequestWithContext(ctx, "DELETE", session.UploadURL, nil); cErr == nil {
				if resp, cErr := s.http.Do(cancel); cErr == nil {
					drain(resp)
				}
			}
			return err
		}
	}
	return nil
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	return s.list(ctx, strings.Trim(prefix, "/"), "", callback)
}

func (s *store) list(ctx context.Context, dir, rel string, callback func(path string, modTime time.Time) error) error {
	var next = s.itemURL(dir, ":/children")
	if strings.Trim(s.folder+"/"+dir, "/") == "" {
		next = s.base + "/root/children"
	}

	for next != "" {
		var resp, err = s.do(ctx, "GET", next, nil, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			drain(resp)
			return nil // Listing of a folder which doesn't exist is empty.
		} else if resp.StatusCode != http.StatusOK {
			defer drain(resp)
			return readError(resp)
		}

		var page struct {
			Value []struct {
				Name         string    `json:"name"`
				LastModified time.Time `json:"lastModifiedDateTime"`
				Folder       *struct{} `json:"folder"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		drain(resp)

		if err != nil {
			return fmt.Errorf("decoding children of %q: %w", dir, err)
		}

		for _, item := range page.Value {
			if item.Folder != nil {
				if err = s.list(ctx, joinItem(dir, item.Name), joinItem(rel, item.Name), callback); err != nil {
					return err
				}
			} else if err = callback(joinItem(rel, item.Name), item.LastModified); err != nil {
				return err
			}
		}
		next = page.NextLink
	}
	return nil
}

func (s *store) Remove(ctx context.Context, path string) error {
	var resp, err = s.do(ctx, "DELETE", s.itemURL(path, ""), nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

func (s *store) IsAuthError(err error) bool {
	var gErr *Error
	return errors.As(err, &gErr) && gErr.StatusCode == http.StatusForbidden
}

// itemURL returns the path-addressed URL of drive item |path| of the store
// folder, with an optional |suffix| such as ":/content".
func (s *store) itemURL(path, suffix string) string {
	var parts []string
	for _, p := range strings.Split(joinItem(s.folder, strings.Trim(path, "/")), "/") {
		parts = append(parts, url.PathEscape(p))
	}
	return s.base + "/root:/" + strings.Join(parts, "/") + suffix
}

func (s *store) do(ctx context.Context, method, u string, body io.Reader, headers http.Header) (*http.Response, error) {
	var req, err = http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if sr, ok := body.(*io.SectionReader); ok {
		if req.ContentLength = sr.Size(); req.ContentLength == 0 {
			req.Body = http.NoBody
		}
	}

	auth, err := s.creds.AuthHeaders(ctx)
	if errors.Is(err, credentials.ErrNoToken) {
		return nil, errors.Join(stores.ErrAuthExpired, err)
	} else if err != nil {
		return nil, err
	}
	for k, v := range auth {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		defer drain(resp)
		return nil, errors.Join(stores.ErrAuthExpired, readError(resp))
	}
	return resp, nil
}

// Error is a failed response of the Graph API.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("graph: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func readError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	return &Error{
		StatusCode: resp.StatusCode,
		Code:       body.Error.Code,
		Message:    body.Error.Message,
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

func joinItem(a, b string) string {
	if a == "" {
		return b
	} else if b == "" {
		return a
	}
	return a + "/" + b
}
