// Package gcs implements a Store backed by a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a gs:// store URL.
type StoreQueryArgs struct {
	// Endpoint overrides the GCS service endpoint, and disables
	// authentication. It's intended for storage emulators.
	Endpoint string `schema:"endpoint"`
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *storage.Client
}

// New creates a new GCS Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	// Omit leading slash from bucket prefix.
	var bucket, prefix = ep.Host, strings.TrimPrefix(ep.Path, "/")
	var ctx = context.Background()

	var client *storage.Client
	if args.Endpoint != "" {
		var err error
		if client, err = storage.NewClient(ctx,
			option.WithEndpoint(args.Endpoint),
			option.WithoutAuthentication(),
		); err != nil {
			return nil, err
		}
		log.WithField("endpoint", args.Endpoint).Info("constructed new GCS client for emulator")
	} else {
		var creds, err = google.FindDefaultCredentials(ctx, storage.ScopeReadWrite)
		if err != nil {
			return nil, err
		}
		if client, err = storage.NewClient(ctx, option.WithTokenSource(creds.TokenSource)); err != nil {
			return nil, err
		}
		log.WithField("ProjectID", creds.ProjectID).Info("constructed new GCS client")
	}

	return &store{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: client,
	}, nil
}

func (s *store) Provider() string { return "gcs" }

func (s *store) Exists(ctx context.Context, path string) (exists bool, err error) {
	_, err = s.object(path).Attrs(ctx)
	if err == nil {
		exists = true
	} else if errors.Is(err, storage.ErrObjectNotExist) {
		err = nil
	}
	return exists, markExpired(err)
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var r, err = s.object(path).NewReader(ctx)
	if err != nil {
		return nil, markExpired(err)
	}
	return r, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // Aborts the upload if not closed.
	var wc = s.object(path).NewWriter(ctx)

	if contentType != "" {
		wc.ContentType = contentType
	}
	// io.Copy only needs io.Reader, so we use io.NewSectionReader to adapt io.ReaderAt
	if _, err := io.Copy(wc, io.NewSectionReader(content, 0, contentLength)); err != nil {
		return markExpired(err)
	}
	return markExpired(wc.Close())
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = common.JoinPath(s.prefix, prefix)
	var (
		q   = storage.Query{Prefix: prefix}
		it  = s.client.Bucket(s.bucket).Objects(ctx, &q)
		obj *storage.ObjectAttrs
		err error
	)
	for obj, err = it.Next(); err == nil; obj, err = it.Next() {
		if strings.HasSuffix(obj.Name, "/") {
			continue // Ignore directory-like objects
		}
		if err := callback(strings.TrimPrefix(obj.Name, prefix), obj.Updated); err != nil {
			return err
		}
	}
	if err == iterator.Done {
		err = nil
	}
	return markExpired(err)
}

func (s *store) Remove(ctx context.Context, path string) error {
	return markExpired(s.object(path).Delete(ctx))
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusForbidden:
			return true
		case http.StatusNotFound:
			// Only treat bucket-level 404s as AuthZ failures, not object-level.
			return strings.Contains(gErr.Message, "bucket")
		}
	}
	return false
}

func (s *store) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(common.JoinPath(s.prefix, path))
}

func markExpired(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusUnauthorized {
		return errors.Join(stores.ErrAuthExpired, err)
	}
	return err
}
