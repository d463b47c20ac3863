// Package fs implements a Store rooted in the local filesystem, for
// installations which mirror the database to a mounted network share.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
)

// FileSystemStoreRoot is the filesystem path which roots the paths of a
// file:// store. It must be set at program startup prior to use.
var FileSystemStoreRoot = "/dev/null/must/configure/file/store/root"

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a file:// store URL.
type StoreQueryArgs struct {
	// Sync fsyncs written files before they're renamed into place.
	Sync bool `schema:"sync"`
}

type store struct {
	args   StoreQueryArgs
	prefix string
}

// New creates a new filesystem Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var s = &store{prefix: ep.Path}
	return s, common.ParseStoreArgs(ep, &s.args)
}

func (s store) Provider() string { return "fs" }

func (s store) Exists(_ context.Context, path string) (bool, error) {
	if _, err := os.Stat(s.fsPath(path)); os.IsNotExist(err) {
		return false, nil
	} else if err == nil {
		return true, nil
	} else {
		return false, err
	}
}

func (s store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(s.fsPath(path))
}

func (s store) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64, _ string) error {
	// Verify that the base directory exists (FileSystemStoreRoot + prefix)
	var baseDir = filepath.Join(FileSystemStoreRoot, filepath.FromSlash(s.prefix))
	if _, err := os.Stat(baseDir); err != nil {
		return fmt.Errorf("%s %s: %w", invalidFileStoreDirectory, baseDir, err)
	}
	var fsPath = s.fsPath(path)

	if err := os.MkdirAll(filepath.Dir(fsPath), 0750); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(fsPath), ".partial-"+filepath.Base(fsPath))
	if err != nil {
		return err
	}

	defer func(name string) {
		if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": fsPath}).
				Warn("failed to cleanup temp file")
		}
	}(f.Name())

	// io.Copy only needs io.Reader, so we use io.NewSectionReader to adapt io.ReaderAt
	_, err = io.Copy(f, io.NewSectionReader(content, 0, contentLength))

	if err == nil && s.args.Sync {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(f.Name(), fsPath)
	}
	return err
}

func (s store) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var dir = s.fsPath(prefix)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir,
		func(name string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			} else if info.IsDir() {
				return nil // Descend into directory.
			} else if strings.HasPrefix(info.Name(), ".partial-") {
				return nil // In-progress Put.
			}

			relPath, err := filepath.Rel(dir, name)
			if err != nil {
				return err
			}
			return callback(filepath.ToSlash(relPath), info.ModTime())
		})
}

func (s store) Remove(_ context.Context, path string) error {
	return os.Remove(s.fsPath(path))
}

func (s store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), invalidFileStoreDirectory)
}

func (s store) fsPath(path string) string {
	return filepath.Join(FileSystemStoreRoot, filepath.FromSlash(common.JoinPath(s.prefix, path)))
}

const invalidFileStoreDirectory = "invalid file store directory"
