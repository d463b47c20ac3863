package stores

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// FileHandle identifies an object within a remote folder.
type FileHandle struct {
	Folder Endpoint
	Name   string
}

// String returns the full URL of the handle.
func (h FileHandle) String() string {
	return strings.TrimSuffix(string(h.Folder), "/") + "/" + h.Name
}

// Client resolves, downloads and uploads whole objects of remote folders.
// Backend failures are translated into ErrAuthExpired or *TransientIOError.
// Client never retries and never refreshes credentials itself.
type Client struct {
	// Resolve maps a folder Endpoint to its ActiveStore. If nil, Get is used.
	Resolve func(Endpoint) (*ActiveStore, error)
}

// Exists returns a FileHandle of |name| within |folder|, or nil if no such
// object exists.
func (c *Client) Exists(ctx context.Context, folder Endpoint, name string) (*FileHandle, error) {
	var active, err = c.resolve(folder)
	if err != nil {
		return nil, translate("exists", folder, name, nil, err)
	}

	var ok bool
	if ok, err = active.Exists(ctx, name); err != nil {
		return nil, translate("exists", folder, name, active, err)
	} else if !ok {
		return nil, nil
	}
	return &FileHandle{Folder: folder, Name: name}, nil
}

// Download returns the complete content of the object |h|.
func (c *Client) Download(ctx context.Context, h FileHandle) ([]byte, error) {
	var active, err = c.resolve(h.Folder)
	if err != nil {
		return nil, translate("download", h.Folder, h.Name, nil, err)
	}

	rc, err := active.Get(ctx, h.Name)
	if err != nil {
		return nil, translate("download", h.Folder, h.Name, active, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, rc); err != nil {
		return nil, translate("download", h.Folder, h.Name, active, err)
	}
	return buf.Bytes(), nil
}

// Upload writes |content| as object |name| of |folder|, replacing any
// existing object, and returns its FileHandle.
func (c *Client) Upload(ctx context.Context, folder Endpoint, name string, content []byte, contentType string) (FileHandle, error) {
	var h = FileHandle{Folder: folder, Name: name}

	var active, err = c.resolve(folder)
	if err != nil {
		return h, translate("upload", folder, name, nil, err)
	}
	if err = active.Put(ctx, name, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		return h, translate("upload", folder, name, active, err)
	}
	return h, nil
}

func (c *Client) resolve(ep Endpoint) (*ActiveStore, error) {
	if c.Resolve != nil {
		return c.Resolve(ep)
	}
	return Get(ep)
}

func translate(op string, folder Endpoint, name string, active *ActiveStore, err error) error {
	if errors.Is(err, ErrAuthExpired) {
		return pkgerrors.WithMessagef(ErrAuthExpired, "%s %s", op, FileHandle{folder, name})
	}
	return &TransientIOError{
		Op:    op,
		Path:  FileHandle{folder, name}.String(),
		AuthZ: active != nil && active.IsAuthError(err),
		Err:   err,
	}
}
