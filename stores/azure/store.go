// Package azure implements Stores backed by Azure Blob Storage containers,
// authenticated by a shared account key (azure://) or by an Azure AD
// service principal (azure-ad://).
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of an azure:// or azure-ad:// store URL.
type StoreQueryArgs struct {
	// BlobDomain overrides the domain of the storage account
	// (eg "blob.core.chinacloudapi.cn"). AZURE_BLOB_DOMAIN is used if empty.
	BlobDomain string `schema:"blobDomain"`
}

// storeBase provides common Azure storage operations
type storeBase struct {
	provider       string
	storageAccount string // Storage accounts in Azure are the equivalent to a "bucket" in S3
	blobDomain     string // The domain of the blob storage account (e.g. blob.core.windows.net)
	container      string // In azure, blobs are stored inside of containers, which live inside accounts
	prefix         string // This is the path prefix for the blobs inside the container
	client         *azblob.Client
}

func (a *storeBase) Provider() string { return a.provider }

func (a *storeBase) Exists(ctx context.Context, path string) (bool, error) {
	var bc = a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(a.blobName(path))
	if _, err := bc.GetProperties(ctx, nil); err == nil {
		return true, nil
	} else if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	} else {
		return false, markExpired(err)
	}
}

func (a *storeBase) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var resp, err = a.client.DownloadStream(ctx, a.container, a.blobName(path), nil)
	if err != nil {
		return nil, markExpired(err)
	}
	return resp.Body, nil
}

func (a *storeBase) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	var opts azblob.UploadStreamOptions
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	// io.NewSectionReader adapts io.ReaderAt to the io.Reader of UploadStream.
	var _, err = a.client.UploadStream(ctx, a.container, a.blobName(path),
		io.NewSectionReader(content, 0, contentLength), &opts)
	return markExpired(err)
}

func (a *storeBase) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = a.blobName(prefix)

	var pager = a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		var page, err = pager.NextPage(ctx)
		if err != nil {
			return markExpired(err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.HasSuffix(*item.Name, "/") {
				continue // Ignore directory-like objects
			}
			var modTime time.Time
			if item.Properties != nil && item.Properties.LastModified != nil {
				modTime = *item.Properties.LastModified
			}
			if err := callback(strings.TrimPrefix(*item.Name, prefix), modTime); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *storeBase) Remove(ctx context.Context, path string) error {
	var _, err = a.client.DeleteBlob(ctx, a.container, a.blobName(path), nil)
	return markExpired(err)
}

func (a *storeBase) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err,
		bloberror.ContainerNotFound,
		bloberror.ContainerDisabled,
		bloberror.AccountIsDisabled,
		bloberror.AuthorizationFailure,
	) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden
}

func (a *storeBase) blobName(path string) string {
	return common.JoinPath(a.prefix, path)
}

func markExpired(err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.InvalidAuthenticationInfo) {
		return errors.Join(stores.ErrAuthExpired, err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusUnauthorized {
		return errors.Join(stores.ErrAuthExpired, err)
	}
	return err
}

func azureStorageURL(storageAccount string, blobDomain string) string {
	return fmt.Sprintf("https://%s.%s/", storageAccount, blobDomain)
}

func blobDomain(args StoreQueryArgs, env func(string) string) string {
	if args.BlobDomain != "" {
		return args.BlobDomain
	} else if d := env("AZURE_BLOB_DOMAIN"); d != "" {
		return d
	}
	return "blob.core.windows.net"
}

// splitPrefix returns the blob prefix of an azure://container/prefix/ URL.
func splitPrefix(u *url.URL) string {
	return strings.TrimPrefix(u.Path, "/")
}
