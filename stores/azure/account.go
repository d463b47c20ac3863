package azure

import (
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
)

// NewAccount creates a new Azure Store authenticated by the shared key of
// AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY, from a URL of the form
// azure://container/prefix/.
func NewAccount(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var storageAccount = os.Getenv("AZURE_ACCOUNT_NAME")
	var accountKey = os.Getenv("AZURE_ACCOUNT_KEY")

	if storageAccount == "" || accountKey == "" {
		return nil, fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")
	}
	var domain = blobDomain(args, os.Getenv)

	credentials, err := azblob.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}
	client, err := azblob.NewClientWithSharedKeyCredential(azureStorageURL(storageAccount, domain), credentials, nil)
	if err != nil {
		return nil, err
	}

	var store = &storeBase{
		provider:       "azure",
		storageAccount: storageAccount,
		blobDomain:     domain,
		container:      ep.Host,
		prefix:         splitPrefix(ep),
		client:         client,
	}

	log.WithFields(log.Fields{
		"storageAccount": storageAccount,
		"blobDomain":     domain,
		"container":      store.container,
		"prefix":         store.prefix,
	}).Info("constructed new Azure Shared Key storage client")

	return store, nil
}
