package azure

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/common"
)

// NewAD creates a new Azure Store authenticated as the service principal of
// AZURE_CLIENT_ID and AZURE_CLIENT_SECRET, from a URL of the form
// azure-ad://tenant-id/storage-account/container/prefix/.
func NewAD(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var path = strings.SplitN(strings.TrimPrefix(ep.Path, "/"), "/", 3)
	if len(path) < 3 || path[0] == "" || path[1] == "" {
		return nil, fmt.Errorf("azure-ad:// URL must include storage account and container: azure-ad://tenant-id/storage-account/container/prefix/")
	}

	var tenantID = ep.Host
	var storageAccount, container, prefix = path[0], path[1], path[2]

	var clientID = os.Getenv("AZURE_CLIENT_ID")
	var clientSecret = os.Getenv("AZURE_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set for azure-ad:// URLs")
	}
	var domain = blobDomain(args, os.Getenv)

	// The credential caches and refreshes its access tokens internally.
	var credentials, err = azidentity.NewClientSecretCredential(
		tenantID,
		clientID,
		clientSecret,
		&azidentity.ClientSecretCredentialOptions{
			DisableInstanceDiscovery: true,
		},
	)
	if err != nil {
		return nil, err
	}
	client, err := azblob.NewClient(azureStorageURL(storageAccount, domain), credentials, nil)
	if err != nil {
		return nil, err
	}

	var store = &storeBase{
		provider:       "azure-ad",
		storageAccount: storageAccount,
		blobDomain:     domain,
		container:      container,
		prefix:         prefix,
		client:         client,
	}

	log.WithFields(log.Fields{
		"tenant":         tenantID,
		"storageAccount": storageAccount,
		"blobDomain":     domain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed new Azure AD storage client")

	return store, nil
}
