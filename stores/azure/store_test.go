package azure

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/require"
	"github.com/tesouraria/brkmon/stores"
)

func TestAzureStoreIsAuthError(t *testing.T) {
	var store = &storeBase{}

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ContainerNotFound", respErr("ContainerNotFound", http.StatusNotFound), true},
		{"ContainerDisabled", respErr("ContainerDisabled", http.StatusForbidden), true},
		{"AccountIsDisabled", respErr("AccountIsDisabled", http.StatusForbidden), true},
		{"other 403", respErr("OtherError", http.StatusForbidden), true},
		{"401 is not authorization", respErr("InvalidCredentials", http.StatusUnauthorized), false},
		{"BlobNotFound", respErr("BlobNotFound", http.StatusNotFound), false},
		{"generic", errors.New("timeout"), false},
		{"nil", nil, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, store.IsAuthError(test.err))
		})
	}
}

func TestMarkExpired(t *testing.T) {
	require.NoError(t, markExpired(nil))
	require.ErrorIs(t, markExpired(respErr("AuthenticationFailed", http.StatusForbidden)), stores.ErrAuthExpired)
	require.ErrorIs(t, markExpired(respErr("Whatever", http.StatusUnauthorized)), stores.ErrAuthExpired)
	require.NotErrorIs(t, markExpired(respErr("ContainerNotFound", http.StatusNotFound)), stores.ErrAuthExpired)
}

func TestBlobDomain(t *testing.T) {
	var env = map[string]string{}
	var getenv = func(k string) string { return env[k] }

	require.Equal(t, "blob.core.windows.net", blobDomain(StoreQueryArgs{}, getenv))
	env["AZURE_BLOB_DOMAIN"] = "blob.core.chinacloudapi.cn"
	require.Equal(t, "blob.core.chinacloudapi.cn", blobDomain(StoreQueryArgs{}, getenv))
	require.Equal(t, "example.test", blobDomain(StoreQueryArgs{BlobDomain: "example.test"}, getenv))
}

func TestConstructorValidation(t *testing.T) {
	t.Setenv("AZURE_ACCOUNT_NAME", "")
	t.Setenv("AZURE_ACCOUNT_KEY", "")
	t.Setenv("AZURE_CLIENT_ID", "")
	t.Setenv("AZURE_CLIENT_SECRET", "")

	var u, _ = url.Parse("azure://container/prefix/")
	var _, err = NewAccount(u)
	require.EqualError(t, err, "AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")

	u, _ = url.Parse("azure-ad://tenant/account/")
	_, err = NewAD(u)
	require.ErrorContains(t, err, "must include storage account and container")

	u, _ = url.Parse("azure-ad://tenant/account/container/prefix/")
	_, err = NewAD(u)
	require.EqualError(t, err, "AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set for azure-ad:// URLs")

	u, _ = url.Parse("azure://container/prefix/?bogus=1")
	_, err = NewAccount(u)
	require.ErrorContains(t, err, "parsing store URL arguments")
}

func respErr(code string, status int) error {
	return &azcore.ResponseError{ErrorCode: code, StatusCode: status}
}
