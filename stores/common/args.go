// Package common holds helpers shared by the store backends.
package common

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/schema"
)

// ParseStoreArgs decodes the query arguments of store URL |ep| into |args|,
// which is a pointer to a struct having `schema` field tags.
// Unknown arguments are an error.
func ParseStoreArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return fmt.Errorf("parsing store URL arguments: %s", err)
	}
	return nil
}

// JoinPath appends object |path| to store |prefix|, which is either empty or
// ends in '/'. Leading slashes of |path| are dropped.
func JoinPath(prefix, path string) string {
	return prefix + strings.TrimLeft(path, "/")
}
