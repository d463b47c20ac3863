// Package credentials supplies bearer credentials to remote stores which
// authenticate each request, such as the Microsoft Graph drive store.
//
// A Provider never refreshes on its own initiative in response to a rejected
// request: callers observing an expired credential call Refresh, and then
// retry their request once.
package credentials

import (
	"context"
	"errors"
)

// Provider supplies bearer credentials.
type Provider interface {
	// AuthHeaders returns HTTP headers which authenticate a request,
	// typically a single "Authorization: Bearer <token>" header.
	AuthHeaders(ctx context.Context) (map[string]string, error)
	// Refresh attempts to obtain a new access token, returning whether a
	// new token was obtained.
	Refresh(ctx context.Context) (bool, error)
	// HasToken is true if the Provider currently holds a token.
	HasToken() bool
}

// ErrNoToken is returned by AuthHeaders of a Provider holding no token.
var ErrNoToken = errors.New("no access token is available")

// Static is a Provider of a fixed bearer token, which cannot be refreshed.
type Static struct {
	Token string
}

// AuthHeaders returns the static Authorization header.
func (s Static) AuthHeaders(context.Context) (map[string]string, error) {
	if s.Token == "" {
		return nil, ErrNoToken
	}
	return map[string]string{"Authorization": "Bearer " + s.Token}, nil
}

// Refresh is a no-op which returns false.
func (s Static) Refresh(context.Context) (bool, error) { return false, nil }

// HasToken is true if Token is non-empty.
func (s Static) HasToken() bool { return s.Token != "" }
