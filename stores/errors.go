package stores

import (
	"errors"
	"fmt"
)

// ErrAuthExpired is returned when the remote store rejected the bearer
// credentials of a request (HTTP 401). Callers may refresh credentials and
// retry the operation once.
var ErrAuthExpired = errors.New("remote store credentials expired")

// TransientIOError is a network or remote-store failure which is not an
// expiry of credentials. The operation may succeed if attempted later.
type TransientIOError struct {
	Op   string // Operation which failed: "exists", "download" or "upload".
	Path string // Endpoint and name of the object.
	// AuthZ is true if the backend classified the failure as a lack of
	// permissions (as opposed to expired credentials).
	AuthZ bool
	Err   error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }
